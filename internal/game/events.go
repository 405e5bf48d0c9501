package game

// Outbound event names. They double as Socket.IO event names and as the
// "type" field of the WebSocket envelope.
const (
    EventRoomJoined          = "roomJoined"
    EventPlayerJoined        = "playerJoined"
    EventGameStarted         = "gameStarted"
    EventTimeUpdate          = "timeUpdate"
    EventTimeUp              = "timeUp"
    EventStorySubmitted      = "storySubmitted"
    EventAllStoriesSubmitted = "allStoriesSubmitted"
    EventJudgingStarted      = "judgingStarted"
    EventRoundResults        = "roundResults"
    EventPlayerLeft          = "playerLeft"
    EventNewRound            = "newRound"
    EventError               = "error"
)

// Inbound action names.
const (
    ActionJoinRoom     = "joinRoom"
    ActionStartGame    = "startGame"
    ActionSubmitStory  = "submitStory"
    ActionJudgeStories = "judgeStories"
    ActionNextRound    = "nextRound"
)

// Event is produced by a room and delivered by a Broadcaster. With To set only
// that player receives it; with Except set everyone but that player does.
type Event struct {
    Name    string
    Payload any
    To      string
    Except  string
}

// Broadcaster fans room events out to connections. Rooms call it from their
// actor goroutine, so per-room calls never overlap and arrive in order.
type Broadcaster interface {
    Broadcast(code string, ev Event)
}

type RoomJoinedPayload struct {
    RoomCode      string   `json:"roomCode"`
    PlayerID      string   `json:"playerId"`
    Players       []Player `json:"players"`
    GamePhase     Phase    `json:"gamePhase"`
    IsPublic      bool     `json:"isPublic"`
    Prompt        string   `json:"prompt,omitempty"`
    TimeLimit     int      `json:"timeLimit"`
    TimeRemaining int      `json:"timeRemaining"`
}

type PlayersPayload struct {
    Players []Player `json:"players"`
}

type PlayerLeftPayload struct {
    Players   []Player `json:"players"`
    GamePhase Phase    `json:"gamePhase"`
    Message   string   `json:"message,omitempty"`
}

type GameStartedPayload struct {
    Prompt        string `json:"prompt"`
    TimeLimit     int    `json:"timeLimit"`
    TimeRemaining int    `json:"timeRemaining"`
}

type TimeUpdatePayload struct {
    TimeRemaining int `json:"timeRemaining"`
}

type TimeUpPayload struct {
    GamePhase Phase `json:"gamePhase"`
}

type StorySubmittedPayload struct {
    PlayerID       string `json:"playerId"`
    TotalSubmitted int    `json:"totalSubmitted"`
    TotalPlayers   int    `json:"totalPlayers"`
}

type EmptyPayload struct{}

type RoundResultsPayload struct {
    Results []RoundResult `json:"results"`
    Players []Player      `json:"players"`
}

type NewRoundPayload struct {
    GamePhase Phase    `json:"gamePhase"`
    Players   []Player `json:"players"`
}

type ErrorPayload struct {
    Message string `json:"message"`
    Code    string `json:"code,omitempty"`
}
