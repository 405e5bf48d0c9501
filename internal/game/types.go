package game

import (
    "context"
    "time"
)

type Phase string

const (
    PhaseLobby   Phase = "lobby"
    PhaseWriting Phase = "writing"
    PhaseJudging Phase = "judging"
    PhaseResults Phase = "results"
)

// transitions lists the phases reachable from each phase. Returning to lobby
// from writing or judging only happens when a round is abandoned.
var transitions = map[Phase][]Phase{
    PhaseLobby:   {PhaseWriting},
    PhaseWriting: {PhaseJudging, PhaseLobby},
    PhaseJudging: {PhaseResults, PhaseLobby},
    PhaseResults: {PhaseLobby, PhaseWriting},
}

func (p Phase) CanTransitionTo(target Phase) bool {
    for _, next := range transitions[p] {
        if next == target {
            return true
        }
    }
    return false
}

const (
    MaxPlayers      = 2
    MaxNameLength   = 32
    MaxPromptLength = 500
    MaxStoryLength  = 2000
)

// AllowedTimeLimits are the writing phase durations a round may use, in seconds.
var AllowedTimeLimits = []int{60, 120, 180, 300, 600}

// ClampTimeLimit maps a requested limit onto AllowedTimeLimits. Zero or negative
// requests use fallback; anything else snaps to the nearest allowed value, ties
// going to the longer one.
func ClampTimeLimit(requested, fallback int) int {
    if requested <= 0 {
        requested = fallback
    }
    best := AllowedTimeLimits[0]
    for _, v := range AllowedTimeLimits {
        if abs(v-requested) <= abs(best-requested) {
            best = v
        }
    }
    return best
}

func abs(n int) int {
    if n < 0 {
        return -n
    }
    return n
}

type Player struct {
    ID       string    `json:"id"`
    Name     string    `json:"name"`
    Score    int       `json:"score"`
    JoinedAt time.Time `json:"joinedAt"`
}

type RoundResult struct {
    PlayerID   string `json:"playerId"`
    PlayerName string `json:"playerName"`
    Survived   bool   `json:"survived"`
    Reasoning  string `json:"reasoning"`
    Forfeit    bool   `json:"forfeit,omitempty"`
}

type StartRequest struct {
    CustomPrompt string `json:"customPrompt"`
    TimeLimit    int    `json:"timeLimit"`
}

// Story is one player's submission as handed to the judge.
type Story struct {
    PlayerID   string `json:"playerId"`
    PlayerName string `json:"playerName"`
    Text       string `json:"text"`
}

type Verdict struct {
    PlayerID  string `json:"playerId"`
    Survived  bool   `json:"survived"`
    Reasoning string `json:"reasoning"`
}

// Oracle judges a round. It only ever sees players that actually submitted.
type Oracle interface {
    Judge(ctx context.Context, prompt string, stories []Story) ([]Verdict, error)
}

// PromptSource supplies preset scenarios when no custom prompt is given.
type PromptSource interface {
    Random() string
}

// RoundRecord describes a finished round.
type RoundRecord struct {
    RoomCode   string        `json:"roomCode"`
    Round      int           `json:"round"`
    Prompt     string        `json:"prompt"`
    TimeLimit  int           `json:"timeLimit"`
    Stories    []Story       `json:"stories"`
    Results    []RoundResult `json:"results"`
    Players    []Player      `json:"players"`
    JudgeError string        `json:"judgeError,omitempty"`
    FinishedAt time.Time     `json:"finishedAt"`
}

// Recorder receives every finished round. Failures are logged, never fatal.
type Recorder interface {
    Record(ctx context.Context, rec RoundRecord) error
}

// State is a point-in-time copy of a room.
type State struct {
    Code          string            `json:"roomCode"`
    IsPublic      bool              `json:"isPublic"`
    Phase         Phase             `json:"gamePhase"`
    Players       []Player          `json:"players"`
    Prompt        string            `json:"prompt"`
    TimeLimit     int               `json:"timeLimit"`
    TimeRemaining int               `json:"timeRemaining"`
    Round         int               `json:"round"`
    Submissions   map[string]string `json:"-"`
    Results       []RoundResult     `json:"results"`
    Judging       bool              `json:"judging"`
}

type Summary struct {
    Code        string `json:"roomCode"`
    PlayerCount int    `json:"playerCount"`
    Phase       Phase  `json:"gamePhase"`
    IsPublic    bool   `json:"isPublic"`
}
