package game

import (
    "errors"
    "math/rand"
    "sort"
    "strings"
    "sync"
    "time"

    "github.com/jonboulle/clockwork"
    "github.com/rs/zerolog/log"
)

var (
    ErrRoomNotFound      = errors.New("room not found")
    ErrInvalidCode       = errors.New("invalid room code")
    ErrRoomFull          = errors.New("room is full")
    ErrRoomClosed        = errors.New("room is closed")
    ErrInvalidPhase      = errors.New("invalid phase for action")
    ErrNotEnoughPlayers  = errors.New("exactly two players are needed to start")
    ErrEmptyName         = errors.New("player name is required")
    ErrNameTooLong       = errors.New("player name is too long")
    ErrAlreadyJoined     = errors.New("player already in room")
    ErrNotInRoom         = errors.New("player is not in this room")
    ErrPromptTooLong     = errors.New("custom prompt is too long")
    ErrEmptyStory        = errors.New("story is empty")
    ErrStoryTooLong      = errors.New("story is too long")
    ErrTimeUp            = errors.New("time is up")
    ErrJudgingInProgress = errors.New("judging already in progress")
    ErrInternal          = errors.New("internal room error")
)

const (
    codeLength   = 5
    codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// Options carries the collaborators every room is built with.
type Options struct {
    Oracle           Oracle
    Prompts          PromptSource
    Recorder         Recorder
    Clock            clockwork.Clock
    DefaultTimeLimit int
    AutoJudge        bool
}

// RoomManager is the registry of live rooms.
type RoomManager struct {
    mu    sync.RWMutex
    rooms map[string]*Room

    opts        Options
    broadcaster Broadcaster
    rng         *rand.Rand
}

func NewRoomManager(opts Options) *RoomManager {
    if opts.Clock == nil {
        opts.Clock = clockwork.NewRealClock()
    }
    if opts.DefaultTimeLimit <= 0 {
        opts.DefaultTimeLimit = 120
    }
    return &RoomManager{
        rooms: make(map[string]*Room),
        opts:  opts,
        rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
    }
}

// SetBroadcaster wires the event fan-out. Rooms created before the call keep
// the broadcaster they were created with.
func (rm *RoomManager) SetBroadcaster(b Broadcaster) {
    rm.mu.Lock()
    defer rm.mu.Unlock()
    rm.broadcaster = b
}

// Create registers a new room in the lobby phase under a fresh code.
func (rm *RoomManager) Create(isPublic bool) *Room {
    rm.mu.Lock()
    defer rm.mu.Unlock()

    code := rm.randomCode()
    for rm.rooms[code] != nil {
        code = rm.randomCode()
    }
    r := newRoom(code, isPublic, rm.opts, rm.broadcaster, rm.drop)
    rm.rooms[code] = r
    log.Info().Str("code", code).Bool("public", isPublic).Msg("room created")
    return r
}

// Find looks a room up by code, ignoring case and surrounding spaces.
func (rm *RoomManager) Find(code string) (*Room, error) {
    code, err := NormalizeCode(code)
    if err != nil {
        return nil, err
    }
    rm.mu.RLock()
    defer rm.mu.RUnlock()
    r := rm.rooms[code]
    if r == nil {
        return nil, ErrRoomNotFound
    }
    return r, nil
}

// ListPublic summarizes every public room, ordered by code. Each summary is
// taken through the room's actor, so it reflects the state at query time.
func (rm *RoomManager) ListPublic() []Summary {
    out := []Summary{}
    for _, r := range rm.snapshot() {
        if !r.IsPublic {
            continue
        }
        s, err := r.Summary()
        if err != nil {
            continue
        }
        out = append(out, s)
    }
    sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
    return out
}

// Remove deletes a room and stops its actor and timer. Removed codes are never
// found again.
func (rm *RoomManager) Remove(code string) {
    code, err := NormalizeCode(code)
    if err != nil {
        return
    }
    rm.remove(code)
}

func (rm *RoomManager) remove(code string) {
    rm.mu.Lock()
    r := rm.rooms[code]
    delete(rm.rooms, code)
    rm.mu.Unlock()
    if r != nil {
        r.Close()
        log.Info().Str("code", code).Msg("room removed")
    }
}

// Reap removes rooms that have had no players for longer than idle and
// returns how many were removed.
func (rm *RoomManager) Reap(now time.Time, idle time.Duration) int {
    n := 0
    for _, r := range rm.snapshot() {
        if r.reapIfIdle(now, idle) {
            rm.drop(r)
            n++
        }
    }
    return n
}

func (rm *RoomManager) Len() int {
    rm.mu.RLock()
    defer rm.mu.RUnlock()
    return len(rm.rooms)
}

// drop removes r only if its code still maps to it.
func (rm *RoomManager) drop(r *Room) {
    rm.mu.Lock()
    if rm.rooms[r.Code] != r {
        rm.mu.Unlock()
        r.Close()
        return
    }
    delete(rm.rooms, r.Code)
    rm.mu.Unlock()
    r.Close()
    log.Info().Str("code", r.Code).Msg("room removed")
}

// Close removes every room.
func (rm *RoomManager) Close() {
    for _, r := range rm.snapshot() {
        rm.drop(r)
    }
}

func (rm *RoomManager) snapshot() []*Room {
    rm.mu.RLock()
    defer rm.mu.RUnlock()
    out := make([]*Room, 0, len(rm.rooms))
    for _, r := range rm.rooms {
        out = append(out, r)
    }
    return out
}

// NormalizeCode upper-cases and validates a user-typed room code.
func NormalizeCode(code string) (string, error) {
    code = strings.ToUpper(strings.TrimSpace(code))
    if len(code) != codeLength {
        return "", ErrInvalidCode
    }
    for _, c := range code {
        if !strings.ContainsRune(codeAlphabet, c) {
            return "", ErrInvalidCode
        }
    }
    return code, nil
}

// randomCode must be called with rm.mu held.
func (rm *RoomManager) randomCode() string {
    b := make([]byte, codeLength)
    for i := range b {
        b[i] = codeAlphabet[rm.rng.Intn(len(codeAlphabet))]
    }
    return string(b)
}
