package gateway

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/kiliankoe/storyduel/internal/game"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotAttached     = errors.New("connection has not joined a room")
	ErrAlreadyAttached = errors.New("connection already joined a room")
	ErrRateLimited     = errors.New("too many actions, slow down")
)

// Conn is one transport-level client connection. Send must not block: it
// queues the event and reports false when the connection cannot keep up.
type Conn interface {
	ID() string
	Send(event string, payload any) bool
	Close() error
}

type JoinRequest struct {
	PlayerName string `json:"playerName"`
	RoomCode   string `json:"roomCode,omitempty"`
	IsPublic   bool   `json:"isPublic"`
}

type SubmitRequest struct {
	Story string `json:"story"`
}

// binding receives room events only once the room has accepted the player,
// which the room signals with the player's own roomJoined event.
type binding struct {
	conn     Conn
	room     *game.Room
	playerID string
	joined   atomic.Bool
}

// Gateway binds connections to (room, player) identities, routes their
// actions into the room and fans room events back out.
type Gateway struct {
	rm      *game.RoomManager
	limiter *RateLimiter

	mu     sync.RWMutex
	byConn map[string]*binding
	byRoom map[string]map[string]*binding // room code -> player id -> binding
}

func New(rm *game.RoomManager, limiter *RateLimiter) *Gateway {
	g := &Gateway{
		rm:      rm,
		limiter: limiter,
		byConn:  make(map[string]*binding),
		byRoom:  make(map[string]map[string]*binding),
	}
	rm.SetBroadcaster(g)
	return g
}

// Attach resolves or creates the requested room and joins the connection to
// it as a new player.
func (g *Gateway) Attach(c Conn, req JoinRequest) (*game.Room, string, error) {
	room, playerID, err := g.attach(c, req)
	if err != nil {
		g.reportError(c, err)
	}
	return room, playerID, err
}

func (g *Gateway) attach(c Conn, req JoinRequest) (*game.Room, string, error) {
	if !g.limiter.Allow(c.ID()) {
		return nil, "", ErrRateLimited
	}
	name := strings.TrimSpace(req.PlayerName)
	if name == "" {
		return nil, "", game.ErrEmptyName
	}
	if g.lookup(c) != nil {
		return nil, "", ErrAlreadyAttached
	}

	var (
		room    *game.Room
		created bool
		err     error
	)
	if strings.TrimSpace(req.RoomCode) != "" {
		room, err = g.rm.Find(req.RoomCode)
		if err != nil {
			return nil, "", err
		}
	} else {
		room = g.rm.Create(req.IsPublic)
		created = true
	}

	b := &binding{conn: c, room: room, playerID: uuid.NewString()}
	if !g.bind(b) {
		if created {
			g.rm.Remove(room.Code)
		}
		return nil, "", ErrAlreadyAttached
	}
	if err := room.Join(b.playerID, name); err != nil {
		g.unbind(c.ID())
		if created {
			g.rm.Remove(room.Code)
		}
		return nil, "", err
	}
	log.Info().Str("conn", c.ID()).Str("code", room.Code).Str("playerId", b.playerID).Msg("connection attached")
	return room, b.playerID, nil
}

func (g *Gateway) StartGame(c Conn, req game.StartRequest) error {
	return g.route(c, func(b *binding) error { return b.room.StartGame(b.playerID, req) })
}

func (g *Gateway) Submit(c Conn, req SubmitRequest) error {
	return g.route(c, func(b *binding) error { return b.room.Submit(b.playerID, req.Story) })
}

func (g *Gateway) Judge(c Conn) error {
	return g.route(c, func(b *binding) error { return b.room.Judge(b.playerID) })
}

func (g *Gateway) NextRound(c Conn) error {
	return g.route(c, func(b *binding) error { return b.room.NextRound(b.playerID) })
}

// Detach unbinds a closed connection and removes its player from the room.
func (g *Gateway) Detach(c Conn) {
	g.limiter.Forget(c.ID())
	b := g.unbind(c.ID())
	if b == nil {
		return
	}
	if err := b.room.Leave(b.playerID); err != nil && !errors.Is(err, game.ErrRoomClosed) && !errors.Is(err, game.ErrNotInRoom) {
		log.Error().Err(err).Str("code", b.room.Code).Str("playerId", b.playerID).Msg("leave failed")
	}
	log.Info().Str("conn", c.ID()).Str("code", b.room.Code).Str("playerId", b.playerID).Msg("connection detached")
}

func (g *Gateway) route(c Conn, fn func(*binding) error) error {
	var err error
	switch b := g.lookup(c); {
	case b == nil:
		err = ErrNotAttached
	case !g.limiter.Allow(c.ID()):
		err = ErrRateLimited
	default:
		err = fn(b)
	}
	if err != nil {
		g.reportError(c, err)
	}
	return err
}

// Broadcast implements game.Broadcaster. It is called from a room's actor, so
// events of one room are queued to every connection in production order.
func (g *Gateway) Broadcast(code string, ev game.Event) {
	g.mu.RLock()
	targets := make([]*binding, 0, 2)
	for playerID, b := range g.byRoom[code] {
		if ev.To != "" && playerID != ev.To {
			continue
		}
		if ev.Except != "" && playerID == ev.Except {
			continue
		}
		if !b.joined.Load() {
			if ev.To != playerID {
				continue
			}
			if ev.Name == game.EventRoomJoined {
				b.joined.Store(true)
			}
		}
		targets = append(targets, b)
	}
	g.mu.RUnlock()

	for _, b := range targets {
		if !b.conn.Send(ev.Name, ev.Payload) {
			log.Warn().Str("conn", b.conn.ID()).Str("code", code).Str("event", ev.Name).Msg("send queue full, closing connection")
			go b.conn.Close()
		}
	}
}

// Connections returns how many connections are bound to a room.
func (g *Gateway) Connections() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byConn)
}

func (g *Gateway) reportError(c Conn, err error) {
	log.Debug().Err(err).Str("conn", c.ID()).Msg("action rejected")
	c.Send(game.EventError, game.ErrorPayload{Message: err.Error(), Code: ErrorCode(err)})
}

func (g *Gateway) lookup(c Conn) *binding {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.byConn[c.ID()]
}

func (g *Gateway) bind(b *binding) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.byConn[b.conn.ID()] != nil {
		return false
	}
	g.byConn[b.conn.ID()] = b
	if g.byRoom[b.room.Code] == nil {
		g.byRoom[b.room.Code] = make(map[string]*binding)
	}
	g.byRoom[b.room.Code][b.playerID] = b
	return true
}

func (g *Gateway) unbind(connID string) *binding {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.byConn[connID]
	if b == nil {
		return nil
	}
	delete(g.byConn, connID)
	if m := g.byRoom[b.room.Code]; m != nil {
		delete(m, b.playerID)
		if len(m) == 0 {
			delete(g.byRoom, b.room.Code)
		}
	}
	return b
}

// ErrorCode maps an action error onto the machine-readable code carried by
// error events.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, game.ErrEmptyName), errors.Is(err, game.ErrNameTooLong):
		return "invalid_name"
	case errors.Is(err, game.ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, game.ErrRoomNotFound), errors.Is(err, game.ErrRoomClosed):
		return "room_not_found"
	case errors.Is(err, game.ErrRoomFull):
		return "room_full"
	case errors.Is(err, game.ErrInvalidPhase):
		return "invalid_phase"
	case errors.Is(err, game.ErrNotEnoughPlayers):
		return "not_enough_players"
	case errors.Is(err, game.ErrTimeUp):
		return "time_up"
	case errors.Is(err, game.ErrJudgingInProgress):
		return "judging_in_progress"
	case errors.Is(err, game.ErrEmptyStory), errors.Is(err, game.ErrStoryTooLong), errors.Is(err, game.ErrPromptTooLong):
		return "invalid_input"
	case errors.Is(err, ErrNotAttached), errors.Is(err, game.ErrNotInRoom):
		return "not_in_room"
	case errors.Is(err, ErrAlreadyAttached), errors.Is(err, game.ErrAlreadyJoined):
		return "already_joined"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "bad_request"
	}
}
