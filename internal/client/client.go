package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/kiliankoe/storyduel/internal/game"
	"github.com/kiliankoe/storyduel/internal/gateway"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadySubmitted = errors.New("story already submitted or not accepting stories")
	ErrClosed           = errors.New("client closed")
)

// Event is one server event as received on the wire.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Client plays one seat over the /ws transport. Every received event is
// applied to the projection before it is published on Events.
type Client struct {
	conn *websocket.Conn
	proj *Projection

	events chan Event
	done   chan struct{}

	writeMu sync.Mutex
	errMu   sync.Mutex
	err     error
}

// Dial connects to a /ws endpoint, e.g. ws://localhost:8080/ws.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:   conn,
		proj:   NewProjection(),
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) Projection() *Projection { return c.proj }

// Events delivers received events. Events are dropped when nobody keeps up;
// the projection still sees all of them. The channel is closed when the
// connection ends.
func (c *Client) Events() <-chan Event { return c.events }

// Done is closed when the read loop stops.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the read loop.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)
	for {
		var ev Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.errMu.Lock()
				c.err = err
				c.errMu.Unlock()
			}
			return
		}
		if err := c.proj.Apply(ev.Type, ev.Data); err != nil {
			log.Warn().Err(err).Str("event", ev.Type).Msg("failed to apply event")
		}
		select {
		case c.events <- ev:
		default:
			log.Debug().Str("event", ev.Type).Msg("event channel full, dropping")
		}
	}
}

func (c *Client) send(action string, data any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(map[string]any{"type": action, "data": data})
}

func (c *Client) JoinRoom(name, code string, isPublic bool) error {
	return c.send(game.ActionJoinRoom, gateway.JoinRequest{PlayerName: name, RoomCode: code, IsPublic: isPublic})
}

func (c *Client) StartGame(customPrompt string, timeLimit int) error {
	return c.send(game.ActionStartGame, game.StartRequest{CustomPrompt: customPrompt, TimeLimit: timeLimit})
}

// SubmitStory sends a story once per round. A second call before the round
// changes returns ErrAlreadySubmitted without touching the network.
func (c *Client) SubmitStory(story string) error {
	if !c.proj.BeginSubmit() {
		return ErrAlreadySubmitted
	}
	if err := c.send(game.ActionSubmitStory, gateway.SubmitRequest{Story: story}); err != nil {
		c.proj.CancelSubmit()
		return err
	}
	return nil
}

func (c *Client) JudgeStories() error {
	return c.send(game.ActionJudgeStories, struct{}{})
}

func (c *Client) NextRound() error {
	return c.send(game.ActionNextRound, struct{}{})
}

// Close sends a close frame and tears the connection down.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}
