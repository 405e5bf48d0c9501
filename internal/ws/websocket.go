package ws

import (
    "encoding/json"
    "errors"
    "sync"
    "time"

    "github.com/gin-gonic/gin"
    "github.com/google/uuid"
    "github.com/gorilla/websocket"
    "github.com/kiliankoe/storyduel/internal/game"
    "github.com/kiliankoe/storyduel/internal/gateway"
    "github.com/rs/zerolog/log"
)

var ErrUnknownAction = errors.New("unknown action")

// Envelope is the frame exchanged on /ws. Type carries an action name from
// the client and an event name from the server.
type Envelope struct {
    Type string          `json:"type"`
    Data json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
    Type string `json:"type"`
    Data any    `json:"data"`
}

type wsConn struct {
    id        string
    conn      *websocket.Conn
    queue     *gateway.Queue
    closeOnce sync.Once
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(event string, payload any) bool {
    return c.queue.Push(event, payload)
}

func (c *wsConn) Close() error {
    var err error
    c.closeOnce.Do(func() {
        c.queue.Close()
        err = c.conn.Close()
    })
    return err
}

func (srv *Server) serveWS(ctx *gin.Context) {
    conn, err := srv.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
    if err != nil {
        log.Warn().Err(err).Msg("websocket upgrade failed")
        return
    }
    c := &wsConn{
        id:    "ws-" + uuid.NewString(),
        conn:  conn,
        queue: gateway.NewQueue(srv.cfg.QueueSize),
    }
    log.Info().Str("conn", c.id).Str("remote", conn.RemoteAddr().String()).Msg("websocket connected")

    go srv.writePump(c)
    srv.readPump(c)
}

// readPump runs on the HTTP handler goroutine and owns the lifetime of the
// connection.
func (srv *Server) readPump(c *wsConn) {
    defer func() {
        srv.gw.Detach(c)
        c.Close()
        log.Info().Str("conn", c.id).Msg("websocket disconnected")
    }()

    c.conn.SetReadLimit(srv.cfg.MaxMessageSize)
    c.conn.SetReadDeadline(time.Now().Add(srv.cfg.ReadTimeout))
    c.conn.SetPongHandler(func(string) error {
        c.conn.SetReadDeadline(time.Now().Add(srv.cfg.ReadTimeout))
        return nil
    })

    for {
        _, message, err := c.conn.ReadMessage()
        if err != nil {
            if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
                log.Warn().Err(err).Str("conn", c.id).Msg("unexpected websocket close")
            }
            return
        }
        c.conn.SetReadDeadline(time.Now().Add(srv.cfg.ReadTimeout))

        var env Envelope
        if err := json.Unmarshal(message, &env); err != nil {
            c.Send(game.EventError, game.ErrorPayload{Message: "malformed message", Code: "bad_request"})
            continue
        }
        srv.dispatch(c, env)
    }
}

func (srv *Server) writePump(c *wsConn) {
    ticker := time.NewTicker(srv.cfg.PingInterval)
    defer func() {
        ticker.Stop()
        c.Close()
    }()

    for {
        select {
        case out, ok := <-c.queue.C():
            c.conn.SetWriteDeadline(time.Now().Add(srv.cfg.WriteTimeout))
            if !ok {
                _ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
                return
            }
            if err := c.conn.WriteJSON(outbound{Type: out.Event, Data: out.Payload}); err != nil {
                log.Debug().Err(err).Str("conn", c.id).Msg("failed to write message")
                return
            }
        case <-ticker.C:
            c.conn.SetWriteDeadline(time.Now().Add(srv.cfg.WriteTimeout))
            if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
                log.Debug().Err(err).Str("conn", c.id).Msg("failed to send ping")
                return
            }
        }
    }
}

// dispatch decodes one client action and routes it to the gateway, which
// reports failures back to the connection as error events.
func (srv *Server) dispatch(c gateway.Conn, env Envelope) {
    switch env.Type {
    case game.ActionJoinRoom:
        var req gateway.JoinRequest
        if !decode(c, env, &req) {
            return
        }
        srv.gw.Attach(c, req)
    case game.ActionStartGame:
        var req game.StartRequest
        if !decode(c, env, &req) {
            return
        }
        srv.gw.StartGame(c, req)
    case game.ActionSubmitStory:
        var req gateway.SubmitRequest
        if !decode(c, env, &req) {
            return
        }
        srv.gw.Submit(c, req)
    case game.ActionJudgeStories:
        srv.gw.Judge(c)
    case game.ActionNextRound:
        srv.gw.NextRound(c)
    default:
        c.Send(game.EventError, game.ErrorPayload{Message: ErrUnknownAction.Error() + ": " + env.Type, Code: "bad_request"})
    }
}

// decode unmarshals the envelope data into v. Missing data leaves v zero.
func decode(c gateway.Conn, env Envelope, v any) bool {
    if len(env.Data) == 0 || string(env.Data) == "null" {
        return true
    }
    if err := json.Unmarshal(env.Data, v); err != nil {
        c.Send(game.EventError, game.ErrorPayload{Message: "malformed " + env.Type + " payload", Code: "bad_request"})
        return false
    }
    return true
}
