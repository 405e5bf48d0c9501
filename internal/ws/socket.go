package ws

import (
    "sync"

    "github.com/gin-gonic/gin"
    socketio "github.com/googollee/go-socket.io"
    "github.com/kiliankoe/storyduel/internal/game"
    "github.com/kiliankoe/storyduel/internal/gateway"
    "github.com/rs/zerolog/log"
)

// socketConn adapts a Socket.IO connection to gateway.Conn. Emit blocks on
// the engine's writer, so events go through a queue drained by pump.
type socketConn struct {
    s         socketio.Conn
    queue     *gateway.Queue
    closeOnce sync.Once
}

func newSocketConn(s socketio.Conn, size int) *socketConn {
    c := &socketConn{s: s, queue: gateway.NewQueue(size)}
    go c.pump()
    return c
}

func (c *socketConn) ID() string { return "sio-" + c.s.ID() }

func (c *socketConn) Send(event string, payload any) bool {
    return c.queue.Push(event, payload)
}

func (c *socketConn) Close() error {
    var err error
    c.closeOnce.Do(func() {
        c.queue.Close()
        err = c.s.Close()
    })
    return err
}

func (c *socketConn) pump() {
    for out := range c.queue.C() {
        c.s.Emit(out.Event, out.Payload)
    }
}

func connOf(s socketio.Conn) *socketConn {
    c, _ := s.Context().(*socketConn)
    return c
}

// Mount attaches the Socket.IO server and the /ws endpoint to the given Gin
// engine. Socket.IO event names match the action and event names of the
// game protocol.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
    io := socketio.NewServer(nil)
    srv.io = io

    io.OnConnect("/", func(s socketio.Conn) error {
        s.SetContext(newSocketConn(s, srv.cfg.QueueSize))
        log.Info().Str("sid", s.ID()).Msg("socket connected")
        return nil
    })

    io.OnEvent("/", game.ActionJoinRoom, func(s socketio.Conn, req gateway.JoinRequest) map[string]any {
        c := connOf(s)
        if c == nil {
            return ack(gateway.ErrNotAttached)
        }
        room, playerID, err := srv.gw.Attach(c, req)
        if err != nil {
            return ack(err)
        }
        out := ack(nil)
        out["roomCode"] = room.Code
        out["playerId"] = playerID
        return out
    })

    io.OnEvent("/", game.ActionStartGame, func(s socketio.Conn, req game.StartRequest) map[string]any {
        return srv.route(s, func(c gateway.Conn) error { return srv.gw.StartGame(c, req) })
    })

    io.OnEvent("/", game.ActionSubmitStory, func(s socketio.Conn, req gateway.SubmitRequest) map[string]any {
        return srv.route(s, func(c gateway.Conn) error { return srv.gw.Submit(c, req) })
    })

    io.OnEvent("/", game.ActionJudgeStories, func(s socketio.Conn) map[string]any {
        return srv.route(s, srv.gw.Judge)
    })

    io.OnEvent("/", game.ActionNextRound, func(s socketio.Conn) map[string]any {
        return srv.route(s, srv.gw.NextRound)
    })

    io.OnError("/", func(s socketio.Conn, e error) {
        if s == nil {
            log.Error().Err(e).Msg("socket error")
            return
        }
        log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
    })

    io.OnDisconnect("/", func(s socketio.Conn, reason string) {
        if c := connOf(s); c != nil {
            srv.gw.Detach(c)
            c.queue.Close()
        }
        log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
    })

    go func() {
        if err := io.Serve(); err != nil {
            log.Error().Err(err).Msg("socket.io server stopped")
        }
    }()

    r.GET("/socket.io/*any", gin.WrapH(io))
    r.POST("/socket.io/*any", gin.WrapH(io))
    r.GET("/ws", srv.serveWS)

    return io
}

func (srv *Server) route(s socketio.Conn, fn func(gateway.Conn) error) map[string]any {
    c := connOf(s)
    if c == nil {
        return ack(gateway.ErrNotAttached)
    }
    return ack(fn(c))
}
