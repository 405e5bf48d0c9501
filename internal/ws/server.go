package ws

import (
    "net/http"
    "time"

    socketio "github.com/googollee/go-socket.io"
    "github.com/gorilla/websocket"
    "github.com/kiliankoe/storyduel/internal/gateway"
)

// Config holds connection settings shared by both transports.
type Config struct {
    WriteTimeout   time.Duration
    ReadTimeout    time.Duration
    PingInterval   time.Duration
    MaxMessageSize int64
    QueueSize      int
    CheckOrigin    func(r *http.Request) bool
}

func DefaultConfig() Config {
    return Config{
        WriteTimeout:   10 * time.Second,
        ReadTimeout:    60 * time.Second,
        PingInterval:   30 * time.Second,
        MaxMessageSize: 16 * 1024,
        QueueSize:      gateway.DefaultQueueSize,
        CheckOrigin:    func(r *http.Request) bool { return true },
    }
}

// Server exposes the gateway over Socket.IO and plain WebSocket.
type Server struct {
    gw       *gateway.Gateway
    cfg      Config
    upgrader websocket.Upgrader
    io       *socketio.Server
}

func New(gw *gateway.Gateway, cfg Config) *Server {
    def := DefaultConfig()
    if cfg.WriteTimeout <= 0 {
        cfg.WriteTimeout = def.WriteTimeout
    }
    if cfg.ReadTimeout <= 0 {
        cfg.ReadTimeout = def.ReadTimeout
    }
    if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.ReadTimeout {
        cfg.PingInterval = cfg.ReadTimeout * 9 / 10
    }
    if cfg.MaxMessageSize <= 0 {
        cfg.MaxMessageSize = def.MaxMessageSize
    }
    if cfg.CheckOrigin == nil {
        cfg.CheckOrigin = def.CheckOrigin
    }
    return &Server{
        gw:  gw,
        cfg: cfg,
        upgrader: websocket.Upgrader{
            ReadBufferSize:  1024,
            WriteBufferSize: 1024,
            CheckOrigin:     cfg.CheckOrigin,
        },
    }
}

// Close shuts the Socket.IO server down. WebSocket connections end with the
// HTTP server.
func (srv *Server) Close() error {
    if srv.io == nil {
        return nil
    }
    return srv.io.Close()
}

// ack is the acknowledgement returned to Socket.IO callers.
func ack(err error) map[string]any {
    if err != nil {
        return map[string]any{"ok": false, "error": err.Error(), "code": gateway.ErrorCode(err)}
    }
    return map[string]any{"ok": true}
}
