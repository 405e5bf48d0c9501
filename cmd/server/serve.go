package main

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "os/signal"
    "slices"
    "strings"
    "syscall"
    "time"

    "github.com/gin-gonic/gin"
    "github.com/jonboulle/clockwork"
    "github.com/kiliankoe/storyduel/internal/ai/ollama"
    "github.com/kiliankoe/storyduel/internal/ai/openai"
    "github.com/kiliankoe/storyduel/internal/config"
    "github.com/kiliankoe/storyduel/internal/game"
    "github.com/kiliankoe/storyduel/internal/gateway"
    "github.com/kiliankoe/storyduel/internal/judge"
    "github.com/kiliankoe/storyduel/internal/prompts"
    "github.com/kiliankoe/storyduel/internal/record"
    "github.com/kiliankoe/storyduel/internal/ws"
    staticserver "github.com/kiliankoe/storyduel/static"
    "github.com/rs/cors"
    "github.com/rs/zerolog/log"
    "github.com/skip2/go-qrcode"
    "golang.org/x/sync/errgroup"
)

const (
    shutdownTimeout = 10 * time.Second
    qrSize          = 320
)

func serve(parent context.Context, cfg *config.Config) error {
    if parent == nil {
        parent = context.Background()
    }
    ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    clock := clockwork.NewRealClock()

    catalog, err := prompts.Load(cfg.PromptsFile)
    if err != nil {
        return err
    }

    recorder, closeRecorder, err := newRecorder(cfg)
    if err != nil {
        return err
    }
    defer closeRecorder()

    rm := game.NewRoomManager(game.Options{
        Oracle:           newOracle(cfg, clock),
        Prompts:          catalog,
        Recorder:         recorder,
        Clock:            clock,
        DefaultTimeLimit: cfg.DefaultTimeLimit,
        AutoJudge:        cfg.AutoJudge,
    })
    defer rm.Close()

    gw := gateway.New(rm, gateway.NewRateLimiter(clock, cfg.ActionRateLimit, cfg.ActionRateWindow))

    wsCfg := ws.DefaultConfig()
    wsCfg.CheckOrigin = originChecker(cfg.AllowedOrigins)
    sock := ws.New(gw, wsCfg)

    r := newRouter(rm, catalog)
    sock.Mount(r)
    defer sock.Close()
    r.NoRoute(func(c *gin.Context) {
        staticserver.Handler().ServeHTTP(c.Writer, c.Request)
    })

    c := cors.New(cors.Options{
        AllowedOrigins: cfg.AllowedOrigins,
        AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
        AllowedHeaders: []string{"*"},
    })

    srv := &http.Server{
        Addr:              cfg.Addr(),
        Handler:           c.Handler(r),
        ReadHeaderTimeout: 10 * time.Second,
    }

    g, gctx := errgroup.WithContext(ctx)
    g.Go(func() error {
        log.Info().
            Str("addr", srv.Addr).
            Str("judge", cfg.EffectiveJudgeProvider()).
            Int("prompts", catalog.Len()).
            Msg("storyduel listening")
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            return fmt.Errorf("http server: %w", err)
        }
        return nil
    })
    g.Go(func() error {
        reap(gctx, clock, rm, cfg.ReapInterval, cfg.RoomIdleTimeout)
        return nil
    })
    g.Go(func() error {
        <-gctx.Done()
        log.Info().Msg("shutting down")
        shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
        defer cancel()
        if err := srv.Shutdown(shutdownCtx); err != nil {
            log.Error().Err(err).Msg("server forced to shutdown")
        }
        return nil
    })

    err = g.Wait()
    log.Info().Msg("server exited")
    return err
}

func newOracle(cfg *config.Config, clock clockwork.Clock) game.Oracle {
    var llm *judge.LLM
    switch cfg.EffectiveJudgeProvider() {
    case config.ProviderOpenAI:
        llm = judge.NewLLM(openai.New(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.JudgeTimeout), cfg.JudgeModel, cfg.JudgeSystemPrompt)
    case config.ProviderOllama:
        llm = judge.NewLLM(ollama.New(cfg.OllamaHost, cfg.JudgeTimeout), cfg.JudgeModel, cfg.JudgeSystemPrompt)
    default:
        if cfg.JudgeProvider == config.ProviderOpenAI {
            log.Warn().Msg("no OpenAI API key configured, judging with dice")
        }
        return judge.NewDice(nil)
    }
    return judge.WithRetry(llm, clock, cfg.JudgeAttempts, cfg.JudgeTimeout, cfg.JudgeBackoff)
}

func newRecorder(cfg *config.Config) (game.Recorder, func(), error) {
    var (
        recorders record.Multi
        closers   []func()
    )
    if cfg.ExportEnabled {
        recorders = append(recorders, record.NewFile(cfg.ExportFile))
        log.Info().Str("file", cfg.ExportFile).Msg("exporting rounds")
    }
    if cfg.NATSURL != "" {
        n, err := record.DialNATS(cfg.NATSURL, cfg.NATSSubject)
        if err != nil {
            return nil, func() {}, err
        }
        recorders = append(recorders, n)
        closers = append(closers, func() {
            if err := n.Close(); err != nil {
                log.Error().Err(err).Msg("failed to drain nats connection")
            }
        })
        log.Info().Str("subject", cfg.NATSSubject).Msg("publishing rounds to nats")
    }
    closeAll := func() {
        for _, fn := range closers {
            fn()
        }
    }
    if len(recorders) == 0 {
        return nil, closeAll, nil
    }
    return recorders, closeAll, nil
}

func newRouter(rm *game.RoomManager, catalog *prompts.Catalog) *gin.Engine {
    gin.SetMode(gin.ReleaseMode)
    r := gin.New()
    r.Use(gin.Recovery())
    r.Use(func(c *gin.Context) {
        start := time.Now()
        c.Next()
        path := c.Request.URL.Path
        if strings.HasPrefix(path, "/socket.io") || path == "/ws" {
            return
        }
        log.Info().Str("path", path).Int("status", c.Writer.Status()).Dur("dur", time.Since(start)).Msg("http")
    })

    r.GET("/health", func(c *gin.Context) {
        c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC(), "rooms": rm.Len()})
    })

    api := r.Group("/api")
    api.GET("/rooms", func(c *gin.Context) {
        c.JSON(http.StatusOK, gin.H{"rooms": rm.ListPublic()})
    })
    api.GET("/prompts", func(c *gin.Context) {
        c.JSON(http.StatusOK, gin.H{"prompts": catalog.All()})
    })
    api.GET("/rooms/:code/qr", func(c *gin.Context) {
        room, err := rm.Find(c.Param("code"))
        if err != nil {
            c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": gateway.ErrorCode(err)})
            return
        }
        png, err := qrcode.Encode(joinURL(c.Request, room.Code), qrcode.Medium, qrSize)
        if err != nil {
            c.JSON(http.StatusInternalServerError, gin.H{"error": "qr generation failed"})
            return
        }
        c.Data(http.StatusOK, "image/png", png)
    })
    return r
}

// joinURL is the link encoded into a room's QR code.
func joinURL(r *http.Request, code string) string {
    scheme := "http"
    if r.TLS != nil {
        scheme = "https"
    }
    if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
        scheme = proto
    }
    return scheme + "://" + r.Host + "/?room=" + code
}

func originChecker(allowed []string) func(*http.Request) bool {
    if len(allowed) == 0 || slices.Contains(allowed, "*") {
        return func(*http.Request) bool { return true }
    }
    return func(r *http.Request) bool {
        origin := r.Header.Get("Origin")
        return origin == "" || slices.Contains(allowed, origin)
    }
}

// reap removes rooms that stayed empty for longer than idle.
func reap(ctx context.Context, clock clockwork.Clock, rm *game.RoomManager, interval, idle time.Duration) {
    ticker := clock.NewTicker(interval)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case now := <-ticker.Chan():
            if n := rm.Reap(now, idle); n > 0 {
                log.Info().Int("removed", n).Int("rooms", rm.Len()).Msg("reaped idle rooms")
            }
        }
    }
}
