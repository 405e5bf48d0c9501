package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kiliankoe/storyduel/internal/game"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderDice   = "dice"
)

type Config struct {
	Port int
	Bind string

	JudgeProvider     string
	JudgeModel        string
	JudgeSystemPrompt string
	JudgeTimeout      time.Duration
	JudgeAttempts     int
	JudgeBackoff      time.Duration
	AutoJudge         bool
	OpenAIKey         string
	OpenAIBaseURL     string
	OllamaHost        string

	DefaultTimeLimit int
	RoomIdleTimeout  time.Duration
	ReapInterval     time.Duration
	PromptsFile      string

	ExportEnabled bool
	ExportFile    string
	NATSURL       string
	NATSSubject   string

	AllowedOrigins   []string
	ActionRateLimit  int
	ActionRateWindow time.Duration

	LogLevel  string
	LogFormat string
}

// RegisterFlags adds every setting to fs with its default. Each flag can
// also be set through the environment variable of the same name in upper
// snake case, e.g. --openai-api-key and OPENAI_API_KEY.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.IntVarP(&c.Port, "port", "p", 8080, "port to listen on (env: PORT)")
	fs.StringVarP(&c.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: BIND)")

	fs.StringVar(&c.JudgeProvider, "judge-provider", ProviderOpenAI, "judge backend: openai, ollama or dice (env: JUDGE_PROVIDER)")
	fs.StringVar(&c.JudgeModel, "judge-model", "gpt-4o-mini", "model used by the judge (env: JUDGE_MODEL)")
	fs.StringVar(&c.JudgeSystemPrompt, "judge-system-prompt", "", "override the judge's system prompt (env: JUDGE_SYSTEM_PROMPT)")
	fs.DurationVar(&c.JudgeTimeout, "judge-timeout", 30*time.Second, "timeout of a single judge attempt (env: JUDGE_TIMEOUT)")
	fs.IntVar(&c.JudgeAttempts, "judge-attempts", 3, "judge attempts before a round gets no verdict (env: JUDGE_ATTEMPTS)")
	fs.DurationVar(&c.JudgeBackoff, "judge-backoff", 2*time.Second, "base backoff between judge attempts (env: JUDGE_BACKOFF)")
	fs.BoolVar(&c.AutoJudge, "auto-judge", false, "judge as soon as writing ends (env: AUTO_JUDGE)")
	fs.StringVar(&c.OpenAIKey, "openai-api-key", "", "OpenAI API key (env: OPENAI_API_KEY)")
	fs.StringVar(&c.OpenAIBaseURL, "openai-base-url", "", "custom OpenAI API base URL (env: OPENAI_BASE_URL)")
	fs.StringVar(&c.OllamaHost, "ollama-host", "http://localhost:11434", "Ollama host URL (env: OLLAMA_HOST)")

	fs.IntVar(&c.DefaultTimeLimit, "default-time-limit", 120, "writing time in seconds when none is requested (env: DEFAULT_TIME_LIMIT)")
	fs.DurationVar(&c.RoomIdleTimeout, "room-idle-timeout", 30*time.Minute, "time before empty rooms are removed (env: ROOM_IDLE_TIMEOUT)")
	fs.DurationVar(&c.ReapInterval, "reap-interval", time.Minute, "how often empty rooms are checked (env: REAP_INTERVAL)")
	fs.StringVar(&c.PromptsFile, "prompts-file", "", "YAML prompt catalog replacing the built-in one (env: PROMPTS_FILE)")

	fs.BoolVar(&c.ExportEnabled, "export-enabled", false, "append finished rounds to a text file (env: EXPORT_ENABLED)")
	fs.StringVar(&c.ExportFile, "export-file", "./storyduel-results.txt", "path of the results file (env: EXPORT_FILE)")
	fs.StringVar(&c.NATSURL, "nats-url", "", "publish finished rounds to this NATS server (env: NATS_URL)")
	fs.StringVar(&c.NATSSubject, "nats-subject", "storyduel.results", "NATS subject for finished rounds (env: NATS_SUBJECT)")

	fs.StringSliceVar(&c.AllowedOrigins, "allowed-origins", []string{"*"}, "CORS origins, comma separated (env: ALLOWED_ORIGINS)")
	fs.IntVar(&c.ActionRateLimit, "action-rate-limit", 20, "actions a connection may send per window, 0 disables (env: ACTION_RATE_LIMIT)")
	fs.DurationVar(&c.ActionRateWindow, "action-rate-window", 10*time.Second, "rate limit window (env: ACTION_RATE_WINDOW)")

	fs.StringVar(&c.LogLevel, "log-level", "info", "trace, debug, info, warn or error (env: LOG_LEVEL)")
	fs.StringVar(&c.LogFormat, "log-format", "console", "console or json (env: LOG_FORMAT)")
}

// Resolve fills every flag not given on the command line from the
// environment and then from the optional YAML config file. Config file keys
// are the flag names.
func Resolve(fs *pflag.FlagSet, file string) error {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "help" || f.Name == "version" {
			return
		}
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		if err := fs.Set(f.Name, flagValue(v.Get(f.Name))); err != nil {
			errs = append(errs, fmt.Errorf("invalid value for %s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

func flagValue(val any) string {
	switch t := val.(type) {
	case []any:
		parts := make([]string, len(t))
		for i, p := range t {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(t, ",")
	default:
		return fmt.Sprint(t)
	}
}

// LoadDotEnv loads .env style files into the environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	switch c.JudgeProvider {
	case ProviderOpenAI, ProviderOllama, ProviderDice:
	default:
		return fmt.Errorf("unknown judge provider %q (want openai, ollama or dice)", c.JudgeProvider)
	}
	if c.JudgeAttempts < 1 {
		return fmt.Errorf("judge attempts must be at least 1: %d", c.JudgeAttempts)
	}
	if c.JudgeTimeout < 0 || c.JudgeBackoff < 0 {
		return errors.New("judge timeout and backoff must not be negative")
	}
	if !slices.Contains(game.AllowedTimeLimits, c.DefaultTimeLimit) {
		return fmt.Errorf("default time limit must be one of %v: %d", game.AllowedTimeLimits, c.DefaultTimeLimit)
	}
	if c.ReapInterval <= 0 || c.RoomIdleTimeout <= 0 {
		return errors.New("reap interval and room idle timeout must be positive")
	}
	if c.ActionRateLimit > 0 && c.ActionRateWindow <= 0 {
		return errors.New("action rate window must be positive when rate limiting is enabled")
	}
	if c.ExportEnabled && strings.TrimSpace(c.ExportFile) == "" {
		return errors.New("export file is required when export is enabled")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format %q (want console or json)", c.LogFormat)
	}
	return nil
}

// EffectiveJudgeProvider falls back to the dice judge when OpenAI is chosen
// without an API key.
func (c *Config) EffectiveJudgeProvider() string {
	if c.JudgeProvider == ProviderOpenAI && c.OpenAIKey == "" {
		return ProviderDice
	}
	return c.JudgeProvider
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}
