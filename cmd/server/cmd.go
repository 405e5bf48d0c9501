package main

import (
    "os"
    "time"

    "github.com/kiliankoe/storyduel/internal/config"
    "github.com/rs/zerolog"
    "github.com/rs/zerolog/log"
    "github.com/spf13/cobra"
)

func newCmd(cfg *config.Config) *cobra.Command {
    var configFile string

    cmd := &cobra.Command{
        Use:           "storyduel",
        Short:         "Two players, one deadly scenario, an AI judge deciding who survives.",
        Args:          cobra.ExactArgs(0),
        SilenceErrors: true,
        SilenceUsage:  true,
        Version:       version,
        PreRunE: func(cmd *cobra.Command, args []string) error {
            if err := config.LoadDotEnv(); err != nil {
                return err
            }
            if err := config.Resolve(cmd.Flags(), configFile); err != nil {
                return err
            }
            return cfg.Validate()
        },
        RunE: func(cmd *cobra.Command, args []string) error {
            setupLogging(cfg)
            return serve(cmd.Context(), cfg)
        },
    }

    fs := cmd.Flags()
    fs.StringVarP(&configFile, "config", "c", "", "optional YAML config file, keys are flag names")
    cfg.RegisterFlags(fs)

    cmd.CompletionOptions.HiddenDefaultCmd = true
    cmd.SetHelpCommand(&cobra.Command{Hidden: true})
    cmd.SetVersionTemplate("storyduel {{.Version}}\n")

    return cmd
}

func setupLogging(cfg *config.Config) {
    zerolog.TimeFieldFormat = time.RFC3339
    if cfg.LogFormat == "console" {
        log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
    } else {
        log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
    }
    level, err := zerolog.ParseLevel(cfg.LogLevel)
    if err != nil || level == zerolog.NoLevel {
        level = zerolog.InfoLevel
    }
    zerolog.SetGlobalLevel(level)
}
