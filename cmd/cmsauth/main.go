package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"github.com/workflo/cmsauth/cmd/cmsauth/audit"
	"github.com/workflo/cmsauth/cmd/cmsauth/serve"
	"github.com/workflo/cmsauth/cmd/cmsauth/sessions"
	"github.com/workflo/cmsauth/cmd/cmsauth/users"
	"github.com/workflo/cmsauth/internal/cmdflags"
	"github.com/workflo/cmsauth/internal/config"
	"github.com/workflo/cmsauth/internal/logutil"
)

func main() {
	err := config.LoadDotEnv(os.Getenv(config.EnvPrefix+"ENV_FILE"), config.DefaultEnvFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Unable to load environment")
	}
	cfg := config.Default()
	app := &cli.App{
		Name:  "cmsauth",
		Usage: "Sign in, sessions and user management for the Workflo CMS",
		Flags: []cli.Flag{
			cmdflags.Database(&cfg.Database),
			cmdflags.SecretEnvVar(&cfg.SecretEnvVar),
			cmdflags.LogLevel(&cfg.LogLevel),
			cmdflags.LogPretty(&cfg.LogPretty),
		},
		Before: func(ctx *cli.Context) error {
			return logutil.Setup(cfg.LogLevel, cfg.LogPretty, os.Stderr)
		},
		Commands: []*cli.Command{
			serve.Cmd(&cfg),
			users.Cmd(&cfg),
			sessions.Cmd(&cfg),
			audit.Cmd(&cfg),
		},
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Error().Err(err).Msg("Application failed")
		cancel()
		os.Exit(1)
	}
}
