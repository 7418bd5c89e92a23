package serve

import (
	"context"

	"github.com/urfave/cli/v2"
	"github.com/workflo/cmsauth/auth/api"
	"github.com/workflo/cmsauth/internal/cmdflags"
	"github.com/workflo/cmsauth/internal/config"
	"github.com/workflo/cmsauth/internal/gateway"
	"github.com/workflo/cmsauth/internal/httpserver"
	"github.com/workflo/cmsauth/internal/logutil"
)

func Cmd(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the website gateway: auth api, protected admin area and public site",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "bind",
				Usage:       "Address to bind for incoming requests",
				EnvVars:     []string{config.EnvPrefix + "BIND"},
				Destination: &cfg.Bind,
				Value:       cfg.Bind,
			},
			&cli.StringFlag{
				Name:        "site-upstream",
				Usage:       "Base endpoint of the public website, leave empty to serve only the auth api",
				EnvVars:     []string{config.EnvPrefix + "SITE_UPSTREAM"},
				Destination: &cfg.SiteUpstream,
				Value:       cfg.SiteUpstream,
			},
			&cli.StringFlag{
				Name:        "admin-upstream",
				Usage:       "Base endpoint of the CMS admin screens, only editors and admins get through",
				EnvVars:     []string{config.EnvPrefix + "ADMIN_UPSTREAM"},
				Destination: &cfg.AdminUpstream,
				Value:       cfg.AdminUpstream,
			},
			&cli.StringFlag{
				Name:        "cookie-name",
				Usage:       "Name of the session cookie",
				Destination: &cfg.CookieName,
				Value:       cfg.CookieName,
			},
			&cli.BoolFlag{
				Name:        "insecure-cookie",
				Usage:       "Allow the session cookie over plain HTTP (local development only)",
				EnvVars:     []string{config.EnvPrefix + "INSECURE_COOKIE"},
				Destination: &cfg.InsecureCookie,
				Value:       cfg.InsecureCookie,
			},
			&cli.BoolFlag{
				Name:        "trust-forwarded-for",
				Usage:       "Record client addresses from X-Forwarded-For (only behind a proxy that sets it)",
				EnvVars:     []string{config.EnvPrefix + "TRUST_FORWARDED_FOR"},
				Destination: &cfg.TrustForwardedFor,
				Value:       cfg.TrustForwardedFor,
			},
			cmdflags.Duration("session-ttl", "Lifetime of a regular session", &cfg.SessionTTL),
			cmdflags.Duration("remember-ttl", "Lifetime of a remember-me session", &cfg.RememberTTL),
			cmdflags.Duration("failure-delay", "Pause before answering a failed login", &cfg.FailureDelay),
			cmdflags.Duration("sweep-interval", "Deactivate expired sessions this often (0 disables the sweeper)", &cfg.SweepInterval),
		},
		Action: func(ctx *cli.Context) error {
			site, admin, err := cfg.Upstreams()
			if err != nil {
				return err
			}
			rt, err := cfg.Open(ctx.Context, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			realm := api.NewRealm(rt.Service, cfg.CookieName, cfg.InsecureCookie).
				TrustForwardedFor(cfg.TrustForwardedFor)
			handler, err := gateway.AsHandler(ctx.Context, realm, site, admin)
			if err != nil {
				return err
			}

			sweepCtx, stopSweeper := context.WithCancel(ctx.Context)
			sweeperDone := make(chan struct{})
			go func() {
				defer close(sweeperDone)
				if cfg.SweepInterval > 0 {
					rt.Service.SweepEvery(sweepCtx, cfg.SweepInterval)
				}
			}()
			defer func() {
				stopSweeper()
				<-sweeperDone
			}()

			log := logutil.GetOrDefault(ctx.Context)
			log.Info().
				Str("site", cfg.SiteUpstream).
				Str("admin", cfg.AdminUpstream).
				Msg("Gateway configured")
			return httpserver.Serve(ctx.Context, cfg.Bind, handler)
		},
	}
}
