// Package config gathers the settings shared by every cmsauth command and
// assembles the store and auth service from them.
package config

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/workflo/cmsauth/auth"
	"github.com/workflo/cmsauth/internal/logutil"
	"github.com/workflo/cmsauth/store"
)

type (
	Config struct {
		Database     string
		SecretEnvVar string

		Bind           string
		SiteUpstream   string
		AdminUpstream  string
		CookieName     string
		InsecureCookie bool

		// TrustForwardedFor takes client addresses from X-Forwarded-For,
		// only safe behind a proxy that sets the header itself.
		TrustForwardedFor bool

		SessionTTL    time.Duration
		RememberTTL   time.Duration
		FailureDelay  time.Duration
		SweepInterval time.Duration
		PasswordCost  int

		LogLevel  string
		LogPretty bool
	}

	// Runtime is the opened store and the service built on top of it
	Runtime struct {
		Store   *store.Store
		Service *auth.Service
		rejects *auth.RejectCache
	}
)

const (
	EnvPrefix      = "CMSAUTH_"
	DefaultEnvFile = ".env"
)

func Default() Config {
	return Config{
		Database:     "cmsauth.db",
		SecretEnvVar: auth.SecretEnvVar,
		Bind:         "localhost:7007",
		CookieName:   "cms_session",
		SessionTTL:   auth.DefaultSessionTTL,
		RememberTTL:  auth.DefaultRememberTTL,
		FailureDelay: auth.DefaultFailureDelay,
		PasswordCost: auth.DefaultPasswordCost,
		LogLevel:     "info",
	}
}

// LoadDotEnv loads files into the process environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if f == "" {
			continue
		}
		err := godotenv.Load(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			return fmt.Errorf("unable to load env file %v, cause %w", f, err)
		}
	}
	return nil
}

func (c Config) Validate() error {
	if c.Database == "" {
		return errors.New("config: database path is required")
	}
	if c.SessionTTL <= 0 || c.RememberTTL <= 0 {
		return errors.New("config: session lifetimes must be positive")
	}
	if c.RememberTTL < c.SessionTTL {
		return errors.New("config: remember-me lifetime cannot be shorter than the regular session")
	}
	if c.FailureDelay < 0 || c.SweepInterval < 0 {
		return errors.New("config: durations cannot be negative")
	}
	return nil
}

// Upstreams parses the site and admin upstream urls, empty values are nil.
func (c Config) Upstreams() (site *url.URL, admin *url.URL, err error) {
	parse := func(name, raw string) (*url.URL, error) {
		if raw == "" {
			return nil, nil
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("config: invalid %v upstream, cause %w", name, err)
		}
		return u, nil
	}
	site, err = parse("site", c.SiteUpstream)
	if err != nil {
		return nil, nil, err
	}
	admin, err = parse("admin", c.AdminUpstream)
	if err != nil {
		return nil, nil, err
	}
	return site, admin, nil
}

// Open connects to the database and builds the auth service. When
// withSecret is false the service signs with a throwaway key, which is
// enough for commands that manage users but never issue sessions.
func (c Config) Open(ctx context.Context, withSecret bool) (*Runtime, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var secret []byte
	var err error
	if withSecret {
		secret, err = auth.SecretFromEnv(c.SecretEnvVar, os.Getenv, os.Setenv)
	} else {
		secret = make([]byte, auth.MinSecretLength)
		_, err = rand.Read(secret)
	}
	if err != nil {
		return nil, err
	}
	issuer, err := auth.NewTokenIssuer(secret)
	if err != nil {
		return nil, err
	}
	rejects, err := auth.NewRejectCache(c.RememberTTL)
	if err != nil {
		return nil, fmt.Errorf("unable to create reject cache, cause %w", err)
	}
	st, err := store.Open(ctx, c.Database)
	if err != nil {
		rejects.Close()
		return nil, err
	}
	svc := auth.New(st, issuer,
		auth.WithSessionTTL(c.SessionTTL, c.RememberTTL),
		auth.WithFailureDelay(c.FailureDelay),
		auth.WithPasswordCost(c.PasswordCost),
		auth.WithRejectCache(rejects))
	log := logutil.GetOrDefault(ctx)
	log.Debug().Str("database", c.Database).Msg("Auth service ready")
	return &Runtime{Store: st, Service: svc, rejects: rejects}, nil
}

// Close waits for pending audit writes before closing the database
func (r *Runtime) Close() error {
	r.Service.Wait()
	r.rejects.Close()
	return r.Store.Close()
}
