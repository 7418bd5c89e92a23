package cmdflags

import (
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/workflo/cmsauth/internal/config"
)

func env(name string) []string {
	return []string{config.EnvPrefix + name}
}

func Database(out *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "db",
		Aliases:     []string{"database"},
		Usage:       "Path to the SQLite database holding users, sessions and audit events",
		EnvVars:     env("DB"),
		Destination: out,
		Value:       *out,
	}
}

func SecretEnvVar(out *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "secret-envvar-name",
		Usage:       "Name of the environment variable that holds the session signing secret. The secret itself should not be passed as an argument",
		Value:       *out,
		Destination: out,
	}
}

func LogLevel(out *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "log-level",
		Usage:       "Minimum level of log messages (trace, debug, info, warn, error)",
		EnvVars:     env("LOG_LEVEL"),
		Destination: out,
		Value:       *out,
	}
}

func LogPretty(out *bool) cli.Flag {
	return &cli.BoolFlag{
		Name:        "log-pretty",
		Usage:       "Human friendly logs instead of JSON lines",
		EnvVars:     env("LOG_PRETTY"),
		Destination: out,
		Value:       *out,
	}
}

func Duration(name, usage string, out *time.Duration) cli.Flag {
	return &cli.DurationFlag{
		Name:        name,
		Usage:       usage,
		EnvVars:     env(envName(name)),
		Destination: out,
		Value:       *out,
	}
}

func envName(flag string) string {
	return strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}
