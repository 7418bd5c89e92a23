package sessions

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"github.com/workflo/cmsauth/internal/config"
)

func Cmd(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "Maintenance of user sessions",
		Subcommands: []*cli.Command{
			{
				Name:  "sweep",
				Usage: "Deactivate every session that already expired",
				Action: func(ctx *cli.Context) error {
					rt, err := cfg.Open(ctx.Context, false)
					if err != nil {
						return err
					}
					defer rt.Close()
					n, err := rt.Service.SweepExpiredSessions(ctx.Context)
					if err != nil {
						return err
					}
					fmt.Fprintf(ctx.App.Writer, "%v sessions deactivated\n", n)
					return nil
				},
			},
		},
	}
}
