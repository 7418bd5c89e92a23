package audit

import (
	"encoding/json"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/workflo/cmsauth/internal/config"
	"github.com/workflo/cmsauth/store"
)

func Cmd(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Inspect the audit trail",
		Subcommands: []*cli.Command{
			listCmd(cfg),
		},
	}
}

func listCmd(cfg *config.Config) *cli.Command {
	var userID string
	limit := store.DefaultAuditLimit
	return &cli.Command{
		Name:  "list",
		Usage: "Print audit events as JSON lines, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "user-id",
				Usage:       "Only events caused by this user",
				Destination: &userID,
			},
			&cli.StringSliceFlag{
				Name:  "action",
				Usage: "Only events with this action (repeatable)",
			},
			&cli.TimestampFlag{
				Name:   "since",
				Usage:  "Only events at or after this time (RFC3339)",
				Layout: time.RFC3339,
			},
			&cli.TimestampFlag{
				Name:   "until",
				Usage:  "Only events at or before this time (RFC3339)",
				Layout: time.RFC3339,
			},
			&cli.IntFlag{
				Name:        "limit",
				Usage:       "Maximum number of events",
				Destination: &limit,
				Value:       limit,
			},
		},
		Action: func(ctx *cli.Context) error {
			rt, err := cfg.Open(ctx.Context, false)
			if err != nil {
				return err
			}
			defer rt.Close()
			filter := store.AuditFilter{
				UserID:  userID,
				Actions: ctx.StringSlice("action"),
				Limit:   limit,
			}
			if t := ctx.Timestamp("since"); t != nil {
				filter.Since = *t
			}
			if t := ctx.Timestamp("until"); t != nil {
				filter.Until = *t
			}
			events, err := rt.Service.ListAuditEvents(ctx.Context, filter)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(ctx.App.Writer)
			for _, ev := range events {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
