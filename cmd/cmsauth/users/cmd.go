package users

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/workflo/cmsauth/auth"
	"github.com/workflo/cmsauth/internal/config"
	"github.com/workflo/cmsauth/store"
)

func Cmd(cfg *config.Config) *cli.Command {
	var rt *config.Runtime
	return &cli.Command{
		Name:  "users",
		Usage: "Manage CMS users",
		Before: func(ctx *cli.Context) error {
			var err error
			rt, err = cfg.Open(ctx.Context, false)
			return err
		},
		After: func(ctx *cli.Context) error {
			if rt == nil {
				return nil
			}
			return rt.Close()
		},
		Subcommands: []*cli.Command{
			createCmd(&rt),
			roleCmd(&rt),
			activeCmd(&rt, "activate", true),
			activeCmd(&rt, "deactivate", false),
			listCmd(&rt),
		},
	}
}

func userFlag(out *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "user",
		Aliases:     []string{"u"},
		Usage:       "Id, email or username of the user",
		Destination: out,
		Required:    true,
	}
}

func readPassword(in io.Reader) (string, error) {
	sc := bufio.NewScanner(in)
	if !sc.Scan() {
		if sc.Err() != nil {
			return "", sc.Err()
		}
		return "", errors.New("missing password from stdin")
	}
	password := strings.TrimSpace(sc.Text())
	if len(password) == 0 {
		return "", errors.New("missing password from stdin")
	}
	return password, nil
}

func createCmd(rt **config.Runtime) *cli.Command {
	var email, username, role string
	var inactive bool
	role = string(store.RoleViewer)
	return &cli.Command{
		Name:  "create",
		Usage: "Create a new user (password is read from stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "email",
				Usage:       "Email address of the user",
				Destination: &email,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "username",
				Aliases:     []string{"user"},
				Usage:       "Username of the user",
				Destination: &username,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "role",
				Usage:       "One of admin, editor or viewer",
				Destination: &role,
				Value:       role,
			},
			&cli.BoolFlag{
				Name:        "inactive",
				Usage:       "Create the user without the ability to sign in",
				Destination: &inactive,
			},
		},
		Action: func(ctx *cli.Context) error {
			password, err := readPassword(ctx.App.Reader)
			if err != nil {
				return err
			}
			u, err := (*rt).Service.CreateUser(ctx.Context, nil, auth.NewUser{
				Email:    email,
				Username: username,
				Password: password,
				Role:     store.Role(role),
				Inactive: inactive,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(ctx.App.Writer, u.ID)
			return nil
		},
	}
}

func roleCmd(rt **config.Runtime) *cli.Command {
	var user, role string
	return &cli.Command{
		Name:  "role",
		Usage: "Change the role of a user, signing them out everywhere",
		Flags: []cli.Flag{
			userFlag(&user),
			&cli.StringFlag{
				Name:        "role",
				Usage:       "One of admin, editor or viewer",
				Destination: &role,
				Required:    true,
			},
		},
		Action: func(ctx *cli.Context) error {
			u, err := (*rt).Service.FindUser(ctx.Context, user)
			if err != nil {
				return err
			}
			return (*rt).Service.UpdateRole(ctx.Context, nil, u.ID, store.Role(role))
		},
	}
}

func activeCmd(rt **config.Runtime, name string, active bool) *cli.Command {
	usage := "Allow a user to sign in again"
	if !active {
		usage = "Prevent a user from signing in and end all of their sessions"
	}
	var user string
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: []cli.Flag{userFlag(&user)},
		Action: func(ctx *cli.Context) error {
			u, err := (*rt).Service.FindUser(ctx.Context, user)
			if err != nil {
				return err
			}
			return (*rt).Service.SetUserActive(ctx.Context, nil, u.ID, active)
		},
	}
}

func listCmd(rt **config.Runtime) *cli.Command {
	limit := 100
	return &cli.Command{
		Name:  "list",
		Usage: "List users ordered by username",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "limit",
				Usage:       "Maximum number of users to list",
				Destination: &limit,
				Value:       limit,
			},
		},
		Action: func(ctx *cli.Context) error {
			users, err := (*rt).Service.ListUsers(ctx.Context, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(ctx.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tUSERNAME\tEMAIL\tROLE\tACTIVE\tLAST LOGIN")
			for _, u := range users {
				lastLogin := "-"
				if u.LastLoginAt != nil {
					lastLogin = u.LastLoginAt.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%v\t%v\t%v\t%v\t%v\t%v\n", u.ID, u.Username, u.Email, u.Role, u.Active, lastLogin)
			}
			return tw.Flush()
		},
	}
}
