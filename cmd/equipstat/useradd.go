package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/equipstat/internal/auth"
	"github.com/JonMunkholm/equipstat/internal/exitcode"
)

func newUseraddCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	var (
		email         string
		password      string
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "useradd <username>",
		Short: "Create a user account, even when registration is disabled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := strings.TrimSpace(args[0])
			if passwordStdin {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return exitWith(exitcode.UsageError, fmt.Errorf("read password: %w", err))
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if username == "" || password == "" {
				return exitWith(exitcode.UsageError, errors.New("username and password are required (use --password or --password-stdin)"))
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, db, err := openDB(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			authenticator := auth.New(db, auth.Options{
				Secret: []byte(cfg.Security.JWTSecret),
				TTL:    cfg.Security.TokenTTL,
			})
			user, err := authenticator.CreateUser(ctx, username, strings.TrimSpace(email), password)
			if err != nil {
				return exitWith(exitcode.RuntimeError, err)
			}

			fmt.Fprintf(stdout, "created user %s (id %d)\n", user.Username, user.ID)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&email, "email", "", "Email address")
	f.StringVar(&password, "password", "", "Password")
	f.BoolVar(&passwordStdin, "password-stdin", false, "Read the password from the first line of stdin")
	cmd.MarkFlagsMutuallyExclusive("password", "password-stdin")
	return cmd
}
