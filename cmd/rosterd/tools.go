package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/example/party-roster/internal/application"
	"github.com/example/party-roster/internal/platform/discord"
	"github.com/spf13/cobra"
)

const checkTokenTimeout = 10 * time.Second

func checkTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-token",
		Short: "Verify that ROSTER_DISCORD_TOKEN is accepted by the platform",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, ok := configFrom(cmd.Context())
			if !ok {
				return errors.New("no config found in context")
			}
			if err := cfg.RequireDiscordToken(); err != nil {
				return err
			}
			if err := discord.ValidateToken(cfg.DiscordToken); err != nil {
				return err
			}
			client, err := discord.New(cfg.DiscordToken, commonRun(cmd.ErrOrStderr(), cfg.Debug))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), checkTokenTimeout)
			defer cancel()
			user, err := client.CheckIdentity(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token accepted: %s (%s)\n", user.Username, user.ID)
			return nil
		},
	}
}

func hashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "hash-password",
		Short:       "Read a password from stdin and print its hash for ROSTER_ADMIN_PASSWORD_HASH",
		Annotations: map[string]string{"config": "skip"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return hashPassword(cmd.InOrStdin(), cmd.OutOrStdout(), application.DefaultArgon2idParams)
		},
	}
}

func hashPassword(in io.Reader, out io.Writer, params application.Argon2idParams) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("password must not be empty")
	}
	hash, err := application.CreatePasswordHash(password, params)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, hash)
	return nil
}
