package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/careerpath/interviewcoach/server/internal/auth"
	"github.com/careerpath/interviewcoach/server/internal/config"
)

func newTokenCmd() *cobra.Command {
	var (
		sessionID   string
		candidateID string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a session token for debugging",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" || candidateID == "" {
				return errors.New("--session and --candidate are required")
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			issuer, err := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.TokenTTL)
			if err != nil {
				return err
			}

			token, expiresAt, err := issuer.GenerateSessionToken(sessionID, candidateID)
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "interview session ID")
	cmd.Flags().StringVar(&candidateID, "candidate", "", "candidate ID")
	return cmd
}
