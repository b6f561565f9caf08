package main

import (
	"crypto/rand"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"peerlend-backend/internal/exchange"
	"peerlend-backend/internal/security"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a hex root key for exchange token signing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := exchange.GenerateRootKey(rand.Reader)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect exchange tokens and mint access tokens",
	}
	cmd.AddCommand(newTokenInspectCmd(), newTokenAccessCmd(), newTokenQRCmd())
	return cmd
}

func newTokenInspectCmd() *cobra.Command {
	var keyID string
	cmd := &cobra.Command{
		Use:   "inspect <token>",
		Short: "Verify an exchange token signature and print its payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hexKey, err := readSecret(cmd, fmt.Sprintf("Root key %s (hex): ", keyID))
			if err != nil {
				return err
			}
			keys, err := exchange.NewKeyringFromHex(map[string]string{keyID: hexKey}, keyID)
			if err != nil {
				return err
			}
			tok, err := exchange.NewCodec(keys).Decode(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tok)
		},
	}
	cmd.Flags().StringVar(&keyID, "key-id", "k1", "id of the key the token was signed with")
	return cmd
}

func newTokenAccessCmd() *cobra.Command {
	var (
		email string
		roles []string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "access <user-id>",
		Short: "Mint an API access token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := readSecret(cmd, "JWT secret: ")
			if err != nil {
				return err
			}
			token, err := security.NewTokenManager(secret, ttl).GenerateAccessToken(args[0], email, roles)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role claim, repeatable")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func newTokenQRCmd() *cobra.Command {
	var (
		out  string
		size int
	)
	cmd := &cobra.Command{
		Use:   "qr <token>",
		Short: "Render an encoded token as a PNG QR code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			png, err := exchange.RenderQR(strings.TrimSpace(args[0]), size)
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(png)
				return err
			}
			return os.WriteFile(out, png, 0o600)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file, stdout when empty")
	cmd.Flags().IntVar(&size, "size", exchange.DefaultQRSize, "image size in pixels")
	return cmd
}
