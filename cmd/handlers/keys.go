package handlers

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"letterdesk/internal/auth"
	"letterdesk/internal/secrets"
)

// NewKeysCmd creates helpers for generating credentials used in the config.
func NewKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Generate admin credentials and encryption keys",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "hash-password",
		Short: "Hash an admin password read from stdin",
		Long: `Read a password from stdin and print its bcrypt hash for
auth.admin_password_hash.

Example:
  echo -n 'correct horse' | letterdesk keys hash-password`,
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read password: %w", err)
			}
			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				return errors.New("password is empty")
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "secret-key",
		Short: "Generate a key for secrets.key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := secrets.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	})

	return cmd
}
