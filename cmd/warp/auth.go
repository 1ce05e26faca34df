package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/git-stunts/git-warp/internal/config"
)

var authKeyID string

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the HMAC signing key used for authenticated sync",
}

var authSetKeyCmd = &cobra.Command{
	Use:   "set-key",
	Short: "Prompt for and store a sync HMAC key in the OS keychain",
	RunE:  runAuthSetKey,
}

func init() {
	authSetKeyCmd.Flags().StringVar(&authKeyID, "key-id", "", "key identifier (default: \"default\")")
	authCmd.AddCommand(authSetKeyCmd)
	rootCmd.AddCommand(authCmd)
}

func runAuthSetKey(cmd *cobra.Command, args []string) error {
	secret, err := readSecretFromStdin("sync HMAC key: ")
	if err != nil {
		return fmt.Errorf("warp: read secret: %w", err)
	}

	km := config.NewKeyringManager()
	if err := km.SaveHMACKey(authKeyID, secret); err != nil {
		return fmt.Errorf("warp: save hmac key: %w", err)
	}

	fmt.Println("hmac key saved")
	return nil
}

// readSecretFromStdin reads a line without echoing it when stdin is a
// terminal, and falls back to plain line reading for piped input.
func readSecretFromStdin(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	if term.IsTerminal(int(syscall.Stdin)) {
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
