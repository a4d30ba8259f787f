package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/factmark/internal/model"
	"github.com/ppiankov/factmark/internal/relay"
	"github.com/ppiankov/factmark/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	storeToken    string
	storeUserJSON string
)

// relayCmd groups the credential helpers
var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Inspect and write relay credentials",
	Long: `Helpers for the obfuscated credential format used by the pairing
flow: values are XOR'd with the configured key and base64 encoded.`,
}

var relayEncodeCmd = &cobra.Command{
	Use:   "encode <value>",
	Short: "Obfuscate a value with the relay key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(v)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), relay.Obfuscate(args[0], cfg.Relay.ObfuscationKey))
		return nil
	},
}

var relayDecodeCmd = &cobra.Command{
	Use:   "decode <value>",
	Short: "Reveal an obfuscated value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(v)
		if err != nil {
			return err
		}
		plain, err := relay.Reveal(args[0], cfg.Relay.ObfuscationKey)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), plain)
		return nil
	},
}

var relayStoreCmd = &cobra.Command{
	Use:   "store",
	Short: "Write a login to local storage for a pairing bridge to pick up",
	Long: `Store writes an obfuscated token and user record to the local
credential store, the same way the sign-in page does. A bridge running in
pairing mode forwards it to the session service on its next poll.

Example:
  factmark relay store --token abc123 --user-json '{"name":"Ada"}'`,
	Args: cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, map[string]string{"storage": "storage.local_path"})
	},
	RunE: runRelayStore,
}

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.AddCommand(relayEncodeCmd)
	relayCmd.AddCommand(relayDecodeCmd)
	relayCmd.AddCommand(relayStoreCmd)

	relayStoreCmd.Flags().StringVar(&storeToken, "token", "", "session token (required)")
	relayStoreCmd.Flags().StringVar(&storeUserJSON, "user-json", "{}", "user record as a JSON object")
	relayStoreCmd.Flags().String("storage", "", "local credential store (default: $XDG_DATA_HOME/factmark/storage.db)")
	_ = relayStoreCmd.MarkFlagRequired("token")
}

func runRelayStore(cmd *cobra.Command, args []string) error {
	if strings.TrimSpace(storeToken) == "" {
		return fmt.Errorf("--token must not be empty")
	}
	var user model.User
	if err := json.Unmarshal([]byte(storeUserJSON), &user); err != nil {
		return fmt.Errorf("invalid --user-json: %w", err)
	}
	if user == nil {
		return fmt.Errorf("invalid --user-json: must be an object")
	}

	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}

	tier, err := storage.OpenLocalTier(cfg.Storage.LocalPath, logger)
	if err != nil {
		return err
	}
	defer func() { _ = tier.Close() }()

	if err := relay.StoreCredentials(cmd.Context(), tier, cfg.Relay, storeToken, user); err != nil {
		return err
	}

	logger.Debug("credentials stored", zap.String("path", cfg.Storage.LocalPath))
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Stored credentials in %s\n", cfg.Storage.LocalPath)
	return nil
}
