package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scanasha/internal/did"
)

var (
	ceramicConfig string
	envFile       string
)

var didCmd = &cobra.Command{
	Use:   "did",
	Short: "Manage the registry admin DID",
}

var didGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new did:key admin identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := did.GenerateAdminKey()
		if err != nil {
			return err
		}
		fmt.Printf("%s=%s\n", did.EnvKey, key.Seed)
		fmt.Printf("DID: %s\n", key.DID)
		return nil
	},
}

var didAddAdminCmd = &cobra.Command{
	Use:   "add-admin <ceramic-config> <did>",
	Short: "Register a DID as ceramic admin",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !did.IsDID(args[1]) {
			return fmt.Errorf("not a DID: %q", args[1])
		}
		added, err := did.AddAdminDID(args[0], args[1])
		if err != nil {
			return err
		}
		if !added {
			fmt.Println("DID already registered as admin")
			return nil
		}
		fmt.Println("Admin DID registered. Restart the ceramic node to apply it.")
		return nil
	},
}

var didBootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Ensure an admin key exists and is registered with ceramic",
	Long: `Uses DID_ADMIN_PRIVATE_KEY when set. Otherwise a new key is generated,
added to the ceramic daemon config and written to the env file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := did.Bootstrap(os.Getenv(did.EnvKey), ceramicConfig, envFile)
		if err != nil {
			return err
		}
		logger.Info("Admin DID ready", zap.String("did", res.Key.DID), zap.Bool("restart", res.RestartRequired))
		fmt.Printf("DID: %s\n", res.Key.DID)
		if res.RestartRequired {
			fmt.Println("Restart the ceramic node to load the new admin DID.")
		}
		return nil
	},
}

func init() {
	home, _ := os.UserHomeDir()
	didBootstrapCmd.Flags().StringVar(&ceramicConfig, "ceramic-config",
		filepath.Join(home, ".ceramic", "daemon.config.json"), "Ceramic daemon config")
	didBootstrapCmd.Flags().StringVar(&envFile, "env-file", ".env", "File that receives the generated seed")

	didCmd.AddCommand(didGenerateCmd)
	didCmd.AddCommand(didAddAdminCmd)
	didCmd.AddCommand(didBootstrapCmd)
}
