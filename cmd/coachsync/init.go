package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initUserID string

var initCmd = &cobra.Command{
	Use:   "init <token>",
	Short: "Store session token in ~/.coachsync/config.toml",
	Long:  "Initialize the CoachSync CLI by storing your session token in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.Token = token
		if initUserID != "" {
			cfg.Auth.UserID = initUserID
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Token saved to %s\n", path)
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initUserID, "user-id", "", "this user's id, used to suppress self echoes")
}
