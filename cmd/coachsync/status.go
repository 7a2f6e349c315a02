package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and connectivity",
	Long:  "Display the effective configuration and check the collaborator API is reachable.",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := resolveConfig()
		if err != nil {
			return err
		}

		fmt.Println("Configuration:")
		fmt.Printf("  API URL:  %s\n", r.BaseURL)
		fmt.Printf("  Push URL: %s\n", valueOrDefault(r.PushURL, "(not set)"))
		fmt.Printf("  User ID:  %s\n", valueOrDefault(r.UserID, "(not set)"))
		fmt.Printf("  Token:    %s\n", maskToken(r.Token))

		client, _, err := getClient()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		fmt.Println()
		rooms, err := client.ListRooms(ctx)
		if err != nil {
			fmt.Printf("API check failed: %v\n", err)
			return nil
		}
		unread := 0
		for _, room := range rooms {
			unread += room.UnreadCount
		}
		fmt.Printf("API reachable: %d rooms, %d unread messages\n", len(rooms), unread)
		return nil
	},
}

// maskToken shows the first 6 and last 4 characters of a token.
func maskToken(token string) string {
	if len(token) <= 10 {
		return "(set)"
	}
	return token[:6] + "..." + token[len(token)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
