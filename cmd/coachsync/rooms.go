package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var roomsJSONOutput bool

func init() {
	roomsCmd.Flags().BoolVar(&roomsJSONOutput, "json", false, "raw JSON output")
	rootCmd.AddCommand(roomsCmd)
}

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List conversation rooms",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := getClient()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		rooms, err := client.ListRooms(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if roomsJSONOutput {
			data, _ := json.MarshalIndent(rooms, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		if len(rooms) == 0 {
			fmt.Println("No rooms.")
			return nil
		}
		for _, r := range rooms {
			online := " "
			if r.IsOnline {
				online = "*"
			}
			unread := ""
			if r.UnreadCount > 0 {
				unread = fmt.Sprintf(" (%d unread)", r.UnreadCount)
			}
			name := r.CounterpartName
			if r.IsSupportRoom {
				name += " [support]"
			}
			fmt.Printf("%s %-12s %-24s %s%s\n", online, r.ID, name, r.LastMessagePreview, unread)
		}
		return nil
	},
}
