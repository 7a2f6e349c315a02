package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	coachsync "github.com/fitversal/coachsync"
	"github.com/spf13/cobra"
)

var sendFilePath string

func init() {
	sendCmd.Flags().StringVar(&sendFilePath, "file", "", "upload a file instead of sending text")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <room-id> [message...]",
	Short: "Send a message to a room",
	Long:  "Send a text message, or upload an attachment with --file.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := args[0]
		body := strings.Join(args[1:], " ")
		if sendFilePath == "" && body == "" {
			return fmt.Errorf("nothing to send: provide message text or --file")
		}

		client, _, err := getClient()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		var msg *coachsync.ServerMessage
		if sendFilePath != "" {
			data, err := os.ReadFile(sendFilePath)
			if err != nil {
				return fmt.Errorf("cannot read file: %w", err)
			}
			msg, err = client.Upload(ctx, roomID, data, &coachsync.UploadOptions{
				FileName: filepath.Base(sendFilePath),
			})
			if err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}
		} else {
			msg, err = client.CreateMessage(ctx, roomID, body, coachsync.KindText)
			if err != nil {
				return fmt.Errorf("send failed: %w", err)
			}
		}

		fmt.Printf("Sent %s (id %s) at %s\n", msg.Type, msg.ID, msg.CreatedAt.Format(time.RFC3339))
		return nil
	},
}
