package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch [room-id]",
	Short: "Stream live chat events",
	Long:  "Connect to the push channel and print events as they arrive. With a room id, focuses that room (marking it read) and prints its message log first.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		updates := make(chan string, 64)
		co, err := getCoordinator(func(roomID string) {
			select {
			case updates <- roomID:
			default:
			}
		})
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := co.Start(ctx); err != nil {
			return fmt.Errorf("start failed: %w", err)
		}
		defer co.Close()

		focused := ""
		if len(args) == 1 {
			focused = args[0]
			if err := co.FocusRoom(ctx, focused); err != nil {
				return fmt.Errorf("focus failed: %w", err)
			}
			for _, m := range co.Messages(focused) {
				printMessage(m.SenderIsSelf, m.Body, m.CreatedAt)
			}
		}

		fmt.Printf("Connected (%s). Waiting for events, Ctrl-C to quit.\n", co.ConnState())

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		seen := len(co.Messages(focused))
		for {
			select {
			case <-sigCh:
				fmt.Println("\nDisconnecting.")
				return nil
			case roomID := <-updates:
				if focused != "" && roomID == focused {
					msgs := co.Messages(focused)
					for _, m := range msgs[seen:] {
						printMessage(m.SenderIsSelf, m.Body, m.CreatedAt)
					}
					seen = len(msgs)
					if typing := co.TypingUsers(focused); len(typing) > 0 {
						fmt.Printf("  (%d typing...)\n", len(typing))
					}
				} else if roomID != "" {
					fmt.Printf("  activity in room %s\n", roomID)
				}
			}
		}
	},
}

func printMessage(self bool, body string, at time.Time) {
	who := "them"
	if self {
		who = "you "
	}
	fmt.Printf("[%s] %s: %s\n", at.Format("15:04:05"), who, body)
}
