package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/roomchat/internal/chatclient"
)

func (a *App) clientCommand() *cobra.Command {
	var username, room string

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Join a room as a terminal client",
		Long: `Join a room and chat from the terminal.
Every line typed is sent to the room. /quit, /exit or /q disconnects.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runClient(cmd.Context(), username, room)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&username, "username", "u", "", "username to join with (prompted when empty)")
	flags.StringVarP(&room, "room", "r", "", "room to join (prompted when empty)")
	flags.String("url", "", "server WebSocket URL")
	_ = a.v.BindPFlag(keyClientURL, flags.Lookup("url"))
	return cmd
}

func (a *App) runClient(ctx context.Context, username, room string) error {
	if username == "" {
		username = a.prompter.Ask("👤 Enter your username: ", nil)
	}
	if room == "" {
		room = a.prompter.Ask("🏠 Enter room name: ", nil)
	}
	if username == "" || room == "" {
		return errors.New("username and room are required")
	}

	fmt.Fprintln(a.out, "🔄 Connecting...")
	return chatclient.Run(ctx, a.v.GetString(keyClientURL), username, room, a.in, a.out, a.logger())
}
