package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
)

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List live sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := newClient().Sessions(context.Background())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(sessions)
			}
			renderSessions(os.Stdout, sessions)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show relay status and the current playback view",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newClient().Status(context.Background())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(st)
			}
			source := st.SourceID
			if source == "" {
				source = "(none)"
			}
			fmt.Printf("Sessions: %s\n", humanize.Comma(int64(st.Sessions)))
			fmt.Printf("Source:   %s\n", source)
			fmt.Printf("Playback: %s\n", formatView(st.Playback))
			return nil
		},
	}
}

func renderSessions(w io.Writer, sessions []model.Session) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Role", "State", "Reconnects", "Last heartbeat", "Connected"})
	for _, s := range sessions {
		tw.AppendRow(table.Row{
			s.ID, s.Role, s.State, s.ReconnectAttempts,
			humanize.Time(s.LastHeartbeatAt), humanize.Time(s.ConnectedAt),
		})
	}
	tw.Render()
}
