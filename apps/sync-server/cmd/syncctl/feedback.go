package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/feedback"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
)

func feedbackCmd() *cobra.Command {
	fb := &cobra.Command{Use: "feedback", Short: "Manage moderator feedback"}
	fb.AddCommand(feedbackSubmitCmd())
	fb.AddCommand(feedbackListCmd())
	fb.AddCommand(feedbackGetCmd())
	fb.AddCommand(feedbackStatusCmd())
	fb.AddCommand(feedbackExportCmd())
	fb.AddCommand(feedbackImportCmd())
	return fb
}

func feedbackSubmitCmd() *cobra.Command {
	var (
		author string
		role   string
		index  int
	)
	cmd := &cobra.Command{
		Use:   "submit <message...>",
		Short: "Submit an annotation linked to a playback index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := model.ParseRole(role)
			if err != nil {
				return err
			}
			msg, err := newClient().SubmitFeedback(context.Background(), feedback.SubmitRequest{
				Author:           author,
				Role:             r,
				Message:          strings.Join(args, " "),
				LinkedStateIndex: index,
			})
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(msg)
			}
			renderFeedback(os.Stdout, []model.FeedbackMessage{*msg})
			return nil
		},
	}
	cmd.Flags().StringVar(&author, "author", os.Getenv("USER"), "author name")
	cmd.Flags().StringVar(&role, "role", string(model.RoleModerator), "author role: moderator or source")
	cmd.Flags().IntVar(&index, "index", 0, "linked playback index")
	return cmd
}

func feedbackListCmd() *cobra.Command {
	var (
		status   string
		priority string
		filter   model.FeedbackFilter
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List feedback, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Status = model.FeedbackStatus(status)
			filter.Priority = model.Priority(priority)
			msgs, err := newClient().ListFeedback(context.Background(), filter)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(msgs)
			}
			renderFeedback(os.Stdout, msgs)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status: pending, acknowledged or resolved")
	cmd.Flags().StringVar(&priority, "priority", "", "filter by priority: low, medium, high or critical")
	cmd.Flags().StringVar(&filter.Tag, "tag", "", "filter by tag")
	cmd.Flags().StringVar(&filter.Author, "author", "", "filter by author")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "maximum number of results")
	return cmd
}

func feedbackGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one feedback message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := newClient().GetFeedback(context.Background(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(msg)
			}
			fmt.Printf("ID:       %s\n", msg.ID)
			fmt.Printf("Author:   %s (%s)\n", msg.Author, msg.Role)
			fmt.Printf("When:     %s\n", humanize.Time(msg.Timestamp))
			fmt.Printf("Index:    %d\n", msg.LinkedStateIndex)
			fmt.Printf("Priority: %s\n", msg.Priority)
			fmt.Printf("Status:   %s\n", msg.Status)
			fmt.Printf("Tags:     %s\n", strings.Join(msg.Tags, ", "))
			fmt.Printf("\n%s\n", msg.Message)
			return nil
		},
	}
}

func feedbackStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <acknowledged|resolved>",
		Short: "Move a feedback message forward",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := newClient().UpdateFeedbackStatus(context.Background(), args[0], model.FeedbackStatus(args[1]))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(msg)
			}
			fmt.Printf("%s is now %s\n", msg.ID, msg.Status)
			return nil
		},
	}
}

func feedbackExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every feedback message as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := newClient().ExportFeedback(context.Background())
			if err != nil {
				return err
			}

			w := io.Writer(os.Stdout)
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			if err := enc.Encode(msgs); err != nil {
				return err
			}
			if w != io.Writer(os.Stdout) {
				fmt.Fprintf(os.Stderr, "exported %s messages to %s\n", humanize.Comma(int64(len(msgs))), out)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func feedbackImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "Import feedback exported from another server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := readRecords(args[0])
			if err != nil {
				return err
			}
			res, err := newClient().ImportFeedback(context.Background(), records)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			fmt.Printf("imported %s, skipped %s\n", humanize.Comma(int64(res.Imported)), humanize.Comma(int64(res.Skipped)))
			return nil
		},
	}
}

func readRecords(path string) ([]model.FeedbackMessage, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var records []model.FeedbackMessage
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to read export %s: %w", path, err)
	}
	return records, nil
}

func renderFeedback(w io.Writer, msgs []model.FeedbackMessage) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Author", "Priority", "Status", "Index", "Tags", "When", "Message"})
	for _, m := range msgs {
		tw.AppendRow(table.Row{
			m.ID, m.Author, m.Priority, m.Status, m.LinkedStateIndex,
			strings.Join(m.Tags, ","), humanize.Time(m.Timestamp), truncate(m.Message, 48),
		})
	}
	tw.Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
