package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"assistant/pkg/config"
	"assistant/pkg/logger"
	"assistant/pkg/session"
	"assistant/pkg/storage"
)

var (
	sessionsType  string
	sessionsLimit int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect stored sessions",
	Long:  `List, show and delete chat and automation sessions.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, newest first",
	Run:   runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session and its messages",
	Args:  cobra.ExactArgs(1),
	Run:   runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and its messages",
	Long: `Delete a session and its messages.

Stop the gateway first or use DELETE /api/sessions/:id while it runs, so
the active slot is released cleanly.`,
	Args: cobra.ExactArgs(1),
	Run:  runSessionsDelete,
}

func init() {
	sessionsListCmd.Flags().StringVarP(&sessionsType, "type", "t", "", "filter by type (chat, automation, seed)")
	sessionsListCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "maximum number of sessions")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}

func buildStoreOrExit() (session.Store, func()) {
	var store session.Store
	stop := startApp(
		config.Module,
		logger.Module,
		storage.Module,
		fx.Populate(&store),
	)
	return store, stop
}

func runSessionsList(cmd *cobra.Command, args []string) {
	filter := session.ListFilter{Limit: sessionsLimit}
	if sessionsType != "" {
		t, err := session.ParseType(strings.ToUpper(sessionsType))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		filter.Type = t
	}

	store, cleanup := buildStoreOrExit()
	defer cleanup()

	sessions, err := store.List(context.Background(), filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing sessions: %v\n", err)
		os.Exit(1)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return
	}
	printSessions(os.Stdout, sessions)
}

func printSessions(out io.Writer, sessions []*session.Session) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tNAME\tSTATE\tACTIVE\tEND REASON\tLAST ACTIVITY")
	fmt.Fprintln(w, "--\t----\t----\t-----\t------\t----------\t-------------")

	for _, s := range sessions {
		active := ""
		if s.IsActive {
			active = "*"
		}
		endReason := "-"
		if s.EndReason != nil {
			endReason = string(*s.EndReason)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID,
			s.Type,
			truncateString(s.Name, 24),
			s.State,
			active,
			endReason,
			s.LastActivity.Format("2006-01-02 15:04:05"),
		)
	}
	_ = w.Flush()
}

func runSessionsShow(cmd *cobra.Command, args []string) {
	store, cleanup := buildStoreOrExit()
	defer cleanup()

	ctx := context.Background()
	sess, err := store.Get(ctx, args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	msgs, err := store.ListMessages(ctx, sess.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading messages: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Session:   %s\n", sess.ID)
	fmt.Printf("Name:      %s\n", sess.Name)
	fmt.Printf("Type:      %s\n", sess.Type)
	fmt.Printf("State:     %s\n", sess.State)
	if sess.EndReason != nil {
		fmt.Printf("Ended:     %s\n", *sess.EndReason)
	}
	if sess.AutomationID != "" {
		fmt.Printf("Automation: %s\n", sess.AutomationID)
	}
	fmt.Printf("Messages:  %d\n", len(msgs))

	for _, m := range msgs {
		if m.Sender == session.SenderUser {
			text := m.TextContent
			if m.RichContent != nil {
				text = m.RichContent.Text
			}
			fmt.Printf("\n🧑 %s\n", text)
			continue
		}
		printMessage(os.Stdout, m)
	}
}

func runSessionsDelete(cmd *cobra.Command, args []string) {
	store, cleanup := buildStoreOrExit()
	defer cleanup()

	if err := store.Delete(context.Background(), args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "Error deleting session: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Session %s deleted\n", args[0])
}
