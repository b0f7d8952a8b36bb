package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"assistant/pkg/config"
	"assistant/pkg/controller"
	"assistant/pkg/interaction"
	"assistant/pkg/logger"
	"assistant/pkg/messages"
	"assistant/pkg/round"
	"assistant/pkg/session"
)

const logo = "🤖"

var (
	chatMessage  string
	chatSession  string
	chatName     string
	chatProvider string
	chatValidate bool
	chatDebug    bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start a chat session with the assistant in the terminal.

The chat takes the active slot from an idle automation, or queues behind a
busy one. Press Ctrl+C while the assistant works to interrupt the round.

Examples:
  # New interactive session
  assistant chat

  # One-shot mode
  assistant chat -m "What is on my calendar today?"

  # Resume a session
  assistant chat -s 0b6f1c7e-...`,
	Run: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "send a single message (non-interactive)")
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "resume an existing chat session")
	chatCmd.Flags().StringVar(&chatName, "name", "", "name of a new session")
	chatCmd.Flags().StringVar(&chatProvider, "provider", "", "provider profile of a new session")
	chatCmd.Flags().BoolVar(&chatValidate, "validate", false, "confirm every action batch of a new session")
	chatCmd.Flags().BoolVarP(&chatDebug, "debug", "d", false, "keep info logs on the console")
}

type chatDeps struct {
	fx.In

	Config       *config.Config
	Store        session.Store
	Messages     *messages.Storage
	Controller   *controller.Controller
	Executor     *round.Executor
	Interactions *interaction.Manager
}

// quietLogger keeps the console readable during a chat.
func quietLogger(cfg *logger.Config) *logger.Config {
	quiet := *cfg
	if quiet.Level == logger.LevelDebug || quiet.Level == logger.LevelInfo {
		quiet.Level = logger.LevelWarn
	}
	return &quiet
}

func runChat(cmd *cobra.Command, args []string) {
	var deps chatDeps
	opts := []fx.Option{
		coreModules(),
		fx.Invoke(func(d chatDeps) { deps = d }),
	}
	if !chatDebug {
		opts = append(opts, fx.Decorate(quietLogger))
	}
	stop := startApp(opts...)
	defer stop()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	var in lineReader
	if chatMessage != "" {
		in = newPlainReader(os.Stdin, os.Stdout)
	} else {
		in = newLineReader()
	}
	defer in.Close()

	c := &chatClient{
		deps: deps,
		in:   in,
		out:  os.Stdout,
		seen: make(map[string]bool),
		sig:  make(chan os.Signal, 1),
	}
	signal.Notify(c.sig, os.Interrupt)
	defer signal.Stop(c.sig)

	if err := c.open(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}

	if chatMessage != "" {
		if err := c.send(ctx, chatMessage); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return
	}
	c.loop(ctx)
}

type chatClient struct {
	deps      chatDeps
	in        lineReader
	out       io.Writer
	sessionID string
	seen      map[string]bool
	sig       chan os.Signal
}

// open resumes --session or creates a new chat session.
func (c *chatClient) open(ctx context.Context) error {
	if chatSession != "" {
		sess, err := c.deps.Store.Get(ctx, chatSession)
		if err != nil {
			return fmt.Errorf("load session %s: %w", chatSession, err)
		}
		if sess.Type != session.TypeChat {
			return fmt.Errorf("session %s is a %s session", sess.ID, sess.Type)
		}
		c.sessionID = sess.ID

		msgs, err := c.deps.Store.ListMessages(ctx, sess.ID)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			c.seen[m.ID] = true
		}
		fmt.Fprintf(c.out, "%s Resumed %q (%d messages)\n", logo, sess.Name, len(msgs))
		return nil
	}

	name := chatName
	if name == "" {
		name = "Terminal " + time.Now().Format("2006-01-02 15:04")
	}
	sess := &session.Session{
		ID:                uuid.NewString(),
		Name:              name,
		Type:              session.TypeChat,
		ProviderID:        chatProvider,
		RequireValidation: chatValidate,
	}
	if err := c.deps.Store.Create(ctx, sess); err != nil {
		return err
	}
	c.sessionID = sess.ID
	fmt.Fprintf(c.out, "%s New session %s\n", logo, sess.ID)
	return nil
}

func (c *chatClient) loop(ctx context.Context) {
	fmt.Fprintf(c.out, "%s Interactive mode (type exit or press Ctrl+D to leave)\n\n", logo)

	for {
		if ctx.Err() != nil {
			fmt.Fprintln(c.out, "\nGoodbye!")
			return
		}

		line, err := c.in.ReadLine(logo + " You: ")
		if err != nil {
			if errors.Is(err, errInterrupted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(c.out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(c.out, "Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		switch input {
		case "":
			continue
		case "exit", "quit":
			fmt.Fprintln(c.out, "Goodbye!")
			return
		}

		if err := c.send(ctx, input); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
}

// send stores the user message, takes the active slot and runs a round.
func (c *chatClient) send(ctx context.Context, text string) error {
	if _, err := c.deps.Messages.StoreUserText(ctx, c.sessionID, text); err != nil {
		return err
	}

	res := c.deps.Controller.RequestSessionControl(c.sessionID, session.TypeChat, "", nil)
	switch res.Status {
	case controller.Rejected:
		return fmt.Errorf("session %s cannot be activated", c.sessionID)
	case controller.Queued:
		fmt.Fprintf(c.out, "⏳ Queued at position %d, waiting for the active session...\n", res.Position)
		if err := c.waitForActivation(ctx); err != nil {
			return err
		}
	}
	return c.runRound(ctx)
}

func (c *chatClient) waitForActivation(ctx context.Context) error {
	updates, unsubscribe := c.deps.Controller.Subscribe()
	defer unsubscribe()

	for {
		select {
		case id := <-updates:
			if id == c.sessionID {
				return nil
			}
		case <-c.sig:
			c.deps.Controller.RemoveFromQueue(c.sessionID)
			return fmt.Errorf("stopped waiting for the active slot")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *chatClient) runRound(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- c.deps.Executor.ExecuteAIRound(ctx, session.RoundReasonManualStart)
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	handled := make(map[string]bool)

	for {
		select {
		case err := <-done:
			c.printNew(ctx)
			if errors.Is(err, session.ErrRoundInProgress) {
				fmt.Fprintln(c.out, "A round is already running; your message will be read by the next one.")
				return nil
			}
			return err

		case <-c.sig:
			fmt.Fprintln(c.out, "\n⏸  Interrupting...")
			c.deps.Interactions.RequestInterruption()

		case <-ticker.C:
			c.printNew(ctx)
			for _, req := range c.deps.Interactions.Pending() {
				if req.SessionID != c.sessionID || handled[req.ID] {
					continue
				}
				handled[req.ID] = true
				c.answer(req)
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// answer prompts the user for a pending communication module or
// validation.
func (c *chatClient) answer(req *interaction.Request) {
	var err error
	switch req.Kind {
	case interaction.KindValidation:
		fmt.Fprintf(c.out, "\n🔐 Confirmation required: %s\n", req.Validation.Reason)
		for _, a := range req.Validation.Actions {
			fmt.Fprintf(c.out, "  - %s\n", a.Description)
		}
		line, readErr := c.in.ReadLine("Approve? [y/N] ")
		if readErr != nil {
			err = c.deps.Interactions.Cancel(req.ID)
			break
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		err = c.deps.Interactions.Validate(req.ID, answer == "y" || answer == "yes")

	case interaction.KindResponse:
		fmt.Fprintf(c.out, "\n❓ %s\n", describeModule(req.Module))
		line, readErr := c.in.ReadLine("Answer (/cancel to skip)> ")
		text := strings.TrimSpace(line)
		if readErr != nil || text == "/cancel" {
			err = c.deps.Interactions.Cancel(req.ID)
			break
		}
		err = c.deps.Interactions.Respond(req.ID, interaction.Response{Text: text})
	}

	if err != nil && !errors.Is(err, interaction.ErrRequestNotFound) {
		fmt.Fprintf(c.out, "Warning: %v\n", err)
	}
}

func (c *chatClient) printNew(ctx context.Context) {
	msgs, err := c.deps.Store.ListMessages(ctx, c.sessionID)
	if err != nil {
		return
	}
	for _, m := range msgs {
		if c.seen[m.ID] {
			continue
		}
		c.seen[m.ID] = true
		printMessage(c.out, m)
	}
}

// printMessage renders one stored message for the terminal. User messages
// are not echoed.
func printMessage(w io.Writer, m *session.Message) {
	switch m.Sender {
	case session.SenderAI:
		if m.AIMessage == nil {
			fmt.Fprintf(w, "\n%s %s\n", logo, m.TextContent)
			return
		}
		ai := m.AIMessage
		fmt.Fprintf(w, "\n%s %s\n", logo, ai.PreText)
		switch {
		case len(ai.DataCommands) > 0:
			fmt.Fprintf(w, "   ↳ looking up %d item(s)\n", len(ai.DataCommands))
		case len(ai.ActionCommands) > 0:
			fmt.Fprintf(w, "   ↳ %d action(s) requested\n", len(ai.ActionCommands))
		}

	case session.SenderSystem:
		if m.SystemMessage == nil {
			if m.TextContent != "" {
				fmt.Fprintf(w, "   [system] %s\n", m.TextContent)
			}
			return
		}
		sm := m.SystemMessage
		switch sm.Type {
		case session.SystemInteractionPending, session.SystemContinueReminder:
			// The prompt itself is shown to the user.
			return
		}
		fmt.Fprintf(w, "   [%s] %s\n", strings.ToLower(string(sm.Type)), sm.Summary)
	}
}

func describeModule(module *session.CommunicationModule) string {
	if module == nil {
		return "The assistant is waiting for your answer."
	}
	for _, key := range []string{"question", "prompt", "text"} {
		if s, ok := module.Data[key].(string); ok && s != "" {
			return s
		}
	}
	if len(module.Data) == 0 {
		return fmt.Sprintf("The assistant asks for a %s.", module.Type)
	}
	raw, err := json.Marshal(module.Data)
	if err != nil {
		return module.Type
	}
	return fmt.Sprintf("%s %s", module.Type, raw)
}
