// Command tracechat is a terminal client for a multi-agent orchestrator. It
// streams each answer as it arrives and renders the agent's working trace
// alongside the final text.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"tracechat/config"
	"tracechat/history"
	"tracechat/session"
	"tracechat/transcript"
	"tracechat/transport"
)

// Global flags (persistent across all commands)
var (
	configPath string
	backendURL string
	agentID    string
	historyOff bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "tracechat",
	Short: "Terminal client for a multi-agent orchestrator",
	Long: `tracechat talks to a multi-agent orchestrator over its streaming event
protocol, reconstructing each answer and its working trace as events arrive.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})))
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Send one message and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(cmd.Context(), strings.Join(args, " "))
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [session-id]",
	Short: "List archived sessions, or replay one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return runHistoryShow(args[0])
		}
		return runHistoryList()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Config file path")
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "", "Orchestrator base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&agentID, "agent", "", "Agent to address (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&historyOff, "no-history", false, "Disable the turn archive")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(chatCmd, askCmd, historyCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration from file plus flag
// overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if backendURL != "" {
		cfg.BackendURL = backendURL
	}
	if agentID != "" {
		cfg.AgentID = agentID
	}
	if historyOff {
		cfg.HistoryPath = ""
	}
	return cfg, nil
}

// openSession builds a session from the effective configuration. The
// returned cleanup closes the session and the history store.
func openSession(cfg config.Config) (*session.Session, func(), error) {
	opts := []session.Option{
		session.WithAgentID(cfg.AgentID),
		session.WithEventBufferSize(cfg.EventBufferSize),
	}

	var store *history.Store
	if cfg.HistoryPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.HistoryPath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create history directory: %w", err)
		}
		var err error
		store, err = history.Open(cfg.HistoryPath)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, session.WithHistory(store))
	}

	sess := session.New(transport.NewHTTPSource(cfg.BackendURL, nil), opts...)
	cleanup := func() {
		_ = sess.Close()
		if store != nil {
			_ = store.Close()
		}
	}
	return sess, cleanup, nil
}

func runChat(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sess, cleanup, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Printf("Connected to %s (agent %q). Type a message, /clear, or /quit.\n",
			cfg.BackendURL, cfg.AgentID)
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		if interactive {
			fmt.Print("> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/clear":
			if err := sess.Clear(); err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				continue
			}
			fmt.Println("Transcript cleared.")
			continue
		}

		if err := sess.Send(ctx, line); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			continue
		}
		if err := renderTurn(ctx, sess); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func runAsk(ctx context.Context, message string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sess, cleanup, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := sess.Send(ctx, message); err != nil {
		return err
	}
	return renderTurn(ctx, sess)
}

// renderTurn consumes session events until the current turn completes,
// printing text deltas as they arrive and trace steps as indented lines.
func renderTurn(ctx context.Context, sess *session.Session) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sess.Events():
			if !ok {
				return nil
			}
			switch e := ev.(type) {
			case session.TextEvent:
				fmt.Print(e.Delta)
			case session.TraceStepEvent:
				fmt.Printf("\n  %s\n", formatStep(e.Step))
			case session.ErrorEvent:
				fmt.Fprintf(os.Stderr, "\n[%s] %v\n", e.Context, e.Err)
			case session.TurnCompleteEvent:
				fmt.Println()
				if e.Turn != nil {
					for _, img := range e.Turn.Images {
						fmt.Printf("[image] %s\n", img)
					}
				}
				if e.Incomplete {
					fmt.Fprintln(os.Stderr, "(stream ended early; answer may be incomplete)")
				}
				return nil
			}
		}
	}
}

// formatStep renders one trace step as a single display line.
func formatStep(step transcript.TraceStep) string {
	switch step.Kind {
	case transcript.StepToolCall:
		if step.InvocationType != "" {
			return fmt.Sprintf("[%d] %s: tool %s (%s)", step.Step, step.Agent, step.ToolName, step.InvocationType)
		}
		return fmt.Sprintf("[%d] %s: tool %s", step.Step, step.Agent, step.ToolName)
	case transcript.StepAgentHandoff:
		return fmt.Sprintf("[%d] %s: -> %s %s", step.Step, step.Agent, step.TargetAgent, step.Text)
	case transcript.StepError:
		return fmt.Sprintf("[%d] %s: error: %s", step.Step, step.Agent, step.Text)
	default:
		return fmt.Sprintf("[%d] %s: %s", step.Step, step.Agent, step.Text)
	}
}

func runHistoryList() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.HistoryPath == "" {
		return fmt.Errorf("history is disabled")
	}
	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ids, err := store.Sessions()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No archived sessions.")
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func runHistoryShow(sessionID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.HistoryPath == "" {
		return fmt.Errorf("history is disabled")
	}
	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer store.Close()

	turns, err := store.Turns(sessionID)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		return fmt.Errorf("no turns recorded for session %s", sessionID)
	}
	for _, turn := range turns {
		fmt.Printf("%s [%s]\n", strings.ToUpper(string(turn.Sender)), turn.Timestamp.Local().Format("2006-01-02 15:04:05"))
		for _, step := range turn.Steps() {
			fmt.Printf("  %s\n", formatStep(step))
		}
		fmt.Println(turn.Text)
		if turn.Incomplete {
			fmt.Println("(incomplete)")
		}
		fmt.Println()
	}
	return nil
}
