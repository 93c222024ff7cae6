package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/entrepeneur4lyf/chatsync/internal/chat"
	"github.com/entrepeneur4lyf/chatsync/internal/config"
	"github.com/entrepeneur4lyf/chatsync/internal/events"
	"github.com/entrepeneur4lyf/chatsync/internal/llm"
	"github.com/entrepeneur4lyf/chatsync/internal/message"
	"github.com/entrepeneur4lyf/chatsync/internal/models"
	"github.com/entrepeneur4lyf/chatsync/internal/notifications"
	"github.com/entrepeneur4lyf/chatsync/internal/storage"
)

var (
	debug          bool
	workingDir     string
	modelID        string
	conversationID string
	ephemeral      bool
	dbPath         string
)

var cfg *config.Config
var logger *log.Logger
var logFile *os.File

var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Chat synchronization engine",
	Long: `chatsync runs an interactive chat on top of the synchronization
engine: optimistic message state merged with the authoritative store,
streaming generation, and resume of interrupted streams.

Usage:
  chatsync                          # New ephemeral chat with the default model
  chatsync -c <conversation-id>     # Continue a persisted conversation
  chatsync -m gpt-4o                # Pick the model

In-session commands: /save [title], /stop, /messages, /quit.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = config.SetupLogging(debug)
		if err := redirectLogs(); err != nil {
			return err
		}

		var err error
		cfg, err = config.Load(workingDir, debug)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

func init() {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}

	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug mode")
	rootCmd.PersistentFlags().StringVar(&workingDir, "wd", wd, "Working directory")
	rootCmd.Flags().StringVarP(&modelID, "model", "m", "", "Model to use")
	rootCmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Conversation id to continue")
	rootCmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "Do not persist; save explicitly with /save")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "Chat database path (defaults to ~/.chatsync/chat.db)")
}

// redirectLogs sends log output to a file under the app's logs directory so
// the interactive session stays clean. Debug mode keeps logging on stderr.
func redirectLogs() error {
	if debug {
		return nil
	}

	logsDir, err := storage.NewPathManager().GetLogsDir()
	if err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	logFile, err = os.OpenFile(filepath.Join(logsDir, "chatsync.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	logger.SetOutput(logFile)
	return nil
}

func cleanupLogging() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// Execute runs the root command.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer cleanupLogging()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cleanupLogging()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runChat(ctx context.Context) error {
	registry := models.NewRegistry()
	selectedID := modelID
	if selectedID == "" {
		selectedID = cfg.DefaultModel
	}
	if err := registry.Select(selectedID); err != nil {
		return fmt.Errorf("unknown model %q: %w", selectedID, err)
	}
	model, _ := registry.Selected()

	broker := events.NewSnapshotBroker()
	defer broker.Shutdown()

	store, err := openStore(broker)
	if err != nil {
		return err
	}
	defer store.Close()
	store.SetResponder(makeResponder(model))

	if cfg.Remote.URL != "" {
		remote := events.NewRemoteSource(cfg.Remote.URL, broker, logger)
		go remote.Run(ctx)
	}

	notifier := notifications.NewManager(notifications.NewBroker(), logger).ForConversation(conversationID)

	startID := conversationID
	if ephemeral {
		startID = ""
	}

	engine := chat.NewEngine(chat.Config{
		ConversationID:     startID,
		Model:              &model,
		Service:            store,
		Credentials:        cfg,
		Notifier:           notifier,
		Broker:             broker,
		Uploader:           store,
		MaxPending:         cfg.Sync.MaxPendingMessages,
		TransitionDebounce: cfg.TransitionDebounce(),
		Logger:             logger,
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "! %v\n", err)
		},
	})
	engine.Start(ctx)
	defer engine.Stop()

	fmt.Printf("chatsync: model %s (%s mode)\n", model.ID, engine.Kind())
	return repl(ctx, engine)
}

func openStore(broker *events.SnapshotBroker) (*storage.Store, error) {
	if dbPath != "" {
		return storage.NewStore(dbPath, broker, logger)
	}
	return storage.NewDefaultStore(broker, logger)
}

// makeResponder builds the store's reply generator from the configured
// provider credentials.
func makeResponder(model models.Model) func(ctx context.Context, history []message.Message) (string, error) {
	return func(ctx context.Context, history []message.Message) (string, error) {
		key, err := cfg.GetDecryptedKey(ctx, model.Provider, model.ID)
		if err != nil {
			return "", err
		}
		if key == "" {
			return "", fmt.Errorf("no API key configured for %s", model.Provider)
		}

		handler, err := llm.BuildHandler(model, key)
		if err != nil {
			return "", err
		}

		msgs := make([]llm.Message, 0, len(history))
		for _, m := range history {
			if m.Role == message.RoleContext {
				continue
			}
			msgs = append(msgs, llm.Message{Role: string(m.Role), Content: m.Content})
		}

		stream, err := handler.CreateMessage(ctx, "", msgs)
		if err != nil {
			return "", err
		}

		var sb strings.Builder
		for chunk := range stream {
			switch c := chunk.(type) {
			case llm.ApiStreamTextChunk:
				sb.WriteString(c.Text)
			case llm.ApiStreamErrorChunk:
				return "", c.Err
			}
		}
		return sb.String(), nil
	}
}

func repl(ctx context.Context, engine *chat.Engine) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit" || line == "/exit":
			return nil

		case line == "/stop":
			engine.StopGeneration(ctx)
			continue

		case line == "/messages":
			printMessages(engine.Messages())
			continue

		case strings.HasPrefix(line, "/save"):
			title := strings.TrimSpace(strings.TrimPrefix(line, "/save"))
			id, err := engine.SaveConversation(ctx, title)
			if err != nil {
				continue // already surfaced through OnError
			}
			engine.Start(ctx) // subscribe to the adopted conversation
			fmt.Printf("saved as %s\n", id)
			continue
		}

		if err := engine.SendMessage(ctx, line, nil); err != nil {
			continue // surfaced through OnError
		}
		waitForIdle(ctx, engine)
		printReply(engine.Messages())

		if ctx.Err() != nil {
			return nil
		}
	}
}

// waitForIdle blocks until generation settles or the context ends.
func waitForIdle(ctx context.Context, engine *chat.Engine) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !engine.IsStreaming() {
				return
			}
		}
	}
}

// printReply prints the trailing assistant turn after a send settles.
func printReply(msgs []message.Message) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == message.RoleAssistant {
			if msgs[i].Content != "" {
				fmt.Println(msgs[i].Content)
			}
			return
		}
	}
}

func printMessages(msgs []message.Message) {
	for _, m := range msgs {
		if !m.IsVisible() {
			continue
		}
		fmt.Printf("[%s] %s\n", m.Role, m.Content)
	}
}
