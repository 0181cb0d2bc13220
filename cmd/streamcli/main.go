// streamcli is a terminal client for the storefront's real-time channel:
// it tails notifications and chat pushes, and can send messages or mark
// conversations read from the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openmall/realtime/internal/app"
	"github.com/openmall/realtime/internal/auth"
	"github.com/openmall/realtime/internal/config"
	"github.com/openmall/realtime/internal/conn"
	"github.com/openmall/realtime/internal/log"
	"github.com/openmall/realtime/internal/session"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type cliOptions struct {
	configPath string
	baseURL    string
	token      string
	logLevel   string
}

func rootCmd() *cobra.Command {
	opts := &cliOptions{}

	cmd := &cobra.Command{
		Use:           "streamcli",
		Short:         "Terminal client for the storefront real-time channel",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "", "backend base URL")
	cmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("OPENMALL_TOKEN"), "bearer token")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(tailCmd(opts), sendCmd(opts), markReadCmd(opts))
	return cmd
}

func buildClient(opts *cliOptions) (*app.Client, error) {
	logger := log.New(firstNonEmpty(opts.logLevel, "info"))

	cfg, path, err := config.Load(logger, opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger = log.New(firstNonEmpty(opts.logLevel, cfg.LogLevel))
	logger.Debug().Str("config", path).Msg("configuration loaded")

	if opts.baseURL != "" {
		cfg.BaseURL = opts.baseURL
	}

	term := &terminalUI{}
	client, err := app.New(cfg, logger, app.Deps{
		Credentials: auth.NewMemoryCredentials(opts.token),
		Prompter:    term,
		Notifier:    term,
		Router:      term,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func tailCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tail",
		Short: "Connect and print incoming events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := buildClient(opts)
			if err != nil {
				return err
			}

			client.Manager.AddStateListener("cli", func(state conn.State) {
				fmt.Printf("-- connection %s\n", state)
			})
			client.Store.AddListener("cli", func(sessions []session.Session, totalUnread int) {
				fmt.Printf("-- %d conversations, %d unread\n", len(sessions), totalUnread)
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client.Run(ctx)
			return nil
		},
	}
}

func sendCmd(opts *cliOptions) *cobra.Command {
	var sessionID int64
	var text string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a chat message on a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := buildClient(opts)
			if err != nil {
				return err
			}
			defer client.Manager.Deactivate()

			client.Manager.Activate()
			if err := waitConnected(client, 15*time.Second); err != nil {
				return err
			}
			if !client.Store.SendChat(sessionID, text, "text") {
				return fmt.Errorf("send failed: not connected")
			}
			fmt.Println("sent")
			return nil
		},
	}
	cmd.Flags().Int64Var(&sessionID, "session", 0, "session id")
	cmd.Flags().StringVar(&text, "text", "", "message text")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func markReadCmd(opts *cliOptions) *cobra.Command {
	var sessionID int64

	cmd := &cobra.Command{
		Use:   "mark-read",
		Short: "Mark a session read",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := buildClient(opts)
			if err != nil {
				return err
			}
			defer client.Manager.Deactivate()

			client.Manager.Activate()
			if err := waitConnected(client, 15*time.Second); err != nil {
				return err
			}
			if !client.Manager.MarkRead(sessionID) {
				return fmt.Errorf("mark-read failed: not connected")
			}
			fmt.Println("marked read")
			return nil
		},
	}
	cmd.Flags().Int64Var(&sessionID, "session", 0, "session id")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func waitConnected(client *app.Client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if client.Manager.State() == conn.StateConnected {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("not connected after %s", timeout)
}

// terminalUI satisfies the prompt, notice and navigation collaborators on a
// plain terminal.
type terminalUI struct{}

func (t *terminalUI) PromptBlocking(title, message string) error {
	fmt.Printf("\n!! %s\n   %s\n   press Enter to acknowledge: ", title, message)
	_, err := fmt.Scanln()
	return err
}

func (t *terminalUI) Notify(title, message string) {
	fmt.Printf("** %s: %s\n", title, message)
}

func (t *terminalUI) Push(path string) error {
	fmt.Printf("-- navigate to %s\n", path)
	return nil
}

func (t *terminalUI) Reload(path string) {
	fmt.Printf("-- reload at %s\n", path)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
