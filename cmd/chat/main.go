// Command chat is a terminal front end for the mock chat backend. It drives
// the same optimistic send/retry workflow a browser client would.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/mockchat/backend/internal/clock"
	"github.com/zhouzirui/mockchat/backend/internal/connection"
	"github.com/zhouzirui/mockchat/backend/internal/conversation"
	"github.com/zhouzirui/mockchat/backend/internal/model/chat"
	"github.com/zhouzirui/mockchat/backend/internal/responder"
)

var (
	serverFlag       string
	conversationFlag string
	historyFlag      bool
	verboseFlag      bool
	dropRateFlag     float64
)

var rootCmd = &cobra.Command{
	Use:   "chat",
	Short: "Terminal client for the mock chat backend",
	Long: `chat sends each line you type to the mock backend and prints the
conversation as it changes.

Commands:
  /retry <id>   resend a failed message (an id prefix is enough)
  /clear        clear the conversation here and on the server
  /reconnect    restart the simulated connection
  /quit         exit`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

func init() {
	_ = godotenv.Load()

	defaultServer := os.Getenv("MOCKCHAT_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}

	rootCmd.Flags().StringVarP(&serverFlag, "server", "s", defaultServer, "backend base URL")
	rootCmd.Flags().StringVarP(&conversationFlag, "conversation", "c", chat.DefaultConversationID, "conversation id")
	rootCmd.Flags().BoolVar(&historyFlag, "history", true, "load the server transcript on start")
	rootCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "debug logging to stderr")
	rootCmd.Flags().Float64Var(&dropRateFlag, "drop-rate", connection.DefaultConfig().DisconnectProbability, "simulated disconnect probability per check")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runChat(ctx context.Context) error {
	level := zerolog.WarnLevel
	if verboseFlag {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()

	if dropRateFlag < 0 || dropRateFlag > 1 {
		return fmt.Errorf("--drop-rate must be within [0, 1], got %v", dropRateFlag)
	}

	client := responder.NewClient(serverFlag, nil, &logger)

	wf, err := conversation.New(conversation.Options{
		Responder:      client,
		History:        client,
		Logger:         &logger,
		ConversationID: conversationFlag,
	})
	if err != nil {
		return err
	}
	defer wf.Close()

	simCfg := connection.DefaultConfig()
	simCfg.DisconnectProbability = dropRateFlag
	sim := connection.New(simCfg, clock.Real{}, nil, &logger)
	defer sim.Stop()

	r := newREPL(wf, sim, client, os.Stdout)
	r.attach()
	sim.Start()

	if historyFlag {
		if err := wf.LoadHistory(ctx); err != nil {
			r.printf("could not load history: %v\n", err)
		}
	}

	return r.run(ctx, os.Stdin)
}
