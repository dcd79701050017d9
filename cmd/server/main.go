package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vidstab-bot/messenger-webhook-go/internal/config"
	"github.com/vidstab-bot/messenger-webhook-go/internal/nested"
	"github.com/vidstab-bot/messenger-webhook-go/internal/service"
	"github.com/vidstab-bot/messenger-webhook-go/pkg/logger"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "vidstab-webhook",
		Short:         "Messenger webhook that stabilizes videos",
		Long:          "Receives Messenger webhook events, stabilizes attached videos and sends them back to the sender",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	serve := serveCmd()
	rootCmd.RunE = serve.RunE

	rootCmd.AddCommand(serve, invokeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Log.Sync() }()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			app := NewApp(cfg)
			defer app.Close()

			if err := app.Initialize(ctx); err != nil {
				logger.Log.Error("Failed to initialize application", zap.Error(err))
				return err
			}

			if err := app.Serve(ctx); err != nil {
				logger.Log.Error("Server stopped with error", zap.Error(err))
				return err
			}

			logger.Log.Info("Server stopped gracefully")
			return nil
		},
	}
}

func invokeCmd() *cobra.Command {
	var eventFile string

	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Run the pipeline once on a raw event read from a JSON file",
		Long: "Run the pipeline once on a raw event, the payload as the webhook front door " +
			"would build it ({\"params\": {\"querystring\": ...}, \"body-json\": ...}).",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Log.Sync() }()

			event, err := readEvent(eventFile)
			if err != nil {
				return err
			}
			logger.Log.Debug("Loaded event",
				zap.String("file", eventFile),
				zap.Strings("keys", event.Keys()),
			)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			app := NewApp(cfg)
			defer app.Close()

			if err := app.Initialize(ctx); err != nil {
				return err
			}

			res := app.pipeline.Handle(ctx, event)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(invokeOutput(event, res))
		},
	}

	cmd.Flags().StringVar(&eventFile, "event", "", "Path to a raw event JSON file")
	_ = cmd.MarkFlagRequired("event")

	return cmd
}

var errEmptyEvent = errors.New("event file holds an empty object")

// readEvent loads a raw event, keeping the key order of every object.
func readEvent(path string) (*nested.Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open event file: %w", err)
	}

	var event nested.Map
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("read event file: %w", err)
	}
	if event.Len() == 0 {
		return nil, errEmptyEvent
	}
	return &event, nil
}

// invokeOutput is what invoke prints: the outcome, the fields the pipeline
// filled in and the event it ran on.
func invokeOutput(event *nested.Map, res service.Result) map[string]any {
	out := map[string]any{
		"outcome": res.Outcome,
		"event":   event,
	}
	if res.Challenge != 0 {
		out["challenge"] = res.Challenge
	}
	if res.DedupKey != "" {
		out["dedupKey"] = res.DedupKey
	}
	if res.Stage != "" {
		out["stage"] = res.Stage
	}
	if res.Err != nil {
		out["error"] = res.Err.Error()
	}
	return out
}

func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		logger.Log.Error("Invalid configuration", zap.Error(err))
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
