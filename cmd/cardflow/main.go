package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cardflow-io/cardflow/pkg/config"
	"github.com/cardflow-io/cardflow/pkg/extract"
	jsonpkg "github.com/cardflow-io/cardflow/pkg/json"
	"github.com/cardflow-io/cardflow/pkg/logger"
	"github.com/cardflow-io/cardflow/pkg/observability"
	"github.com/cardflow-io/cardflow/pkg/sink"
)

var version = "0.2.0"

// inboundEvent is the JSON envelope an orchestrator hands to the
// extract command.
type inboundEvent struct {
	Kind                      string                   `json:"kind"`
	Mode                      string                   `json:"mode"`
	ExternalSyncUnitID        string                   `json:"external_sync_unit_id"`
	OrgID                     string                   `json:"org_id"`
	ConnectionKey             string                   `json:"connection_key"`
	LastSuccessfulSyncStarted string                   `json:"last_successful_sync_started,omitempty"`
	BudgetSeconds             int                      `json:"budget_seconds,omitempty"`
	State                     *extract.CheckpointState `json:"state,omitempty"`
}

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "cardflow",
		Short: "Cardflow - Trello extraction pipeline",
		Long: `Cardflow extracts boards, members, cards, comments and attachments
from Trello, normalizes them and delivers batches to a local directory
or an orchestrator callback.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cardflow %s\n", version)
		},
	})

	root.AddCommand(newExtractCommand())
	root.AddCommand(newConfigCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newExtractCommand() *cobra.Command {
	var (
		inputPath   string
		configPath  string
		outputDir   string
		callbackURL string
		token       string
	)

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Run one extraction invocation",
		Long: `Reads an inbound event (JSON) describing the extraction kind, runs
the corresponding phase, and writes the emitted event to stdout. State
in the emitted event must be persisted by the caller and passed back on
the next invocation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd.Context(), inputPath, configPath, outputDir, callbackURL, token)
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "-", "inbound event file, - for stdin")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "configuration file (YAML)")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "./out", "directory for JSONL output")
	cmd.Flags().StringVar(&callbackURL, "callback-url", "", "orchestrator callback base URL; overrides --output-dir")
	cmd.Flags().StringVar(&token, "token", "", "bearer token for the callback")
	return cmd
}

func newConfigCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  `Loads the configuration file, applies defaults and environment overrides, and prints the result as YAML.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "configuration file (YAML)")
	return cmd
}

func runExtract(ctx context.Context, inputPath, configPath, outputDir, callbackURL, token string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Logs go to stderr so the emitted event stays alone on stdout.
	if err := logger.Init(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Encoding:    "json",
		OutputPaths: []string{"stderr"},
	}); err != nil {
		return err
	}
	defer logger.Sync()
	lg := logger.Get()

	if cfg.Observability.EnableTracing {
		if err := observability.Initialize(observability.DefaultTracingConfig()); err != nil {
			lg.Warn("tracing initialization failed", zap.Error(err))
		}
	}

	inbound, err := readInbound(inputPath)
	if err != nil {
		return err
	}

	var out extract.Sink
	if callbackURL != "" {
		out = sink.NewCallbackSink(callbackURL, token, nil)
	} else {
		jsonl, err := sink.NewJSONLSink(outputDir, cfg.Performance.BufferSize)
		if err != nil {
			return err
		}
		defer jsonl.Close()
		out = jsonl
	}

	req := extract.Request{
		Kind:               extract.Kind(inbound.Kind),
		Mode:               extract.Mode(inbound.Mode),
		ExternalSyncUnitID: inbound.ExternalSyncUnitID,
		OrgID:              inbound.OrgID,
		ConnectionKey:      inbound.ConnectionKey,
		State:              inbound.State,
		Budget:             time.Duration(inbound.BudgetSeconds) * time.Second,
	}
	if inbound.ConnectionKey == "" {
		req.ConnectionKey = cfg.Security.ConnectionKey
	}
	if inbound.Mode == "" {
		req.Mode = extract.ModeInitial
	}
	if inbound.LastSuccessfulSyncStarted != "" {
		t, perr := time.Parse(time.RFC3339, inbound.LastSuccessfulSyncStarted)
		if perr != nil {
			return fmt.Errorf("invalid last_successful_sync_started: %w", perr)
		}
		req.LastSuccessfulSyncStarted = t
	}

	pipeline := extract.NewPipeline(cfg, out)
	event := pipeline.Run(ctx, req)

	enc := jsonpkg.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(event)
}

func loadConfig(path string) (*config.BaseConfig, error) {
	if path == "" {
		cfg := config.NewBaseConfig("cardflow")
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

func readInbound(path string) (*inboundEvent, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open inbound event: %w", err)
		}
		defer f.Close()
		r = f
	}

	var inbound inboundEvent
	if err := jsonpkg.Decode(r, &inbound); err != nil {
		return nil, fmt.Errorf("failed to decode inbound event: %w", err)
	}
	if inbound.Kind == "" {
		return nil, fmt.Errorf("inbound event missing kind")
	}
	return &inbound, nil
}
