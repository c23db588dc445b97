// Command streamprobe sends a list of prompts to a running server and records
// how long each reply takes to start and to finish.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	var (
		opts      probeOptions
		queryFile string
		outDir    string
	)
	cmd := &cobra.Command{
		Use:          "streamprobe",
		Short:        "Measure time to first fragment and total latency of streamed replies",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			queries, err := readQueries(queryFile)
			if err != nil {
				return err
			}
			if opts.Token == "" {
				opts.Token = os.Getenv("STREAMPROBE_TOKEN")
			}

			started := time.Now()
			runID := "probe-" + uuid.NewString()
			log.Info().Str("run_id", runID).Int("queries", len(queries)).Int("concurrency", opts.Concurrency).Msg("probe started")

			results := runProbe(cmd.Context(), opts, queries)
			summary := summarize(runID, started, opts, results)

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create results dir: %w", err)
			}
			stamp := started.Format("20060102-150405")
			jsonPath := filepath.Join(outDir, fmt.Sprintf("streamprobe-%s.json", stamp))
			csvPath := filepath.Join(outDir, fmt.Sprintf("streamprobe-%s.csv", stamp))
			if err := writeJSON(jsonPath, summary); err != nil {
				return fmt.Errorf("write JSON: %w", err)
			}
			if err := writeCSV(csvPath, results); err != nil {
				return fmt.Errorf("write CSV: %w", err)
			}

			log.Info().
				Int("ok", summary.Succeeded).
				Int("failed", summary.Failed).
				Int64("ttff_p50_ms", summary.FirstFragmentP50Ms).
				Int64("total_p95_ms", summary.TotalP95Ms).
				Str("json", jsonPath).
				Str("csv", csvPath).
				Msg("probe finished")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.BaseURL, "url", "http://127.0.0.1:5000", "server base URL")
	f.StringVar(&opts.Token, "token", "", "bearer token (default $STREAMPROBE_TOKEN)")
	f.UintVar(&opts.ConversationID, "conversation", 0, "append to this conversation instead of creating one per query")
	f.IntVar(&opts.Concurrency, "concurrency", 1, "requests in flight")
	f.DurationVar(&opts.Timeout, "timeout", 2*time.Minute, "per-request timeout")
	f.DurationVar(&opts.Pause, "pause", 0, "pause between requests on one worker")
	f.StringVar(&queryFile, "queries", "", "queries.json (array of strings or {\"q\": ...} objects)")
	f.StringVar(&outDir, "out", filepath.Join("cmd", "streamprobe", "results"), "results directory")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("streamprobe failed")
		os.Exit(1)
	}
}
