package prepare

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"vectorize/internal/config"
	"vectorize/internal/corpus"
	"vectorize/internal/embedding"
	job "vectorize/internal/prepare"

	"github.com/spf13/cobra"
)

var (
	configPath string
	input      string
	output     string
	batchSize  int
	mock       bool
)

var Cmd = &cobra.Command{
	Use:   "prepare",
	Short: "Compute vectors for a phrase corpus",
	Long: `Reads phrase records {id, text, trans?, tags?} from the input corpus,
encodes them in chunks and writes {id, text, trans, tags?, vector} records to
the output corpus. The output is only replaced once every record succeeded.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load(configPath, func(c *config.Config) {
			if input != "" {
				c.Prepare.Input = input
			}
			if output != "" {
				c.Prepare.Output = output
			}
			if batchSize > 0 {
				c.Prepare.BatchSize = batchSize
			}
			if mock {
				c.Model.Backend = embedding.BackendMock
			}
		})
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		provider, cleanup, err := embedding.Setup(cfg, "")
		if err != nil {
			return fmt.Errorf("setting up embedding provider: %w", err)
		}
		defer cleanup()

		// Fail before reading the corpus if the model cannot be loaded.
		if _, err := provider.Acquire(ctx); err != nil {
			return err
		}

		j := job.NewJob(provider, corpus.NewStore(), job.Options{
			Input:     cfg.Prepare.Input,
			Output:    cfg.Prepare.Output,
			BatchSize: cfg.Prepare.BatchSize,
			Normalize: true,
			Retry: job.RetryPolicy{
				MaxAttempts: cfg.Prepare.RetryAttempts,
				Delay:       cfg.Prepare.RetryDelay,
			},
		})
		report, err := j.Run(ctx)
		if err != nil {
			return err
		}
		slog.Info("preparation completed",
			"items", report.Items,
			"chunks", report.Chunks,
			"retries", report.Retries,
			"duplicates", report.Duplicates,
			"dim", report.Dimensions,
			"duration", report.Duration,
		)
		return nil
	},
}

func init() {
	Cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	Cmd.Flags().StringVarP(&input, "input", "i", "", "phrase corpus (json, jsonl or yaml)")
	Cmd.Flags().StringVarP(&output, "output", "o", "", "vector corpus to write")
	Cmd.Flags().IntVarP(&batchSize, "batch-size", "b", 0, "texts per encode call")
	Cmd.Flags().BoolVar(&mock, "mock", false, "use deterministic mock vectors instead of a model")
}
