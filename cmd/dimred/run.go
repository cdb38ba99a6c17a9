package main

import (
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openproblems/dimred"
	"github.com/openproblems/dimred/pkg/dataset"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Embed a count matrix with a registered method",
	Long: `Run reads a count matrix (.csv, .tsv or .fvecs), applies the method
and writes the embedding as CSV with one row per observation. Without
--output the embedding is written to stdout.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("method") {
			cfg.Method, _ = flags.GetString("method")
		}
		if flags.Changed("input") {
			cfg.Input, _ = flags.GetString("input")
		}
		if flags.Changed("output") {
			cfg.Output, _ = flags.GetString("output")
		}
		if flags.Changed("n-pca") {
			cfg.NPCA, _ = flags.GetInt("n-pca")
		}
		if flags.Changed("test") {
			cfg.Test, _ = flags.GetBool("test")
		}
		if cfg.Input == "" {
			return errors.New("no input: pass --input or set input in the config")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		storage := dimred.Memory
		if cfg.Store.Backend == "file" {
			storage = dimred.File
		}
		runner, err := dimred.New(dimred.Config{
			Method:      cfg.Method,
			NPCA:        cfg.NPCA,
			Test:        cfg.Test,
			Storage:     storage,
			StoragePath: cfg.Store.Path,
		})
		if err != nil {
			return err
		}
		defer runner.Close()

		ds, err := dataset.Load(cfg.Input)
		if err != nil {
			return err
		}
		slog.Info("loaded dataset", "path", cfg.Input, "n_obs", ds.NObs(), "n_vars", ds.NVars())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		start := time.Now()
		out, rec, err := runner.RunAndStore(ctx, ds)
		if err != nil {
			return err
		}
		slog.Info("embedding computed", "method", cfg.Method, "id", rec.ID,
			"code_version", rec.CodeVersion, "elapsed", time.Since(start))

		emb := out.Obsm[dataset.ObsmEmbedding]
		if cfg.Output == "" {
			return dataset.WriteEmbeddingCSV(os.Stdout, out.ObsNames, emb)
		}
		if err := dataset.SaveEmbedding(cfg.Output, out.ObsNames, emb); err != nil {
			return err
		}
		slog.Info("embedding written", "path", cfg.Output)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("method", "m", "umap_logCPM_1kHVG", "Method to run")
	runCmd.Flags().StringP("input", "i", "", "Input count matrix")
	runCmd.Flags().StringP("output", "o", "", "Output embedding CSV")
	runCmd.Flags().Int("n-pca", 50, "Principal components used for the neighbour graph")
	runCmd.Flags().Bool("test", false, "Mark the run as a test run")
}
