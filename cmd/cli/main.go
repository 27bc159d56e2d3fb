package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"tenderwatch/adapters/excel"
	"tenderwatch/domain/features"
	"tenderwatch/internal/config"
	"tenderwatch/internal/container"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tenderwatch-cli",
		Short: "Score tenders and explain what would lower their corruption risk",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Missing .env is fine; the environment may already be set.
			_ = godotenv.Load()
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newScoreCmd(),
		newExplainCmd(),
		newBatchCmd(),
		newCacheCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newScoreCmd() *cobra.Command {
	var featuresFile string

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute the risk score of a feature vector",
		Long: `Compute the corruption-risk index of one tender.

The features file is a JSON object of feature name to value; "-" reads stdin.

Example: tenderwatch-cli score --features tender.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			vec, err := readFeatures(cmd.InOrStdin(), featuresFile)
			if err != nil {
				return err
			}
			c, err := newContainer(cmd.Context(), false, nil)
			if err != nil {
				return err
			}
			defer c.Shutdown(cmd.Context())

			return printJSON(cmd.OutOrStdout(), c.Explanations.Score(vec))
		},
	}

	cmd.Flags().StringVar(&featuresFile, "features", "-", "JSON file with the tender's features")

	return cmd
}

func newExplainCmd() *cobra.Command {
	var (
		featuresFile string
		score        float64
		seed         int64
		topK         int
		refresh      bool
		actionable   bool
	)

	cmd := &cobra.Command{
		Use:   "explain [tender-id]",
		Short: "Generate counterfactual explanations for one tender",
		Long: `Search for the smallest realistic feature changes that bring the tender's risk
score below the target. Results are cached when DATABASE_URL is set.

Example: tenderwatch-cli explain T-2024-0042 --features tender.json --score 65 --seed 12345`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vec, err := readFeatures(cmd.InOrStdin(), featuresFile)
			if err != nil {
				return err
			}

			c, err := newContainer(cmd.Context(), true, func(cfg *config.Config) {
				if cmd.Flags().Changed("seed") {
					cfg.Run.Seed = seed
				}
				if topK > 0 {
					cfg.Engine.TopK = topK
				}
			})
			if err != nil {
				return err
			}
			defer c.Shutdown(cmd.Context())

			tender := features.Tender{ID: args[0], Features: vec}
			if cmd.Flags().Changed("score") {
				tender.Score = &score
			}

			explain := c.Explanations.Explain
			if refresh {
				explain = c.Explanations.Refresh
			}
			explanation, err := explain(cmd.Context(), tender)
			if err != nil {
				return err
			}
			if actionable {
				explanation.Counterfactuals = c.Explanations.Actionable(explanation.Counterfactuals)
			}
			return printJSON(cmd.OutOrStdout(), explanation)
		},
	}

	cmd.Flags().StringVar(&featuresFile, "features", "-", "JSON file with the tender's features")
	cmd.Flags().Float64Var(&score, "score", 0, "Current risk score (computed from the features when omitted)")
	cmd.Flags().Int64Var(&seed, "seed", 42, "Random seed for deterministic operations")
	cmd.Flags().IntVar(&topK, "top-k", 0, "Number of counterfactuals to return (default from CF_TOP_K)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Ignore and replace any cached result")
	cmd.Flags().BoolVar(&actionable, "actionable", false, "Only print counterfactuals that are realistic to act on")

	return cmd
}

func newBatchCmd() *cobra.Command {
	var (
		sheetFile string
		sheetName string
		seed      int64
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Explain every tender in a spreadsheet export",
		Long: `Read tenders from an .xlsx or .csv file and explain each one.

The sheet needs a tender_id column; columns named after features become the feature
vector and an optional risk_score column supplies the current score.

Example: tenderwatch-cli batch --sheet tenders.xlsx --sheet-name Tenders`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newContainer(cmd.Context(), true, func(cfg *config.Config) {
				if cmd.Flags().Changed("seed") {
					cfg.Run.Seed = seed
				}
			})
			if err != nil {
				return err
			}
			defer c.Shutdown(cmd.Context())

			tenders, err := excel.NewFeatureSheetReader(sheetFile, sheetName, c.Domain.Model).ReadTenders()
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), c.Explanations.ExplainBatch(cmd.Context(), tenders))
		},
	}

	cmd.Flags().StringVar(&sheetFile, "sheet", "", "Spreadsheet (.xlsx or .csv) with one tender per row")
	cmd.Flags().StringVar(&sheetName, "sheet-name", excel.DefaultSheet, "Worksheet to read from .xlsx files")
	cmd.Flags().Int64Var(&seed, "seed", 42, "Random seed for deterministic operations")
	_ = cmd.MarkFlagRequired("sheet")

	return cmd
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the counterfactual cache (needs DATABASE_URL)",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newContainer(cmd.Context(), true, nil)
			if err != nil {
				return err
			}
			defer c.Shutdown(cmd.Context())
			if !c.Cache.Enabled() {
				return fmt.Errorf("DATABASE_URL is not set")
			}
			return printJSON(cmd.OutOrStdout(), c.Explanations.CacheStats(cmd.Context()))
		},
	}

	invalidate := &cobra.Command{
		Use:   "invalidate [tender-id]",
		Short: "Drop the cached counterfactuals of one tender",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newContainer(cmd.Context(), true, nil)
			if err != nil {
				return err
			}
			defer c.Shutdown(cmd.Context())
			if !c.Cache.Enabled() {
				return fmt.Errorf("DATABASE_URL is not set")
			}
			removed, err := c.Explanations.Invalidate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{"tender_id": args[0], "invalidated": removed})
		},
	}

	cmd.AddCommand(stats, invalidate)
	return cmd
}

// newContainer loads configuration, applies overrides and optionally attaches the cache database.
func newContainer(ctx context.Context, withDatabase bool, override func(*config.Config)) (*container.Container, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
	}

	c, err := container.New(cfg, nil)
	if err != nil {
		return nil, err
	}

	if withDatabase && cfg.Database.Enabled() {
		c.EnableCache(ctx)
	}
	return c, nil
}

func readFeatures(stdin io.Reader, path string) (features.Vector, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read features: %w", err)
	}

	vec := features.Vector{}
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, fmt.Errorf("features must be a JSON object of name to number: %w", err)
	}
	return vec, nil
}

func printJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
