package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/tcrun/pkg/store"
)

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history [id]",
	Short: "List recorded attempts of a test case",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	st, err := openHistory()
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.History(cmd.Context(), args[0], historyLimit)
	if err != nil {
		return err
	}
	if historyJSON {
		return printJSON(records)
	}
	if len(records) == 0 {
		fmt.Printf("No recorded attempts for %s\n", args[0])
		return nil
	}
	fmt.Printf("  %-26s  %-3s  %-12s  %-10s  %s\n", "RUN", "#", "VERDICT", "DURATION", "STARTED")
	for _, r := range records {
		fmt.Printf("  %-26s  %-3d  %-12s  %-10s  %s", r.RunID, r.Attempt, r.Verdict, r.Duration.Round(time.Millisecond), r.StartedAt.Local().Format(time.DateTime))
		if r.Error != "" {
			fmt.Printf("  %s error: %s", r.ErrKind, r.Error)
		}
		fmt.Println()
	}
	return nil
}

var historyRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent orchestrated runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openHistory()
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.Runs(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		if historyJSON {
			return printJSON(runs)
		}
		if len(runs) == 0 {
			fmt.Println("No recorded runs")
			return nil
		}
		fmt.Printf("  %-26s  %-19s  %-10s  %s\n", "RUN", "STARTED", "PASSED", "ATTEMPTS")
		for _, r := range runs {
			fmt.Printf("  %-26s  %-19s  %-10s  %d\n", r.RunID, r.StartedAt.Local().Format(time.DateTime),
				fmt.Sprintf("%d/%d", r.Passed, r.TestCases), r.Attempts)
		}
		return nil
	},
}

func openHistory() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, usageError(err)
	}
	if _, err := os.Stat(cfg.HistoryDB); err != nil {
		return nil, fmt.Errorf("no run history at %s: %w", cfg.HistoryDB, err)
	}
	return store.Open(cfg.HistoryDB)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	historyCmd.PersistentFlags().IntVar(&historyLimit, "limit", 20, "Maximum number of rows (0 for all)")
	historyCmd.PersistentFlags().BoolVar(&historyJSON, "json", false, "Output as JSON")
	historyCmd.AddCommand(historyRunsCmd)
	rootCmd.AddCommand(historyCmd)
}
