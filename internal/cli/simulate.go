package cli

import (
	"time"

	"github.com/spf13/cobra"

	"lending-rate-engine/internal/app"
)

var (
	simulateAsset    string
	simulateDeposits string
	simulateBorrows  string
	simulateSteps    int
	simulateStep     time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Accrue a fixed pool snapshot offline and print the results",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{
			AssetKey: simulateAsset,
			Deposits: simulateDeposits,
			Borrows:  simulateBorrows,
			Steps:    simulateSteps,
			Step:     simulateStep,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateAsset, "asset", "sim", "Asset key to simulate")
	simulateCmd.Flags().StringVar(&simulateDeposits, "deposits", "100000000000", "Total deposits (integer units)")
	simulateCmd.Flags().StringVar(&simulateBorrows, "borrows", "60000000000", "Total borrows (integer units)")
	simulateCmd.Flags().IntVar(&simulateSteps, "steps", 24, "Number of accrual steps")
	simulateCmd.Flags().DurationVar(&simulateStep, "step", time.Hour, "Length of each step")
}
