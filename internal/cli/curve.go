package cli

import (
	"time"

	"github.com/spf13/cobra"

	"lending-rate-engine/internal/app"
)

var (
	curveWindow  time.Duration
	curvePoints  int
	curveCSVPath string
	curvePNGPath string
)

var curveCmd = &cobra.Command{
	Use:   "curve",
	Short: "Export the rate curve (rcomp vs utilization) as CSV and/or PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.CurveOptions{
			Window:  curveWindow,
			Points:  curvePoints,
			CSVPath: curveCSVPath,
			PNGPath: curvePNGPath,
		}
		return getApp().Curve(cmd.Context(), opts)
	},
}

func init() {
	curveCmd.Flags().DurationVar(&curveWindow, "window", 24*time.Hour, "Accrual window per point")
	curveCmd.Flags().IntVar(&curvePoints, "points", 100, "Number of utilization points")
	curveCmd.Flags().StringVar(&curveCSVPath, "csv", "", "Path to write CSV data")
	curveCmd.Flags().StringVar(&curvePNGPath, "png", "", "Path to write PNG chart")
}
