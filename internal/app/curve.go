package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/holiman/uint256"
	chart "github.com/wcharczuk/go-chart/v2"

	"lending-rate-engine/internal/interest"
)

type curvePoint struct {
	utilization float64
	rcomp       uint256.Int
	aprPct      float64
	overflow    bool
}

// Curve sweeps utilization from zero to one on a fresh default curve and
// exports the resulting compounding factor per window as CSV and/or PNG.
func (a *App) Curve(ctx context.Context, opts CurveOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Points < 2 {
		return errors.New("--points must be at least 2")
	}
	window := opts.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	windowSecs := int64(window / time.Second)

	registry, cap := interest.NewRegistry("curve", interest.NopObserver{}, a.Logger)
	deposits := uint256.NewInt(interest.Precision)

	points := make([]curvePoint, 0, opts.Points+1)
	for i := 0; i <= opts.Points; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		key := "p" + strconv.Itoa(i)
		if err := registry.NewAsset(cap, key); err != nil {
			return err
		}

		borrows := uint256.NewInt(interest.Precision * uint64(i) / uint64(opts.Points))
		res, err := registry.Accrue(key, interest.AccrualSample{
			TotalDeposits: deposits,
			TotalBorrows:  borrows,
			LastUpdated:   0,
			Now:           uint64(window / time.Microsecond),
		})
		if err != nil {
			return err
		}

		point := curvePoint{
			utilization: float64(i) / float64(opts.Points),
			aprPct:      annualizedPct(&res.Rcomp, windowSecs).InexactFloat64(),
			overflow:    res.Overflow,
		}
		point.rcomp.Set(&res.Rcomp)
		points = append(points, point)
	}

	a.Logger.Info().Int("points", len(points)).Dur("window", window).Msg("curve swept")

	if opts.CSVPath != "" {
		if err := writeCurveCSV(opts.CSVPath, points, windowSecs); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeCurvePNG(opts.PNGPath, points); err != nil {
			return err
		}
	}
	return nil
}

func writeCurveCSV(path string, points []curvePoint, windowSecs int64) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"utilization", "window_secs", "rcomp", "apr_pct", "overflow"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range points {
		record := []string{
			strconv.FormatFloat(p.utilization, 'f', 4, 64),
			strconv.FormatInt(windowSecs, 10),
			p.rcomp.Dec(),
			strconv.FormatFloat(p.aprPct, 'f', 4, 64),
			strconv.FormatBool(p.overflow),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeCurvePNG(path string, points []curvePoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]float64, len(points))
	y := make([]float64, len(points))
	for i, p := range points {
		x[i] = p.utilization * 100
		y[i] = p.aprPct
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			Name: "Utilization (%)",
		},
		YAxis: chart.YAxis{
			Name: "APR (%)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.2f")
			},
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "Borrow APR",
				XValues: x,
				YValues: y,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}
