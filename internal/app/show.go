package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent accrual samples, and optionally recent curve events.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show history")
	}
	if closeStore != nil {
		defer closeStore()
	}

	samples, err := store.ListRecentSamples(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(os.Stdout, "no samples found")
	} else {
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Time (UTC)\tAsset\tUtilization\tRcomp\tElapsed(s)\tOverflow\tStatus\tError")

		for _, sample := range samples {
			errMsg := ""
			if sample.Error != nil {
				errMsg = sanitizeInline(*sample.Error)
			}
			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%s\t%d\t%v\t%s\t%s\n",
				sample.Bucket.UTC().Format(time.RFC3339),
				sample.AssetKey,
				sample.Utilization.Shift(-9).StringFixed(4),
				sample.Rcomp.String(),
				sample.ElapsedSecs,
				sample.Overflow,
				sample.Status,
				errMsg,
			)
		}
		writer.Flush()
	}

	if !opts.Events {
		return nil
	}

	events, err := store.ListRecentEvents(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "no curve events found")
		return nil
	}

	fmt.Fprintln(os.Stdout)
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tCaller\tAsset\tRi\tTcrit\tParams")
	for _, event := range events {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			event.CreatedAt.UTC().Format(time.RFC3339),
			event.Caller,
			event.AssetKey,
			event.Ri.String(),
			event.Tcrit.String(),
			sanitizeInline(string(event.Params)),
		)
	}
	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
