package main

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"stratbench/internal/domain"
)

var fetchFlags struct {
	data dataFlags
	csv  bool
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download bars into the local cache and summarise them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		f := &fetchFlags
		info, err := f.data.info()
		if err != nil {
			return err
		}
		a, err := loadApp(f.data.source)
		if err != nil {
			return err
		}
		frame, err := a.provider.FetchBars(cmd.Context(), info)
		if err != nil {
			return err
		}
		a.log.Info("bars fetched", "data", info.String(), "source", a.provider.Name(), "bars", frame.Len())

		if f.csv {
			return writeBarsCSV(cmd, frame)
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d bars from %s to %s\n",
			info, frame.Len(), frame.Start().Format(time.DateTime), frame.End().Format(time.DateTime))
		return err
	},
}

func writeBarsCSV(cmd *cobra.Command, frame domain.Frame) error {
	w := csv.NewWriter(cmd.OutOrStdout())
	if err := w.Write([]string{"Date", "Open", "High", "Low", "Close", "Volume"}); err != nil {
		return err
	}
	ff := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, b := range frame.Bars {
		rec := []string{b.Timestamp.Format(time.RFC3339), ff(b.Open), ff(b.High), ff(b.Low), ff(b.Close), strconv.FormatInt(b.Volume, 10)}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func init() {
	f := &fetchFlags
	f.data.register(fetchCmd)
	fetchCmd.Flags().BoolVar(&f.csv, "csv", false, "write the bars as CSV")
	rootCmd.AddCommand(fetchCmd)
}
