package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/marketlens/insightgate/domain/insight"
	"github.com/spf13/cobra"
)

var observationsCmd = &cobra.Command{
	Use:   "observations",
	Short: "Manage the local observation store",
}

var observationsImportCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Load observations from CSV into the local database",
	Long: `Load price observations into the local sqlite observation store.

Only valid when observations.driver is sqlite. The file must have a header
row with the columns user_id, category, region, week and price. Week is a
date (YYYY-MM-DD) and is normalized to the Monday of its week. Region may
be empty.

Examples:
  insightgate observations import observations.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runObservationsImport,
}

var importBatchSize int

func init() {
	rootCmd.AddCommand(observationsCmd)
	observationsCmd.AddCommand(observationsImportCmd)

	observationsImportCmd.Flags().IntVar(&importBatchSize, "batch", 1000, "rows per insert transaction")
}

func runObservationsImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	defer f.Close()

	_, stores, err := openStores(cmd.Context())
	if err != nil {
		return err
	}
	defer stores.Close()

	if stores.LocalObservations == nil {
		return errors.New("observations are not stored locally (observations.driver is not sqlite)")
	}

	batch := importBatchSize
	if batch <= 0 {
		batch = 1000
	}

	total := 0
	err = readObservations(f, func(obs []insight.Observation) error {
		if err := stores.LocalObservations.Insert(cmd.Context(), obs); err != nil {
			return err
		}
		total += len(obs)
		return nil
	}, batch)
	if err != nil {
		return fmt.Errorf("import failed after %d rows: %w", total, err)
	}

	fmt.Fprintf(out(cmd), "%s Imported %d observations\n", checkMark, total)
	return nil
}

var observationColumns = []string{"user_id", "category", "region", "week", "price"}

// readObservations parses CSV rows and hands them to flush in batches.
func readObservations(r io.Reader, flush func([]insight.Observation) error, batch int) error {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range observationColumns {
		if _, ok := index[col]; !ok {
			return fmt.Errorf("missing column %q", col)
		}
	}

	buf := make([]insight.Observation, 0, batch)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		o, err := parseObservation(rec, index)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		buf = append(buf, o)

		if len(buf) == batch {
			if err := flush(buf); err != nil {
				return err
			}
			buf = buf[:0]
		}
	}
	if len(buf) > 0 {
		return flush(buf)
	}
	return nil
}

func parseObservation(rec []string, index map[string]int) (insight.Observation, error) {
	field := func(name string) string {
		return strings.TrimSpace(rec[index[name]])
	}

	o := insight.Observation{
		UserID:   field("user_id"),
		Category: field("category"),
		Region:   field("region"),
	}
	if o.UserID == "" || o.Category == "" {
		return o, errors.New("user_id and category are required")
	}

	week, err := time.Parse("2006-01-02", field("week"))
	if err != nil {
		return o, fmt.Errorf("invalid week %q", field("week"))
	}
	o.Week = insight.WeekStart(week)

	o.Price, err = strconv.ParseFloat(field("price"), 64)
	if err != nil || math.IsNaN(o.Price) || math.IsInf(o.Price, 0) {
		return o, fmt.Errorf("invalid price %q", field("price"))
	}
	return o, nil
}
