// Package emit implements the wide-matrix emitter (§4.G): pivoting a long
// factor frame to a datetime-indexed, symbol-columned matrix, validating
// its shape, and routing it to the factor store under the namespace its
// name classifies into.
package emit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/cs7649/surgefactor/internal/factoraggregate"
	"github.com/cs7649/surgefactor/internal/store"
)

// Pivot rotates a long factor frame (one row per symbol/bar_time) into a
// wide matrix: index = ascending bar_time, columns = deduplicated sorted
// symbols, cells = factor_value (NaN where a (bar_time, symbol) pair has
// no row).
func Pivot(rows []factoraggregate.Row) *store.WideMatrix {
	indexSet := map[time.Time]bool{}
	colSet := map[string]bool{}
	for _, r := range rows {
		indexSet[r.BarTime] = true
		colSet[r.Symbol] = true
	}

	index := make([]time.Time, 0, len(indexSet))
	for t := range indexSet {
		index = append(index, t)
	}
	sort.Slice(index, func(i, j int) bool { return index[i].Before(index[j]) })

	cols := make([]string, 0, len(colSet))
	for s := range colSet {
		cols = append(cols, s)
	}
	sort.Strings(cols)

	rowIdx := make(map[time.Time]int, len(index))
	for i, t := range index {
		rowIdx[t] = i
	}
	colIdx := make(map[string]int, len(cols))
	for j, s := range cols {
		colIdx[s] = j
	}

	cells := make([][]float64, len(index))
	for i := range cells {
		cells[i] = make([]float64, len(cols))
		for j := range cells[i] {
			cells[i][j] = math.NaN()
		}
	}

	for _, r := range rows {
		cells[rowIdx[r.BarTime]][colIdx[r.Symbol]] = r.Value
	}

	return &store.WideMatrix{Index: index, Columns: cols, Cells: cells}
}

// Validate checks the pivoted matrix's row count against the expected
// rows-per-day for the output frequency (§4.G): 24 for M10, 1 for EOD.
// Mismatches are logged as warnings, never returned as errors — a sparse
// matrix is still emitted.
func Validate(log *slog.Logger, matrix *store.WideMatrix, outputFreq string) {
	if log == nil {
		log = slog.Default()
	}

	expected := 1
	if outputFreq == "M10" {
		expected = 24
	}

	byDay := map[string]int{}
	for _, t := range matrix.Index {
		byDay[t.Format("20060102")]++
	}

	for day, n := range byDay {
		if n != expected {
			log.Warn("unexpected row count for settlement day",
				"date", day, "expected", expected, "actual", n, "output_freq", outputFreq)
		}
	}
}

// Emit routes a pivoted matrix to fs under the namespace its factor name
// classifies into (§4.G), within the date range [start, end].
func Emit(ctx context.Context, fs store.FactorStore, log *slog.Logger, factorName string, matrix *store.WideMatrix, start, end string) error {
	if log == nil {
		log = slog.Default()
	}
	Validate(log, matrix, outputFreqOf(factorName))

	namespace := factoraggregate.Classify(factorName)
	if namespace == factoraggregate.NamespaceM10SameTime && !strings.Contains(factorName, "sametime") {
		log.Warn("unrecognized factor name, routing to M10/Same_Time", "factor", factorName)
	}
	path := fmt.Sprintf("%s/%s", namespace, factorName)

	if err := fs.Save(ctx, matrix, path, start, end); err != nil {
		return fmt.Errorf("emit: saving %s: %w", factorName, err)
	}
	return nil
}

func outputFreqOf(factorName string) string {
	if factoraggregate.Classify(factorName) == factoraggregate.NamespaceEOD {
		return "EOD"
	}
	return "M10"
}
