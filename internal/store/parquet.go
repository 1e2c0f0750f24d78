package store

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/cs7649/surgefactor/internal/retry"
)

// partitionReadAttempts/partitionReadBaseDelay bound the retry applied to a
// single partition read: parquet partitions live on shared storage that can
// return a transient I/O error under load, but a genuinely missing file must
// never be retried.
const (
	partitionReadAttempts  = 3
	partitionReadBaseDelay = 50 * time.Millisecond
)

// Compile-time interface checks.
var _ TickStore = (*ParquetTickStore)(nil)
var _ FactorStore = (*ParquetFactorStore)(nil)

// ---------------------------------------------------------------------------
// On-disk record schemas
// ---------------------------------------------------------------------------

// TradeRecord is the Parquet schema for a trade tick partition.
type TradeRecord struct {
	InstID string  `parquet:"inst_id"`
	XTS    int64   `parquet:"xts,timestamp(millisecond)"`
	Px     float64 `parquet:"px"`
	Qty    float64 `parquet:"qty"`
	Amt    float64 `parquet:"amt"`
	Flag   int32   `parquet:"flag"`
	AN     string  `parquet:"an,optional"`
	BN     string  `parquet:"bn,optional"`
}

// QuoteRecord is the Parquet schema for a quote tick partition.
type QuoteRecord struct {
	InstID  string  `parquet:"inst_id"`
	XTS     int64   `parquet:"xts,timestamp(millisecond)"`
	Ty      int32   `parquet:"ty"`
	Ch      string  `parquet:"ch"`
	OrderNo string  `parquet:"order_no"`
	Qty     float64 `parquet:"qty"`
	AN      string  `parquet:"an,optional"`
	BN      string  `parquet:"bn,optional"`
}

// SnapRecord is the Parquet schema for a snapshot tick partition.
type SnapRecord struct {
	InstID   string  `parquet:"inst_id"`
	XTS      int64   `parquet:"xts,timestamp(millisecond)"`
	Last     float64 `parquet:"last"`
	High     float64 `parquet:"high"`
	Low      float64 `parquet:"low"`
	Turnover float64 `parquet:"turnover"`
	Qty      float64 `parquet:"qty"`
	PCls     float64 `parquet:"pcls"`
}

// FactorRecord is the Parquet schema for one wide-matrix row, flattened as
// symbol/value pairs at write time (see ParquetFactorStore.Save).
type FactorRecord struct {
	BarTime int64   `parquet:"bar_time,timestamp(millisecond)"`
	Symbol  string  `parquet:"symbol"`
	Value   float64 `parquet:"factor_value"`
}

// ---------------------------------------------------------------------------
// ParquetTickStore
// ---------------------------------------------------------------------------

// ParquetTickStore implements TickStore over a directory tree laid out as
// <DataDir>/<kind>/<exchange>/<YYYYMMDD>.parquet, following the teacher's
// ParquetStore path convention (internal/store/parquet.go barPath/tradePath).
type ParquetTickStore struct {
	DataDir string
}

// NewParquetTickStore creates a ParquetTickStore rooted at dataDir.
func NewParquetTickStore(dataDir string) *ParquetTickStore {
	return &ParquetTickStore{DataDir: dataDir}
}

func (s *ParquetTickStore) partitionPath(kind, exchange, date string) string {
	return filepath.Join(s.DataDir, kind, exchange, date+".parquet")
}

// Load implements TickStore. Per §4.B step 1-2, it scans every (date,
// exchange) pair, projects cols plus the envelope, and concatenates
// diagonally — here meaning each kind's fixed schema is read as-is and rows
// are appended regardless of which exchange contributed them.
func (s *ParquetTickStore) Load(ctx context.Context, kind string, dates []string, exchanges []string, cols []string) (*TickFrame, error) {
	frame := &TickFrame{}

	for _, date := range dates {
		for _, exchange := range exchanges {
			path := s.partitionPath(kind, exchange, date)
			if _, statErr := os.Stat(path); statErr != nil {
				if os.IsNotExist(statErr) {
					frame.MissingFiles = append(frame.MissingFiles, MissingPartition{Date: date, Exchange: exchange})
					continue
				}
				return nil, fmt.Errorf("statting %s %s/%s: %w", kind, exchange, date, statErr)
			}

			var rows []TickRow
			err := retry.Do(ctx, partitionReadAttempts, partitionReadBaseDelay, func() error {
				var loadErr error
				rows, loadErr = s.loadPartition(kind, path, date, cols)
				return loadErr
			})
			if err != nil {
				return nil, fmt.Errorf("loading %s %s/%s: %w", kind, exchange, date, err)
			}
			frame.Rows = append(frame.Rows, rows...)
		}
	}

	return frame, nil
}

func (s *ParquetTickStore) loadPartition(kind, path, date string, cols []string) ([]TickRow, error) {
	switch kind {
	case "trade":
		records, err := parquet.ReadFile[TradeRecord](path)
		if err != nil {
			return nil, err
		}
		rows := make([]TickRow, 0, len(records))
		for _, r := range records {
			fields := map[string]float64{}
			for _, c := range cols {
				switch c {
				case "px":
					fields["px"] = r.Px
				case "qty":
					fields["qty"] = r.Qty
				case "amt":
					fields["amt"] = r.Amt
				}
			}
			rows = append(rows, TickRow{
				InstID: r.InstID,
				XTS:    time.UnixMilli(r.XTS).UTC(),
				Date:   date,
				Fields: fields,
				Flag:   int(r.Flag),
				AN:     r.AN,
				BN:     r.BN,
			})
		}
		return rows, nil

	case "quote":
		records, err := parquet.ReadFile[QuoteRecord](path)
		if err != nil {
			return nil, err
		}
		rows := make([]TickRow, 0, len(records))
		for _, r := range records {
			fields := map[string]float64{}
			for _, c := range cols {
				if c == "qty" {
					fields["qty"] = r.Qty
				}
			}
			rows = append(rows, TickRow{
				InstID:  r.InstID,
				XTS:     time.UnixMilli(r.XTS).UTC(),
				Date:    date,
				Fields:  fields,
				Ty:      int(r.Ty),
				Ch:      r.Ch,
				OrderNo: r.OrderNo,
				AN:      r.AN,
				BN:      r.BN,
			})
		}
		return rows, nil

	case "snap":
		records, err := parquet.ReadFile[SnapRecord](path)
		if err != nil {
			return nil, err
		}
		rows := make([]TickRow, 0, len(records))
		for _, r := range records {
			all := map[string]float64{
				"last":     r.Last,
				"high":     r.High,
				"low":      r.Low,
				"turnover": r.Turnover,
				"qty":      r.Qty,
				"pcls":     r.PCls,
			}
			fields := map[string]float64{}
			for _, c := range cols {
				if v, ok := all[c]; ok {
					fields[c] = v
				}
			}
			rows = append(rows, TickRow{
				InstID: r.InstID,
				XTS:    time.UnixMilli(r.XTS).UTC(),
				Date:   date,
				Fields: fields,
			})
		}
		return rows, nil

	default:
		return nil, fmt.Errorf("store: unknown tick kind %q", kind)
	}
}

// ---------------------------------------------------------------------------
// ParquetFactorStore
// ---------------------------------------------------------------------------

// ParquetFactorStore implements FactorStore, writing one Parquet file per
// factor path per call, under <DataDir>/<factorPath>/<start>_<end>.parquet.
type ParquetFactorStore struct {
	DataDir string
}

// NewParquetFactorStore creates a ParquetFactorStore rooted at dataDir.
func NewParquetFactorStore(dataDir string) *ParquetFactorStore {
	return &ParquetFactorStore{DataDir: dataDir}
}

// Save implements FactorStore. The matrix is flattened to long (bar_time,
// symbol, value) records, skipping NaN cells, and written atomically as one
// file — per §7, a factor either emits a complete per-range matrix or
// nothing.
func (s *ParquetFactorStore) Save(_ context.Context, matrix *WideMatrix, factorPath string, start, end string) error {
	if len(matrix.Index) == 0 {
		return fmt.Errorf("store: refusing to save empty factor matrix for %s", factorPath)
	}

	records := make([]FactorRecord, 0, len(matrix.Index)*len(matrix.Columns))
	for i, t := range matrix.Index {
		for j, sym := range matrix.Columns {
			v := matrix.Cells[i][j]
			if math.IsNaN(v) {
				continue
			}
			records = append(records, FactorRecord{
				BarTime: t.UnixMilli(),
				Symbol:  sym,
				Value:   v,
			})
		}
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].BarTime != records[j].BarTime {
			return records[i].BarTime < records[j].BarTime
		}
		return records[i].Symbol < records[j].Symbol
	})

	dir := filepath.Join(s.DataDir, factorPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating factor dir %s: %w", dir, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.parquet", start, end))
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, records); err != nil {
		return fmt.Errorf("writing factor file %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("finalizing factor file %s: %w", path, err)
	}
	return nil
}
