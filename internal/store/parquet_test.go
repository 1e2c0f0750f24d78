package store

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
)

func TestParquetTickStoreLoadTrades(t *testing.T) {
	dir := t.TempDir()
	pstore := NewParquetTickStore(dir)

	path := pstore.partitionPath("trade", "SH", "20240105")
	records := []TradeRecord{
		{InstID: "600519", XTS: time.Date(2024, 1, 5, 9, 31, 0, 0, time.UTC).UnixMilli(), Px: 10.0, Qty: 100, Amt: 1000, Flag: 70},
	}
	if err := writeFixture(path, records); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	frame, err := pstore.Load(context.Background(), "trade", []string{"20240105"}, []string{"SH", "SZ"}, []string{"px", "qty", "amt"})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(frame.MissingFiles) != 1 {
		t.Fatalf("len(MissingFiles) = %d, want 1 (SZ partition doesn't exist)", len(frame.MissingFiles))
	}
	if frame.MissingFiles[0].Exchange != "SZ" {
		t.Errorf("missing exchange = %q, want SZ", frame.MissingFiles[0].Exchange)
	}
	if len(frame.Rows) != 1 {
		t.Fatalf("len(Rows) = %d, want 1", len(frame.Rows))
	}
	if frame.Rows[0].InstID != "600519" {
		t.Errorf("InstID = %q, want 600519", frame.Rows[0].InstID)
	}
	if frame.Rows[0].Fields["px"] != 10.0 {
		t.Errorf("px = %v, want 10.0", frame.Rows[0].Fields["px"])
	}
}

func writeFixture[T any](path string, records []T) error {
	return parquet.WriteFile(path, records)
}

func TestParquetFactorStoreSaveSkipsNaNCellsAndIsAtomic(t *testing.T) {
	dir := t.TempDir()
	fstore := NewParquetFactorStore(dir)

	idx := []time.Time{time.Date(2024, 1, 5, 15, 0, 0, 0, time.UTC)}
	matrix := &WideMatrix{
		Index:   idx,
		Columns: []string{"600519.SH", "000001.SZ"},
		Cells:   [][]float64{{1.5, math.NaN()}},
	}

	if err := fstore.Save(context.Background(), matrix, "EOD/surge_ret", "20240105", "20240105"); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	path := dir + "/EOD/surge_ret/20240105_20240105.parquet"
	records, err := parquet.ReadFile[FactorRecord](path)
	if err != nil {
		t.Fatalf("reading back saved factor file: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1 (NaN cell must be skipped)", len(records))
	}
	if records[0].Symbol != "600519.SH" {
		t.Errorf("Symbol = %q, want 600519.SH", records[0].Symbol)
	}
}

func TestParquetFactorStoreRejectsEmptyMatrix(t *testing.T) {
	dir := t.TempDir()
	fstore := NewParquetFactorStore(dir)

	matrix := &WideMatrix{}
	if err := fstore.Save(context.Background(), matrix, "EOD/surge_ret", "20240105", "20240105"); err == nil {
		t.Error("expected an error when saving a matrix with an empty index")
	}
}
