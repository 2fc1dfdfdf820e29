package marketdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/riptide-quant/riptide/internal/domain"
)

// csv column layout: timestamp,open,high,low,close,volume with a
// header row. Timestamps are RFC3339 or unix seconds.
const csvColumns = 6

// LoadCSVDir loads <dir>/<instrument>.csv for each instrument into a
// fresh Store.
func LoadCSVDir(dir string, instruments []string) (*Store, error) {
	store := New()
	for _, inst := range instruments {
		path := filepath.Join(dir, inst+".csv")
		bars, err := ReadCSVFile(path, inst)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		if err := store.AppendBatch(bars); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	return store, nil
}

// ReadCSVFile parses one instrument's bar file.
func ReadCSVFile(path, instrument string) ([]domain.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f, instrument)
}

// ReadCSV parses bars from r. The header row is required; rows must be
// in ascending timestamp order.
func ReadCSV(r io.Reader, instrument string) ([]domain.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = csvColumns

	if _, err := cr.Read(); err != nil { // header
		return nil, fmt.Errorf("read header: %w", err)
	}

	var bars []domain.Bar
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line+1, err)
		}
		line++

		ts, err := parseTimestamp(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: timestamp %q: %w", line, rec[0], err)
		}
		if n := len(bars); n > 0 && !ts.After(bars[n-1].Timestamp) {
			return nil, fmt.Errorf("line %d: timestamp %s does not advance past %s",
				line, ts.Format(time.RFC3339), bars[n-1].Timestamp.Format(time.RFC3339))
		}
		vals := make([]float64, 5)
		for i := 1; i < csvColumns; i++ {
			v, err := strconv.ParseFloat(rec[i], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: column %d %q: %w", line, i, rec[i], err)
			}
			vals[i-1] = v
		}
		bars = append(bars, domain.Bar{
			Instrument: instrument,
			Timestamp:  ts,
			Open:       vals[0],
			High:       vals[1],
			Low:        vals[2],
			Close:      vals[3],
			Volume:     vals[4],
		})
	}
	return bars, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("not RFC3339 or unix seconds")
}
