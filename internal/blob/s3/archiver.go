package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/riptide-quant/riptide/internal/domain"
)

// Archiver uploads run artifacts to object storage: backtest reports and
// trained model artifacts. It never deletes anything; retention is an
// operator concern.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
}

// NewArchiver creates an Archiver over the given blob client.
func NewArchiver(c *Client) *Archiver {
	return &Archiver{
		writer: NewWriter(c),
		reader: NewReader(c),
	}
}

// ArchiveReport uploads a backtest report as two objects under
// reports/<run-id>/: the full report and the trade log alone as JSONL for
// spreadsheet-friendly consumption. It returns the key prefix.
func (a *Archiver) ArchiveReport(ctx context.Context, report *domain.BacktestReport) (string, error) {
	prefix := reportPrefix(report.RunID)

	full, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: encode report %s: %w", report.RunID, err)
	}
	if err := a.writer.Put(ctx, path.Join(prefix, "report.json"), bytes.NewReader(full), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: upload report %s: %w", report.RunID, err)
	}

	trades, err := marshalJSONL(report.Trades)
	if err != nil {
		return "", fmt.Errorf("s3blob: encode trades %s: %w", report.RunID, err)
	}
	if err := a.writer.Put(ctx, path.Join(prefix, "trades.jsonl"), bytes.NewReader(trades), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: upload trades %s: %w", report.RunID, err)
	}

	return prefix, nil
}

// ArchiveModel uploads a trained model artifact to models/<version>.json.
// Versions are content-addressed, so an existing object with the same key
// is the same artifact; re-uploads are skipped rather than overwritten.
func (a *Archiver) ArchiveModel(ctx context.Context, version string, artifact []byte) (string, error) {
	key := modelKey(version)

	exists, err := a.reader.Exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("s3blob: check model %s: %w", version, err)
	}
	if exists {
		return key, nil
	}

	if err := a.writer.Put(ctx, key, bytes.NewReader(artifact), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: upload model %s: %w", version, err)
	}
	return key, nil
}

// Reports lists the run IDs with archived reports, newest upload last.
func (a *Archiver) Reports(ctx context.Context) ([]string, error) {
	infos, err := a.reader.List(ctx, "reports/")
	if err != nil {
		return nil, fmt.Errorf("s3blob: list reports: %w", err)
	}

	seen := make(map[string]bool)
	var runs []string
	for _, info := range infos {
		run := runIDFromKey(info.Path)
		if run == "" || seen[run] {
			continue
		}
		seen[run] = true
		runs = append(runs, run)
	}
	return runs, nil
}

func reportPrefix(runID string) string {
	return "reports/" + runID
}

func modelKey(version string) string {
	return "models/" + version + ".json"
}

// runIDFromKey extracts the run ID from "reports/<run-id>/<file>".
func runIDFromKey(key string) string {
	rest, ok := strings.CutPrefix(key, "reports/")
	if !ok {
		return ""
	}
	run, _, ok := strings.Cut(rest, "/")
	if !ok {
		return ""
	}
	return run
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
// Each element is one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
