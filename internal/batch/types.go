package batch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/raaihank/llm-pseudonymizer/internal/privacy"
)

// ErrUnsupportedFormat is returned for input files with an unknown extension
var ErrUnsupportedFormat = errors.New("unsupported file format")

// RecordID identifies a record in the output. JSON input may use a string or a number.
type RecordID string

// UnmarshalJSON accepts strings and numbers
func (id *RecordID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = RecordID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("record id must be a string or number: %w", err)
	}
	*id = RecordID(n.String())
	return nil
}

// Record represents a single record from the input dataset
type Record struct {
	ID   RecordID `json:"id"`
	Text string   `json:"text"`
}

// parquetRecord is the row layout read from Parquet files
type parquetRecord struct {
	ID   string `parquet:"id,optional"`
	Text string `parquet:"text"`
}

// OutputLine is one JSON line written per processed record
type OutputLine struct {
	ID     RecordID        `json:"id"`
	Result *privacy.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ProcessingResult represents the result of processing a dataset
type ProcessingResult struct {
	TotalRecords    int64                        `json:"total_records"`
	ProcessedOK     int64                        `json:"processed_ok"`
	ProcessedFailed int64                        `json:"processed_failed"`
	Invalid         int64                        `json:"invalid"`
	Entities        int64                        `json:"entities"`
	TypeTotals      map[privacy.EntityType]int64 `json:"type_totals"`
	Duration        time.Duration                `json:"duration"`
	Errors          []string                     `json:"errors,omitempty"`
}

// ProcessingStats tracks real-time processing statistics
type ProcessingStats struct {
	StartTime      time.Time `json:"start_time"`
	RecordsRead    int64     `json:"records_read"`
	RecordsDone    int64     `json:"records_done"`
	CurrentBatch   int64     `json:"current_batch"`
	ProcessingRate float64   `json:"processing_rate"` // records per second
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSONL   FileFormat = "jsonl"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) (FileFormat, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".parquet":
		return FormatParquet, nil
	case ".jsonl", ".ndjson", ".json":
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
}
