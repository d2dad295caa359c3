// Package batch anonymizes datasets offline. Input records are read in
// batches, anonymized by a fixed pool of workers and written as JSON lines in
// input order.
package batch

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/llm-pseudonymizer/internal/config"
	"github.com/raaihank/llm-pseudonymizer/internal/privacy"
)

const maxReportedErrors = 100

// Anonymizer is the per-record operation applied by the pipeline
type Anonymizer interface {
	Anonymize(ctx context.Context, text string) (*privacy.Result, error)
}

// Pipeline handles offline anonymization of dataset files
type Pipeline struct {
	anonymizer Anonymizer
	config     config.BatchConfig
	logger     *zap.Logger
	stats      *ProcessingStats
	mu         sync.RWMutex
}

// NewPipeline creates a new pipeline
func NewPipeline(anonymizer Anonymizer, cfg config.BatchConfig, logger *zap.Logger) *Pipeline {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		anonymizer: anonymizer,
		config:     cfg,
		logger:     logger,
		stats:      &ProcessingStats{StartTime: time.Now()},
	}
}

// readBatchFunc returns the next records, or an empty slice at end of input
type readBatchFunc func() ([]Record, error)

// ProcessFile anonymizes every record of the dataset at filePath and writes one
// JSON line per record to out
func (p *Pipeline) ProcessFile(ctx context.Context, filePath string, out io.Writer) (*ProcessingResult, error) {
	format, err := DetectFileFormat(filePath)
	if err != nil {
		return nil, err
	}

	p.logger.Info("Starting batch pipeline",
		zap.String("file", filePath),
		zap.String("format", string(format)),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.WorkerCount))

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer file.Close()

	p.resetStats()
	start := time.Now()
	result := &ProcessingResult{TypeTotals: make(map[privacy.EntityType]int64)}

	var readBatch readBatchFunc
	switch format {
	case FormatCSV:
		readBatch, err = p.csvReader(file, result)
	case FormatJSONL:
		readBatch = p.jsonReader(file, result)
	case FormatParquet:
		readBatch, err = p.parquetReader(file, result)
	}
	if err != nil {
		return result, fmt.Errorf("%s processing failed: %w", format, err)
	}

	err = p.processBatches(ctx, readBatch, json.NewEncoder(out), result)
	result.Duration = time.Since(start)

	p.logger.Info("Batch pipeline completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("invalid", result.Invalid),
		zap.Int64("entities", result.Entities),
		zap.Duration("total_duration", result.Duration),
		zap.Error(err))

	return result, err
}

// csvReader reads records from a CSV file with a "text" column and an optional "id" column
func (p *Pipeline) csvReader(file io.Reader, result *ProcessingResult) (readBatchFunc, error) {
	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	textCol, idCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "text":
			textCol = i
		case "id":
			idCol = i
		}
	}
	if textCol < 0 {
		return nil, fmt.Errorf("CSV header has no text column: %v", header)
	}

	p.logger.Info("CSV header detected", zap.Strings("columns", header))

	row := 0
	return func() ([]Record, error) {
		batch := make([]Record, 0, p.config.BatchSize)

		for len(batch) < p.config.BatchSize {
			fields, err := reader.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			row++

			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				p.logger.Warn("Failed to read CSV record", zap.Int("row", row), zap.Error(err))
				result.Invalid++
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read CSV record: %w", err)
			}

			record := Record{ID: RecordID(strconv.Itoa(row)), Text: fields[textCol]}
			if idCol >= 0 && strings.TrimSpace(fields[idCol]) != "" {
				record.ID = RecordID(strings.TrimSpace(fields[idCol]))
			}

			if p.validateRecord(record, result) {
				batch = append(batch, record)
			}
		}

		return batch, nil
	}, nil
}

// jsonReader reads one JSON object per line
func (p *Pipeline) jsonReader(file io.Reader, result *ProcessingResult) readBatchFunc {
	decoder := json.NewDecoder(file)
	row := 0

	return func() ([]Record, error) {
		batch := make([]Record, 0, p.config.BatchSize)

		for len(batch) < p.config.BatchSize {
			var record Record
			err := decoder.Decode(&record)
			if errors.Is(err, io.EOF) {
				break
			}
			row++
			if err != nil {
				return nil, fmt.Errorf("failed to decode JSON record %d: %w", row, err)
			}

			if record.ID == "" {
				record.ID = RecordID(strconv.Itoa(row))
			}

			if p.validateRecord(record, result) {
				batch = append(batch, record)
			}
		}

		return batch, nil
	}
}

// parquetReader reads rows with a "text" column and an optional "id" column
func (p *Pipeline) parquetReader(file *os.File, result *ProcessingResult) (readBatchFunc, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat Parquet file: %w", err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("empty Parquet file")
	}

	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open Parquet file: %w", err)
	}

	reader := parquet.NewReader(pf)
	row := 0

	return func() ([]Record, error) {
		batch := make([]Record, 0, p.config.BatchSize)

		for len(batch) < p.config.BatchSize {
			var pr parquetRecord
			err := reader.Read(&pr)
			if errors.Is(err, io.EOF) {
				break
			}
			row++
			if err != nil {
				return nil, fmt.Errorf("failed to read Parquet row %d: %w", row, err)
			}

			record := Record{ID: RecordID(pr.ID), Text: pr.Text}
			if record.ID == "" {
				record.ID = RecordID(strconv.Itoa(row))
			}

			if p.validateRecord(record, result) {
				batch = append(batch, record)
			}
		}

		return batch, nil
	}, nil
}

// processBatches drives readBatch until the input is exhausted or ctx is cancelled
func (p *Pipeline) processBatches(ctx context.Context, readBatch readBatchFunc, enc *json.Encoder, result *ProcessingResult) error {
	nextReport := int64(p.config.ProgressReport)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := readBatch()
		if err != nil {
			return fmt.Errorf("failed to read batch: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		p.mu.Lock()
		p.stats.CurrentBatch++
		p.stats.RecordsRead += int64(len(batch))
		p.mu.Unlock()

		lines := p.processBatch(ctx, batch)

		for _, line := range lines {
			if err := enc.Encode(line); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}

			result.TotalRecords++
			if line.Error != "" {
				result.ProcessedFailed++
				if len(result.Errors) < maxReportedErrors {
					result.Errors = append(result.Errors, fmt.Sprintf("record %s: %s", line.ID, line.Error))
				}
				if p.config.FailFast {
					return fmt.Errorf("record %s failed: %s", line.ID, line.Error)
				}
				continue
			}

			result.ProcessedOK++
			result.Entities += int64(len(line.Result.ReplacementMap))
			for t, n := range line.Result.TypeCounts() {
				result.TypeTotals[t] += int64(n)
			}
		}

		p.mu.Lock()
		p.stats.RecordsDone = result.TotalRecords
		p.mu.Unlock()

		if nextReport > 0 && result.TotalRecords >= nextReport {
			p.reportProgress(result)
			for nextReport <= result.TotalRecords {
				nextReport += int64(p.config.ProgressReport)
			}
		}
	}
}

// processBatch anonymizes a batch with the worker pool. Output keeps batch order.
func (p *Pipeline) processBatch(ctx context.Context, batch []Record) []OutputLine {
	lines := make([]OutputLine, len(batch))
	jobs := make(chan int)

	workers := min(p.config.WorkerCount, len(batch))
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				lines[i] = p.processRecord(ctx, batch[i])
			}
		}()
	}

	for i := range batch {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return lines
}

func (p *Pipeline) processRecord(ctx context.Context, record Record) OutputLine {
	result, err := p.anonymizer.Anonymize(ctx, record.Text)
	if err != nil {
		p.logger.Debug("Record failed", zap.String("id", string(record.ID)), zap.Error(err))
		return OutputLine{ID: record.ID, Error: err.Error()}
	}
	return OutputLine{ID: record.ID, Result: result}
}

// validateRecord rejects records without text
func (p *Pipeline) validateRecord(record Record, result *ProcessingResult) bool {
	if strings.TrimSpace(record.Text) == "" {
		p.logger.Debug("Invalid record: empty text", zap.String("id", string(record.ID)))
		result.Invalid++
		return false
	}
	return true
}

// reportProgress reports current processing progress
func (p *Pipeline) reportProgress(result *ProcessingResult) {
	p.mu.Lock()
	elapsed := time.Since(p.stats.StartTime)
	if elapsed > 0 {
		p.stats.ProcessingRate = float64(result.TotalRecords) / elapsed.Seconds()
	}
	rate := p.stats.ProcessingRate
	p.mu.Unlock()

	p.logger.Info("Processing progress",
		zap.Int64("records_processed", result.TotalRecords),
		zap.Int64("records_ok", result.ProcessedOK),
		zap.Int64("records_failed", result.ProcessedFailed),
		zap.Float64("rate_per_sec", rate),
		zap.Duration("elapsed", elapsed))
}

// resetStats resets processing statistics
func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = &ProcessingStats{StartTime: time.Now()}
}

// GetStats returns current processing statistics
func (p *Pipeline) GetStats() *ProcessingStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := *p.stats
	return &stats
}
