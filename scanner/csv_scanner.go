package scanner

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"limix_backend/logger"
	"limix_backend/models"
	"limix_backend/telemetry"
)

// Columns is the CSV layout of a recorded sensor log
var Columns = []string{"timestamp", "ph", "temperature", "turbidity", "do", "ec", "ammonia"}

// CSVScanner replays recorded sensor logs into the sensor stream
type CSVScanner struct {
	store       telemetry.Store
	workerCount int
}

// FileJob represents a CSV file to be processed
type FileJob struct {
	FilePath string
	FileName string
}

// ProcessResult contains the result of processing a CSV file
type ProcessResult struct {
	FilePath    string
	Samples     []models.SensorSample
	RecordCount int
	ErrorCount  int
	Duration    time.Duration
	Error       error
}

// Summary totals an import run
type Summary struct {
	Files       int
	FailedFiles int
	Appended    int
	ParseErrors int
	Duration    time.Duration
}

// NewCSVScanner creates a new CSV scanner
func NewCSVScanner(store telemetry.Store) *CSVScanner {
	// Default to number of CPU cores for parallel parsing
	workerCount := runtime.NumCPU()
	if workerCount > 8 {
		workerCount = 8
	}

	return &CSVScanner{
		store:       store,
		workerCount: workerCount,
	}
}

// SetWorkerCount sets the number of parallel workers
func (cs *CSVScanner) SetWorkerCount(count int) {
	if count > 0 {
		cs.workerCount = count
	}
}

// ScanDirectory parses every CSV file in the directory in parallel, then
// appends the samples to the sensor stream in file name and row order.
func (cs *CSVScanner) ScanDirectory(ctx context.Context, directoryPath string) (Summary, error) {
	logger.Printf("Scanning directory: %s\n", directoryPath)
	startTime := time.Now()

	if _, err := os.Stat(directoryPath); os.IsNotExist(err) {
		return Summary{}, fmt.Errorf("directory does not exist: %s", directoryPath)
	}

	csvFiles, err := cs.findCSVFiles(directoryPath)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to find CSV files: %w", err)
	}

	if len(csvFiles) == 0 {
		logger.Println("No CSV files found in the directory")
		return Summary{}, nil
	}

	logger.Printf("Found %d CSV file(s) to process\n", len(csvFiles))
	logger.Printf("Parsing with %d parallel workers\n", cs.workerCount)

	results := cs.processFilesParallel(csvFiles)
	sort.Slice(results, func(i, j int) bool { return results[i].FilePath < results[j].FilePath })

	summary := Summary{Files: len(results)}
	for i := range results {
		if err := cs.appendSamples(ctx, &results[i]); err != nil {
			cs.displaySummary(results)
			return summary, err
		}
	}

	cs.displaySummary(results)
	for _, r := range results {
		if r.Error != nil {
			summary.FailedFiles++
			continue
		}
		summary.Appended += r.RecordCount
		summary.ParseErrors += r.ErrorCount
	}
	summary.Duration = time.Since(startTime)
	return summary, nil
}

// findCSVFiles finds all CSV files in the specified directory (non-recursive)
func (cs *CSVScanner) findCSVFiles(directoryPath string) ([]FileJob, error) {
	var csvFiles []FileJob

	entries, err := os.ReadDir(directoryPath)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if strings.ToLower(filepath.Ext(entry.Name())) == ".csv" {
			csvFiles = append(csvFiles, FileJob{
				FilePath: filepath.Join(directoryPath, entry.Name()),
				FileName: entry.Name(),
			})
		}
	}

	return csvFiles, nil
}

// processFilesParallel parses CSV files in parallel using worker goroutines
func (cs *CSVScanner) processFilesParallel(files []FileJob) []ProcessResult {
	jobs := make(chan FileJob, len(files))
	results := make(chan ProcessResult, len(files))

	var wg sync.WaitGroup
	for i := 0; i < cs.workerCount; i++ {
		wg.Add(1)
		go cs.worker(jobs, results, &wg)
	}

	go func() {
		for _, file := range files {
			jobs <- file
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var allResults []ProcessResult
	for result := range results {
		allResults = append(allResults, result)
	}

	return allResults
}

// worker parses CSV files from the job channel
func (cs *CSVScanner) worker(jobs <-chan FileJob, results chan<- ProcessResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for job := range jobs {
		results <- cs.parseCSVFile(job)
	}
}

// parseCSVFile reads a single CSV file into samples
func (cs *CSVScanner) parseCSVFile(job FileJob) ProcessResult {
	startTime := time.Now()
	result := ProcessResult{FilePath: job.FilePath}

	file, err := os.Open(job.FilePath)
	if err != nil {
		result.Error = fmt.Errorf("failed to open file: %w", err)
		result.Duration = time.Since(startTime)
		return result
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // Allow variable number of fields

	records, err := reader.ReadAll()
	if err != nil {
		result.Error = fmt.Errorf("failed to read CSV: %w", err)
		result.Duration = time.Since(startTime)
		return result
	}

	if len(records) == 0 {
		result.Error = fmt.Errorf("empty CSV file")
		result.Duration = time.Since(startTime)
		return result
	}

	result.Samples, result.ErrorCount = cs.parseCSVRecords(records, job.FileName)
	result.Duration = time.Since(startTime)
	return result
}

// parseCSVRecords parses CSV records into sensor samples
func (cs *CSVScanner) parseCSVRecords(records [][]string, fileName string) ([]models.SensorSample, int) {
	var samples []models.SensorSample
	var errorCount int

	startRow := 0
	if len(records) > 0 && cs.isHeaderRow(records[0]) {
		startRow = 1
	}

	for i := startRow; i < len(records); i++ {
		record := records[i]

		// Skip empty rows
		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue
		}

		if len(record) < len(Columns) {
			errorCount++
			logger.Warnf("Row %d in %s has insufficient columns (expected %d, got %d)\n",
				i+1, fileName, len(Columns), len(record))
			continue
		}

		timestampStr := strings.TrimSpace(record[0])
		timestamp, err := parseTimestamp(timestampStr)
		if err != nil {
			errorCount++
			logger.Warnf("Row %d in %s has invalid timestamp format: %s\n", i+1, fileName, timestampStr)
			continue
		}

		values := make([]float64, len(Columns)-1)
		valid := true
		for c := range values {
			valueStr := strings.TrimSpace(record[c+1])
			v, err := strconv.ParseFloat(valueStr, 64)
			if err != nil {
				errorCount++
				valid = false
				logger.Warnf("Row %d in %s has invalid %s: %s\n", i+1, fileName, Columns[c+1], valueStr)
				break
			}
			values[c] = v
		}
		if !valid {
			continue
		}

		samples = append(samples, models.SensorSample{
			PH:                     values[0],
			Temperature:            values[1],
			Turbidity:              values[2],
			DissolvedOxygen:        values[3],
			ElectricalConductivity: values[4],
			Ammonia:                values[5],
			Timestamp:              timestamp.UTC().Format(models.TimestampLayout),
		})
	}

	return samples, errorCount
}

func parseTimestamp(s string) (time.Time, error) {
	layouts := []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"}
	var err error
	for _, layout := range layouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

// isHeaderRow checks if the first row is likely a header
func (cs *CSVScanner) isHeaderRow(row []string) bool {
	if len(row) < 1 {
		return false
	}

	firstCol := strings.ToLower(strings.TrimSpace(row[0]))
	headerWords := []string{"timestamp", "time", "date", "datetime"}

	for _, word := range headerWords {
		if strings.Contains(firstCol, word) {
			return true
		}
	}

	// Try to parse as timestamp - if it fails, it's likely a header
	_, err := parseTimestamp(strings.TrimSpace(row[0]))
	return err != nil
}

// appendSamples writes the parsed samples of one file to the sensor stream.
// A failed append stops the import; samples already appended stay.
func (cs *CSVScanner) appendSamples(ctx context.Context, result *ProcessResult) error {
	if result.Error != nil {
		return nil
	}
	for i, sample := range result.Samples {
		if err := ctx.Err(); err != nil {
			result.RecordCount = i
			return fmt.Errorf("import of %s interrupted after %d records: %w", filepath.Base(result.FilePath), i, err)
		}
		if _, err := cs.store.Append(ctx, telemetry.SensorStream, sample); err != nil {
			result.RecordCount = i
			result.Error = fmt.Errorf("failed to append record %d: %w", i+1, err)
			return fmt.Errorf("import of %s stopped: %w", filepath.Base(result.FilePath), result.Error)
		}
	}
	result.RecordCount = len(result.Samples)
	logger.Printf("✓ Completed %s: %d records appended, %d errors\n",
		filepath.Base(result.FilePath), result.RecordCount, result.ErrorCount)
	return nil
}

// displaySummary displays a summary of the processing results
func (cs *CSVScanner) displaySummary(results []ProcessResult) {
	logger.Println("\n" + strings.Repeat("=", 60))
	logger.Println("IMPORT SUMMARY")
	logger.Println(strings.Repeat("=", 60))

	totalRecords := 0
	totalErrors := 0
	successfulFiles := 0
	failedFiles := 0
	totalDuration := time.Duration(0)

	for _, result := range results {
		if result.Error != nil {
			failedFiles++
			logger.Printf("❌ %s: FAILED - %v\n", filepath.Base(result.FilePath), result.Error)
		} else {
			successfulFiles++
			totalRecords += result.RecordCount
			totalErrors += result.ErrorCount
			logger.Printf("✅ %s: %d records, %d errors (%v)\n",
				filepath.Base(result.FilePath), result.RecordCount, result.ErrorCount, result.Duration)
		}
		totalDuration += result.Duration
	}

	logger.Println(strings.Repeat("-", 60))
	logger.Printf("Total files processed: %d\n", len(results))
	logger.Printf("Successful: %d\n", successfulFiles)
	logger.Printf("Failed: %d\n", failedFiles)
	logger.Printf("Total records appended: %d\n", totalRecords)
	logger.Printf("Total parsing errors: %d\n", totalErrors)
	logger.Printf("Total parsing time: %v\n", totalDuration)
	logger.Println(strings.Repeat("=", 60))
}
