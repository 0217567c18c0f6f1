package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"limix_backend/logger"
	"limix_backend/models"
)

// Source produces sensor samples
type Source interface {
	Generate() models.SensorSample
}

// GenerateOptions controls the recorded logs written by Generate
type GenerateOptions struct {
	Files int
	Rows  int
	Step  time.Duration
	End   time.Time
}

// Generate writes Files CSV logs of Rows samples each into outputDir. Row
// timestamps are spaced Step apart and the last one of every file is End.
func Generate(outputDir string, source Source, opts GenerateOptions) ([]string, error) {
	if opts.Files <= 0 || opts.Rows <= 0 {
		return nil, fmt.Errorf("files and rows must be positive")
	}
	if opts.Step <= 0 {
		opts.Step = 5 * time.Minute
	}
	if opts.End.IsZero() {
		opts.End = time.Now().UTC()
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	paths := make([]string, opts.Files)
	errs := make([]error, opts.Files)

	var wg sync.WaitGroup
	for i := 0; i < opts.Files; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i] = filepath.Join(outputDir, fmt.Sprintf("pond_%02d.csv", i+1))

			start := opts.End.Add(-time.Duration(opts.Rows-1) * opts.Step)
			samples := make([]models.SensorSample, opts.Rows)
			for r := range samples {
				s := source.Generate()
				s.Timestamp = start.Add(time.Duration(r) * opts.Step).Format(models.TimestampLayout)
				samples[r] = s
			}

			if err := WriteCSV(paths[i], samples); err != nil {
				errs[i] = fmt.Errorf("failed to write %s: %w", filepath.Base(paths[i]), err)
				return
			}
			logger.Printf("Generated %s with %d records\n", filepath.Base(paths[i]), len(samples))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return paths, nil
}

// WriteCSV writes samples with a header row in the Columns layout
func WriteCSV(filename string, samples []models.SensorSample) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.WriteString("timestamp,ph,temperature,turbidity,do,ec,ammonia\n"); err != nil {
		return err
	}

	for _, s := range samples {
		line := fmt.Sprintf("%s,%.2f,%.2f,%.2f,%.2f,%.1f,%.3f\n",
			s.Timestamp, s.PH, s.Temperature, s.Turbidity,
			s.DissolvedOxygen, s.ElectricalConductivity, s.Ammonia)
		if _, err := file.WriteString(line); err != nil {
			return err
		}
	}

	return file.Close()
}
