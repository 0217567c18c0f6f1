package database

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"limix_backend/config"
	"limix_backend/logger"
	"limix_backend/models"

	"gorm.io/gorm"
)

// SourceBuiltin marks the migrations compiled into the binary
const SourceBuiltin = "builtin"

// StreamTimeIndex serves the per-stream range scans of the dashboard and the
// CSV replay
const StreamTimeIndex = "idx_telemetry_records_stream_created_at"

// Migration is one versioned schema change. The telemetry schema ships as
// built-in migrations; SQL files from the migration directory extend it.
type Migration struct {
	Version string
	Name    string
	Source  string
	SQL     string

	up func(tx *gorm.DB) error
}

// Checksum identifies the content of a file migration. Built-in migrations
// have none.
func (m Migration) Checksum() string {
	if m.Source == SourceBuiltin {
		return ""
	}
	sum := sha256.Sum256([]byte(m.SQL))
	return hex.EncodeToString(sum[:])
}

func (m Migration) apply(tx *gorm.DB) error {
	if m.up != nil {
		return m.up(tx)
	}
	return tx.Exec(m.SQL).Error
}

// AppliedMigration is a row of the migration table
type AppliedMigration struct {
	Version   string    `gorm:"primaryKey;size:32"`
	Name      string    `gorm:"not null"`
	Source    string    `gorm:"not null"`
	Checksum  string    `gorm:"size:64"`
	AppliedAt time.Time `gorm:"not null"`
}

// MigrationStatus is a known migration and whether it has been applied.
// Modified is set when a file changed after it was applied.
type MigrationStatus struct {
	Migration
	Applied   bool
	AppliedAt time.Time
	Modified  bool
}

var migrationFilePattern = regexp.MustCompile(`^(\d{8}_\d{6})_([a-z0-9_]+)\.sql$`)

func builtinMigrations() []Migration {
	return []Migration{
		{
			Version: "20250301_000000",
			Name:    "create telemetry records",
			Source:  SourceBuiltin,
			up: func(tx *gorm.DB) error {
				return tx.AutoMigrate(models.GetAllModels()...)
			},
		},
		{
			Version: "20250301_000100",
			Name:    "index telemetry records by stream and time",
			Source:  SourceBuiltin,
			up: func(tx *gorm.DB) error {
				if tx.Migrator().HasIndex(&models.Record{}, StreamTimeIndex) {
					return nil
				}
				sql := fmt.Sprintf("CREATE INDEX %s ON %s (stream, created_at)", StreamTimeIndex, models.Record{}.TableName())
				return tx.Exec(sql).Error
			},
		},
	}
}

// MigrationRunner applies the built-in and file migrations and records them
// in the configured table
type MigrationRunner struct {
	db    *gorm.DB
	table string
	dir   string
}

// NewMigrationRunner creates a runner. db may be nil for CreateMigration.
func NewMigrationRunner(db *gorm.DB, cfg *config.Config) *MigrationRunner {
	return &MigrationRunner{
		db:    db,
		table: cfg.Migration.MigrationTable,
		dir:   cfg.Migration.Dir,
	}
}

// Migrations lists the built-in migrations followed by the migration files,
// in version order
func (mr *MigrationRunner) Migrations() ([]Migration, error) {
	files, err := mr.loadFiles()
	if err != nil {
		return nil, err
	}

	all := append(builtinMigrations(), files...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Version < all[j].Version })

	for i := 1; i < len(all); i++ {
		if all[i].Version == all[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %s (%s, %s)", all[i].Version, all[i-1].Source, all[i].Source)
		}
	}
	return all, nil
}

// loadFiles reads YYYYMMDD_HHMMSS_name.sql files from the migration directory.
// A missing directory holds no migrations.
func (mr *MigrationRunner) loadFiles() ([]Migration, error) {
	entries, err := os.ReadDir(mr.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read migration directory: %w", err)
	}

	var files []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		match := migrationFilePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			return nil, fmt.Errorf("invalid migration filename %s (expected: YYYYMMDD_HHMMSS_name.sql)", entry.Name())
		}

		path := filepath.Join(mr.dir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file: %w", err)
		}
		files = append(files, Migration{
			Version: match[1],
			Name:    strings.ReplaceAll(match[2], "_", " "),
			Source:  path,
			SQL:     string(content),
		})
	}
	return files, nil
}

func (mr *MigrationRunner) applied() (map[string]AppliedMigration, error) {
	if err := mr.db.Table(mr.table).AutoMigrate(&AppliedMigration{}); err != nil {
		return nil, fmt.Errorf("failed to initialize migration table: %w", err)
	}

	var rows []AppliedMigration
	if err := mr.db.Table(mr.table).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}
	applied := make(map[string]AppliedMigration, len(rows))
	for _, row := range rows {
		applied[row.Version] = row
	}
	return applied, nil
}

// Status reports every known migration
func (mr *MigrationRunner) Status() ([]MigrationStatus, error) {
	all, err := mr.Migrations()
	if err != nil {
		return nil, err
	}
	applied, err := mr.applied()
	if err != nil {
		return nil, err
	}

	status := make([]MigrationStatus, len(all))
	for i, m := range all {
		status[i] = MigrationStatus{Migration: m}
		if row, ok := applied[m.Version]; ok {
			status[i].Applied = true
			status[i].AppliedAt = row.AppliedAt
			status[i].Modified = row.Checksum != m.Checksum()
		}
	}
	return status, nil
}

// Pending returns the migrations not applied yet, in version order
func (mr *MigrationRunner) Pending() ([]Migration, error) {
	status, err := mr.Status()
	if err != nil {
		return nil, err
	}
	var pending []Migration
	for _, s := range status {
		if !s.Applied {
			pending = append(pending, s.Migration)
		}
	}
	return pending, nil
}

// Migrate applies every pending migration
func (mr *MigrationRunner) Migrate() error {
	pending, err := mr.Pending()
	if err != nil {
		return err
	}
	return mr.apply(pending)
}

// EnsureSchema applies the pending built-in migrations only, which is what
// the telemetry store needs to run
func (mr *MigrationRunner) EnsureSchema() error {
	pending, err := mr.Pending()
	if err != nil {
		return err
	}
	var builtin []Migration
	for _, m := range pending {
		if m.Source == SourceBuiltin {
			builtin = append(builtin, m)
		}
	}
	return mr.apply(builtin)
}

func (mr *MigrationRunner) apply(migrations []Migration) error {
	if len(migrations) == 0 {
		logger.Debugf("No pending migrations\n")
		return nil
	}

	for _, m := range migrations {
		logger.Printf("Applying migration %s - %s (%s)\n", m.Version, m.Name, m.Source)
		err := mr.db.Transaction(func(tx *gorm.DB) error {
			if err := m.apply(tx); err != nil {
				return err
			}
			return tx.Table(mr.table).Create(&AppliedMigration{
				Version:   m.Version,
				Name:      m.Name,
				Source:    m.Source,
				Checksum:  m.Checksum(),
				AppliedAt: time.Now().UTC(),
			}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %s (%s) failed: %w", m.Version, m.Name, err)
		}
	}

	logger.Printf("✓ Applied %d migration(s)\n", len(migrations))
	return nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// CreateMigration writes an empty migration file named after name and
// returns its path
func (mr *MigrationRunner) CreateMigration(name string) (string, error) {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", fmt.Errorf("migration name %q has no letters or digits", name)
	}
	if err := os.MkdirAll(mr.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create migrations directory: %w", err)
	}

	now := time.Now()
	path := filepath.Join(mr.dir, fmt.Sprintf("%s_%s.sql", now.Format("20060102_150405"), slug))
	template := fmt.Sprintf(`-- Migration: %s
-- Created: %s
--
-- Every stream lives in %s (id, stream, payload, created_at).
-- Streams: sensor_data, fish_type, fish_health. Payloads are JSON text.
`, name, now.Format("2006-01-02 15:04:05"), models.Record{}.TableName())

	if err := os.WriteFile(path, []byte(template), 0644); err != nil {
		return "", fmt.Errorf("failed to create migration file: %w", err)
	}
	return path, nil
}
