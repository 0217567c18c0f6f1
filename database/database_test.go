package database

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"limix_backend/config"
	"limix_backend/models"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			SQLite: config.SQLiteConfig{Path: filepath.Join(dir, "limix.db")},
		},
		Migration: config.MigrationConfig{
			MigrationTable: "schema_migrations",
			Dir:            filepath.Join(dir, "migrations"),
		},
	}
}

func writeMigration(t *testing.T, cfg *config.Config, name, sql string) {
	t.Helper()
	if err := os.MkdirAll(cfg.Migration.Dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Migration.Dir, name), []byte(sql), 0o644); err != nil {
		t.Fatalf("write migration: %v", err)
	}
}

func TestConnectRejectsMemoryDriver(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{Driver: "memory"}}
	if _, err := Connect(cfg); err == nil {
		t.Fatalf("expected error for memory driver")
	}
}

func TestMigrate(t *testing.T) {
	cfg := sqliteConfig(t)
	db, err := Connect(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer Close(db)

	writeMigration(t, cfg, "20990101_000000_add_record_lookup.sql",
		"CREATE INDEX idx_telemetry_records_payload ON telemetry_records (payload);")

	mr := NewMigrationRunner(db, cfg)
	if err := mr.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !db.Migrator().HasTable(&models.Record{}) {
		t.Fatalf("expected telemetry table")
	}
	if !db.Migrator().HasIndex(&models.Record{}, StreamTimeIndex) {
		t.Fatalf("expected %s", StreamTimeIndex)
	}
	if !db.Migrator().HasTable("schema_migrations") {
		t.Fatalf("expected migration table with configured name")
	}

	status, err := mr.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	wantVersions := []string{"20250301_000000", "20250301_000100", "20990101_000000"}
	if len(status) != len(wantVersions) {
		t.Fatalf("expected %d migrations, got %+v", len(wantVersions), status)
	}
	for i, s := range status {
		if s.Version != wantVersions[i] || !s.Applied || s.Modified {
			t.Fatalf("unexpected status[%d] %+v", i, s)
		}
	}
	if status[2].Name != "add record lookup" || status[0].Source != SourceBuiltin {
		t.Fatalf("unexpected names or sources %+v", status)
	}

	// second run is a no-op
	if err := mr.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	pending, err := mr.Pending()
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected no pending migrations, got %v (err=%v)", pending, err)
	}
}

func TestStatusFlagsModifiedFile(t *testing.T) {
	cfg := sqliteConfig(t)
	db, err := Connect(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer Close(db)

	name := "20990101_000000_add_record_lookup.sql"
	writeMigration(t, cfg, name, "CREATE INDEX idx_lookup ON telemetry_records (payload);")
	mr := NewMigrationRunner(db, cfg)
	if err := mr.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	writeMigration(t, cfg, name, "CREATE INDEX idx_lookup ON telemetry_records (stream, payload);")
	status, err := mr.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	last := status[len(status)-1]
	if !last.Applied || !last.Modified {
		t.Fatalf("expected edited file to be flagged, got %+v", last)
	}
	for _, s := range status[:len(status)-1] {
		if s.Modified {
			t.Fatalf("builtin migration flagged as modified: %+v", s)
		}
	}
}

func TestMigrationsRejectInvalidFiles(t *testing.T) {
	t.Run("bad filename", func(t *testing.T) {
		cfg := sqliteConfig(t)
		writeMigration(t, cfg, "add_index.sql", "SELECT 1;")
		if _, err := NewMigrationRunner(nil, cfg).Migrations(); err == nil || !strings.Contains(err.Error(), "add_index.sql") {
			t.Fatalf("expected invalid filename error, got %v", err)
		}
	})

	t.Run("non sql files are ignored", func(t *testing.T) {
		cfg := sqliteConfig(t)
		writeMigration(t, cfg, "README.md", "notes")
		all, err := NewMigrationRunner(nil, cfg).Migrations()
		if err != nil || len(all) != len(builtinMigrations()) {
			t.Fatalf("expected builtins only, got %+v (err=%v)", all, err)
		}
	})

	t.Run("duplicate version", func(t *testing.T) {
		cfg := sqliteConfig(t)
		writeMigration(t, cfg, "20250301_000000_shadow.sql", "SELECT 1;")
		if _, err := NewMigrationRunner(nil, cfg).Migrations(); err == nil || !strings.Contains(err.Error(), "duplicate") {
			t.Fatalf("expected duplicate version error, got %v", err)
		}
	})

	t.Run("missing directory", func(t *testing.T) {
		cfg := sqliteConfig(t)
		all, err := NewMigrationRunner(nil, cfg).Migrations()
		if err != nil || len(all) != len(builtinMigrations()) {
			t.Fatalf("expected builtins only, got %+v (err=%v)", all, err)
		}
	})
}

func TestEnsureSchemaSkipsFileMigrations(t *testing.T) {
	cfg := sqliteConfig(t)
	db, err := Connect(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer Close(db)

	writeMigration(t, cfg, "20990101_000000_add_record_lookup.sql", "CREATE INDEX idx_lookup ON telemetry_records (payload);")
	mr := NewMigrationRunner(db, cfg)
	if err := mr.EnsureSchema(); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if !db.Migrator().HasTable(&models.Record{}) {
		t.Fatalf("expected telemetry table")
	}

	pending, err := mr.Pending()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Version != "20990101_000000" {
		t.Fatalf("expected the file migration to stay pending, got %+v", pending)
	}
}

func TestCreateMigration(t *testing.T) {
	cfg := sqliteConfig(t)
	mr := NewMigrationRunner(nil, cfg)

	path, err := mr.CreateMigration("Add Health Index!")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if filepath.Dir(path) != cfg.Migration.Dir || !strings.HasSuffix(path, "_add_health_index.sql") {
		t.Fatalf("unexpected path %s", path)
	}
	content, err := os.ReadFile(path)
	if err != nil || !strings.Contains(string(content), "telemetry_records") {
		t.Fatalf("unexpected template %q (err=%v)", content, err)
	}

	all, err := mr.Migrations()
	if err != nil {
		t.Fatalf("migrations: %v", err)
	}
	last := all[len(all)-1]
	if last.Name != "add health index" || last.Source != path {
		t.Fatalf("unexpected migration %+v", last)
	}

	if _, err := mr.CreateMigration("!!!"); err == nil {
		t.Fatalf("expected error for a name without letters or digits")
	}
}

func TestStreamStats(t *testing.T) {
	cfg := sqliteConfig(t)
	db, err := Connect(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer Close(db)

	if _, err := StreamStats(db, "sensor_data"); !errors.Is(err, ErrNotMigrated) {
		t.Fatalf("expected ErrNotMigrated, got %v", err)
	}

	if err := NewMigrationRunner(db, cfg).EnsureSchema(); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	records := []models.Record{
		{Stream: "sensor_data", Payload: `{"ph":7.1}`},
		{Stream: "sensor_data", Payload: `{"ph":7.2}`},
		{Stream: "fish_type", Payload: `{"fish":"tilapia"}`},
	}
	if err := db.Create(&records).Error; err != nil {
		t.Fatalf("create records: %v", err)
	}

	stats, err := StreamStats(db, "fish_health", "sensor_data", "fish_type")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := []StreamStat{
		{Stream: "fish_health"},
		{Stream: "sensor_data", Records: 2, LastKey: records[1].ID},
		{Stream: "fish_type", Records: 1, LastKey: records[2].ID},
	}
	if len(stats) != len(want) {
		t.Fatalf("expected %d stats, got %+v", len(want), stats)
	}
	for i := range want {
		if stats[i] != want[i] {
			t.Fatalf("stats[%d] = %+v, want %+v", i, stats[i], want[i])
		}
	}
}

func TestGetDatabaseInfo(t *testing.T) {
	cfg := sqliteConfig(t)
	db, err := Connect(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	info := GetDatabaseInfo(cfg, db)
	if info["driver"] != "sqlite" || info["connected"] != true || info["path"] != cfg.Database.SQLite.Path {
		t.Fatalf("unexpected info %v", info)
	}

	Close(db)
	if IsConnected(db) {
		t.Fatalf("expected closed database to report disconnected")
	}
}
