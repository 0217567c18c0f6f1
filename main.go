package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"limix_backend/api"
	"limix_backend/config"
	"limix_backend/database"
	"limix_backend/health"
	"limix_backend/influx"
	"limix_backend/logger"
	"limix_backend/metrics"
	"limix_backend/orchestrator"
	"limix_backend/recommend"
	"limix_backend/scanner"
	"limix_backend/simulator"
	"limix_backend/telemetry"
)

const modeServer orchestrator.Mode = "server"

func main() {
	if len(os.Args) < 2 {
		showHelp()
		return
	}

	command := os.Args[1]

	// Initialize logging only for commands that need it
	var cfg *config.Config
	if needsLogging(command) {
		cfg = loadConfig()
		if err := logger.Init(cfg); err != nil {
			log.Fatalf("Failed to initialize logging: %v", err)
		}
		defer func() {
			err := logger.Close()
			if err != nil {
				log.Fatalf("Failed to close logging: %v", err)
			}
		}()
		logger.LogCommand(os.Args[0], os.Args)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "simulate":
		runCommand(ctx, cfg, orchestrator.ModeProducer)
	case "listen":
		runCommand(ctx, cfg, orchestrator.ModeReactive)
	case "run":
		runCommand(ctx, cfg, orchestrator.ModeProducer, orchestrator.ModeReactive)
	case "serve":
		serveCommand(ctx, cfg)
	case "classify":
		if len(os.Args) < 3 {
			fmt.Println("Error: image path required")
			fmt.Println("Usage: go run main.go classify <image_path>")
			return
		}
		classifyCommand(ctx, cfg, os.Args[2])
	case "import":
		if len(os.Args) < 3 {
			fmt.Println("Error: directory path required")
			fmt.Println("Usage: go run main.go import <directory_path>")
			return
		}
		importCommand(ctx, cfg, os.Args[2])
	case "generate":
		if len(os.Args) < 3 {
			fmt.Println("Error: output directory required")
			fmt.Println("Usage: go run main.go generate <directory_path> [rows_per_file]")
			return
		}
		rows := 288
		if len(os.Args) > 3 {
			n, err := strconv.Atoi(os.Args[3])
			if err != nil || n < 1 {
				fmt.Printf("Error: invalid row count %q\n", os.Args[3])
				return
			}
			rows = n
		}
		generateCommand(cfg, os.Args[2], rows)
	case "connect":
		connectCommand(cfg)
	case "migrate":
		migrateCommand(cfg)
	case "migrate:create":
		if len(os.Args) < 3 {
			fmt.Println("Error: migration name required")
			fmt.Println("Usage: go run main.go migrate:create <migration_name>")
			return
		}
		createMigrationCommand(cfg, os.Args[2])
	case "migrate:status":
		migrationStatusCommand(cfg)
	case "db:info":
		dbInfoCommand(cfg)
	case "help":
		showHelp()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		showHelp()
	}
}

// needsLogging determines which commands need logging
func needsLogging(command string) bool {
	loggingCommands := map[string]bool{
		"simulate":       true,
		"listen":         true,
		"run":            true,
		"serve":          true,
		"classify":       true,
		"import":         true,
		"generate":       true,
		"connect":        true,
		"migrate":        true,
		"migrate:create": true,
		"migrate:status": true,
		"db:info":        true,
	}
	return loggingCommands[command]
}

func showHelp() {
	fmt.Println("Limix - Aquaculture Monitoring Backend")
	fmt.Println("")
	fmt.Println("Usage: go run main.go <command> [arguments]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  simulate                   Append a simulated sensor reading every interval")
	fmt.Println("  listen                     Recommend a fish species for every new reading")
	fmt.Println("  run                        Run simulate and listen together")
	fmt.Println("  serve                      Start the HTTP API (plus the loops enabled in config)")
	fmt.Println("  classify <image>           Classify fish health from a .jpg/.jpeg/.png image")
	fmt.Println("  import <directory>         Replay recorded CSV logs into the sensor stream")
	fmt.Println("  generate <directory> [n]   Write simulated CSV logs with n rows per file")
	fmt.Println("  connect                    Test database connection")
	fmt.Println("  migrate                    Create tables and run pending migrations")
	fmt.Println("  migrate:create <name>      Create a new migration file")
	fmt.Println("  migrate:status             Show migration status")
	fmt.Println("  db:info                    Show database information")
	fmt.Println("  help                       Show this help message")
	fmt.Println("")
	fmt.Println("Configuration:")
	fmt.Println("  Edit config.yaml; LIMIX_* variables in the environment or .env override it")
	fmt.Println("")
	fmt.Println("CSV File Format:")
	fmt.Println("  Expected columns: " + strings.Join(scanner.Columns, ","))
	fmt.Println("  Timestamp format: ISO8601 (e.g., 2025-09-05T12:30:45Z)")
}

func loadConfig() *config.Config {
	cfg, err := config.Load(os.Getenv("LIMIX_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	return cfg
}

func connectDatabase(cfg *config.Config) *gorm.DB {
	db, err := database.Connect(cfg)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v\n", err)
	}
	return db
}

// openStore returns the telemetry store selected by the database driver and
// a function releasing it
func openStore(cfg *config.Config) (telemetry.Store, func()) {
	if cfg.Database.Driver == "memory" {
		logger.Warnf("Using the in-memory store: data is lost on exit and not shared between processes\n")
		store := telemetry.NewMemoryStore()
		return store, func() { store.Close() }
	}

	db := connectDatabase(cfg)
	runner := database.NewMigrationRunner(db, cfg)
	migrate := runner.EnsureSchema
	if cfg.Migration.AutoMigrate {
		migrate = runner.Migrate
	}
	if err := migrate(); err != nil {
		database.Close(db)
		logger.Fatalf("Migration failed: %v\n", err)
	}

	store := telemetry.NewSQLStore(db, cfg.Listener.PollInterval)
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Warnf("Failed to close store: %v\n", err)
		}
		if err := database.Close(db); err != nil {
			logger.Warnf("Failed to close database: %v\n", err)
		}
	}
}

func newProducer(cfg *config.Config, store telemetry.Store, obs orchestrator.Observer) (*orchestrator.Producer, func()) {
	gen, err := simulator.FromConfig(cfg.Simulator)
	if err != nil {
		logger.Fatalf("Invalid simulator configuration: %v\n", err)
	}

	p := &orchestrator.Producer{
		Source:   gen,
		Store:    store,
		Interval: cfg.Simulator.Interval,
		Observer: obs,
	}
	if !cfg.Influx.Enabled {
		return p, func() {}
	}

	mirror := influx.New(cfg.Influx)
	if err := mirror.Ping(context.Background()); err != nil {
		// samples are still stored, only the mirror is missing
		logger.Warnf("InfluxDB mirror unavailable: %v\n", err)
	} else {
		logger.Printf("✓ Mirroring samples to InfluxDB bucket %s\n", cfg.Influx.Bucket)
	}
	p.Sinks = append(p.Sinks, mirror)
	return p, mirror.Close
}

func newReactive(cfg *config.Config, store telemetry.Store, obs orchestrator.Observer) *orchestrator.Reactive {
	engine, err := recommend.FromConfig(cfg.Species, cfg.Listener.MinConfidence)
	if err != nil {
		logger.Fatalf("Invalid species table: %v\n", err)
	}
	return &orchestrator.Reactive{
		Store:     store,
		Engine:    engine,
		Observer:  obs,
		Heartbeat: cfg.Listener.Heartbeat,
	}
}

// loops builds the runners for the given modes
func loops(cfg *config.Config, store telemetry.Store, obs orchestrator.Observer, modes ...orchestrator.Mode) (map[orchestrator.Mode]orchestrator.Runner, func()) {
	runners := make(map[orchestrator.Mode]orchestrator.Runner)
	cleanup := func() {}
	for _, mode := range modes {
		switch mode {
		case orchestrator.ModeProducer:
			p, closeSinks := newProducer(cfg, store, obs)
			runners[mode] = p
			cleanup = closeSinks
		case orchestrator.ModeReactive:
			runners[mode] = newReactive(cfg, store, obs)
		}
	}
	return runners, cleanup
}

func runCommand(ctx context.Context, cfg *config.Config, modes ...orchestrator.Mode) {
	store, closeStore := openStore(cfg)
	defer closeStore()

	rec := metrics.NewRecorder(prometheus.NewRegistry())
	runners, closeSinks := loops(cfg, store, rec, modes...)
	defer closeSinks()

	if err := orchestrator.RunAll(ctx, runners); err != nil {
		logger.LogResult("Ingestion", false, err.Error())
		return
	}
	logger.LogResult("Ingestion", true, "stopped on signal")
}

type serverRunner struct {
	srv *http.Server
}

func (s serverRunner) Run(ctx context.Context) error {
	return api.Serve(ctx, s.srv)
}

func serveCommand(ctx context.Context, cfg *config.Config) {
	store, closeStore := openStore(cfg)
	defer closeStore()

	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)

	var modes []orchestrator.Mode
	if cfg.Server.RunSimulator {
		modes = append(modes, orchestrator.ModeProducer)
	}
	if cfg.Server.RunListener {
		modes = append(modes, orchestrator.ModeReactive)
	}
	runners, closeSinks := loops(cfg, store, rec, modes...)
	defer closeSinks()

	handler := &api.Handler{
		Store:          store,
		Pipeline:       newPipeline(cfg, store, rec),
		RequestTimeout: cfg.Health.RequestTimeout,
		MaxUploadBytes: cfg.Health.MaxUploadBytes,
	}
	srv := api.NewServer(cfg.Server, api.NewRouter(handler, reg))
	runners[modeServer] = serverRunner{srv: srv}

	if err := orchestrator.RunAll(ctx, runners); err != nil {
		logger.LogResult("Server", false, err.Error())
		return
	}
	logger.LogResult("Server", true, "stopped on signal")
}

func newPipeline(cfg *config.Config, store telemetry.Store, obs health.Observer) *health.Pipeline {
	return &health.Pipeline{
		Model:     health.NewModel(health.HTTPLoader(cfg.Health)),
		Store:     store,
		Observer:  obs,
		MaxPixels: cfg.Health.MaxImagePixels,
	}
}

func classifyCommand(ctx context.Context, cfg *config.Config, imagePath string) {
	logger.Printf("Classifying image: %s\n", imagePath)

	store, closeStore := openStore(cfg)
	defer closeStore()

	pipeline := newPipeline(cfg, store, metrics.NewRecorder(prometheus.NewRegistry()))
	if cfg.Health.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Health.RequestTimeout)
		defer cancel()
	}

	result, err := pipeline.Classify(ctx, health.FromPath(imagePath))
	switch {
	case errors.Is(err, health.ErrPersist):
		logger.Warnf("Result was not stored: %v\n", err)
	case err != nil:
		logger.LogResult("Classification", false, err.Error())
		return
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	if !logger.ConsoleEnabled() {
		fmt.Println(string(out))
	}
	logger.Printf("%s\n", out)
	logger.LogResult("Classification", true, fmt.Sprintf("%s (%.2f%%)", result.Status, result.Confidence))
}

func importCommand(ctx context.Context, cfg *config.Config, directoryPath string) {
	store, closeStore := openStore(cfg)
	defer closeStore()

	csvScanner := scanner.NewCSVScanner(store)
	summary, err := csvScanner.ScanDirectory(ctx, directoryPath)
	if err != nil {
		logger.LogResult("Import", false, err.Error())
		return
	}

	logger.LogResult("Import", true, fmt.Sprintf("%d samples from %d files in %v", summary.Appended, summary.Files, summary.Duration))
}

func generateCommand(cfg *config.Config, outputDir string, rows int) {
	gen, err := simulator.FromConfig(cfg.Simulator)
	if err != nil {
		logger.Fatalf("Invalid simulator configuration: %v\n", err)
	}

	paths, err := scanner.Generate(outputDir, gen, scanner.GenerateOptions{
		Files: 3,
		Rows:  rows,
		Step:  cfg.Simulator.Interval,
	})
	if err != nil {
		logger.LogResult("Generate", false, err.Error())
		return
	}

	logger.LogResult("Generate", true, fmt.Sprintf("%d files in %s", len(paths), outputDir))
	logger.Printf("Import them with: go run main.go import %s\n", outputDir)
}

func requireSQL(cfg *config.Config) bool {
	if cfg.Database.Driver == "memory" {
		logger.Println("The memory driver has no database to manage")
		return false
	}
	return true
}

func connectCommand(cfg *config.Config) {
	if !requireSQL(cfg) {
		return
	}
	logger.Println("Testing database connection...")

	db := connectDatabase(cfg)
	defer database.Close(db)

	logger.Printf("✓ Successfully connected to %s database\n", cfg.Database.Driver)

	// Show connection info
	info := database.GetDatabaseInfo(cfg, db)
	infoJSON, _ := json.MarshalIndent(info, "", "  ")
	logger.Printf("Connection info: %s\n", infoJSON)
}

func migrateCommand(cfg *config.Config) {
	if !requireSQL(cfg) {
		return
	}
	logger.Println("Running database migrations...")

	db := connectDatabase(cfg)
	defer database.Close(db)

	runner := database.NewMigrationRunner(db, cfg)
	if err := runner.Migrate(); err != nil {
		logger.Fatalf("Migration failed: %v\n", err)
	}
	logger.LogResult("Migrate", true, "")
}

func createMigrationCommand(cfg *config.Config, name string) {
	logger.Printf("Creating migration: %s\n", name)

	runner := database.NewMigrationRunner(nil, cfg) // Don't need DB connection to create files

	filePath, err := runner.CreateMigration(name)
	if err != nil {
		logger.Fatalf("Failed to create migration: %v\n", err)
	}

	logger.Printf("✓ Migration created: %s\n", filePath)
}

func migrationStatusCommand(cfg *config.Config) {
	if !requireSQL(cfg) {
		return
	}
	logger.Println("Checking migration status...")

	db := connectDatabase(cfg)
	defer database.Close(db)

	runner := database.NewMigrationRunner(db, cfg)

	migrations, err := runner.Status()
	if err != nil {
		logger.Fatalf("Failed to get migration status: %v\n", err)
	}

	logger.Printf("%-18s %-45s %-10s %s\n", "Version", "Name", "Source", "Status")
	logger.Println("--------------------------------------------------------------------------------------")

	for _, migration := range migrations {
		status := "Pending"
		switch {
		case migration.Modified:
			status = "Modified after apply"
		case migration.Applied:
			status = "Applied " + migration.AppliedAt.Format("2006-01-02 15:04:05")
		}
		source := migration.Source
		if source != database.SourceBuiltin {
			source = "file"
		}
		logger.Printf("%-18s %-45s %-10s %s\n", migration.Version, migration.Name, source, status)
	}

	printStreamStats(db, logger.Printf)
}

// printStreamStats writes one line per telemetry stream
func printStreamStats(db *gorm.DB, printf func(format string, v ...interface{})) {
	stats, err := database.StreamStats(db, string(telemetry.SensorStream), string(telemetry.RecommendationStream), string(telemetry.HealthStream))
	if errors.Is(err, database.ErrNotMigrated) {
		printf("  Not migrated yet (run: go run main.go migrate)\n")
		return
	}
	if err != nil {
		printf("  %v\n", err)
		return
	}
	printf("\nStreams:\n")
	for _, stat := range stats {
		printf("  %-16s %d records, last key %d\n", stat.Stream+":", stat.Records, stat.LastKey)
	}
}

func dbInfoCommand(cfg *config.Config) {
	if !requireSQL(cfg) {
		return
	}
	fmt.Println("Database Information:")
	fmt.Println(strings.Repeat("=", 50))

	db := connectDatabase(cfg)
	defer database.Close(db)

	info := database.GetDatabaseInfo(cfg, db)

	// Display basic database info
	fmt.Printf("Database Type:     %v\n", info["driver"])
	fmt.Printf("Connection Status: %v\n", getConnectionStatusText(info["connected"]))

	// Display database-specific connection details
	switch cfg.Database.Driver {
	case "mysql", "postgres":
		fmt.Printf("Host:              %v\n", info["host"])
		fmt.Printf("Port:              %v\n", info["port"])
		fmt.Printf("Database:          %v\n", info["database"])
	case "sqlite":
		fmt.Printf("File Path:         %v\n", info["path"])
	}

	if info["connected"] != true {
		fmt.Println("\nConnection failed - unable to retrieve detailed information")
		fmt.Println(strings.Repeat("=", 50))
		return
	}

	fmt.Println("\nConnection Pool:")
	fmt.Printf("  Max Connections: %v\n", info["max_open_connections"])
	fmt.Printf("  Open Connections:%v\n", info["open_connections"])
	fmt.Printf("  In Use:          %v\n", info["in_use"])
	fmt.Printf("  Idle:            %v\n", info["idle"])

	printStreamStats(db, func(format string, v ...interface{}) { fmt.Printf(format, v...) })

	fmt.Println(strings.Repeat("=", 50))
	if !logger.ConsoleEnabled() {
		fmt.Printf("Log file: %s\n", logger.GetLogFileName())
	}
}

func getConnectionStatusText(connected interface{}) string {
	if conn, ok := connected.(bool); ok && conn {
		return "✓ Connected"
	}
	return "✗ Disconnected"
}
