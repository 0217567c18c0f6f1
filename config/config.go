package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DatabaseConfig holds all database configuration
type DatabaseConfig struct {
	Driver         string         `yaml:"driver"`
	MySQL          MySQLConfig    `yaml:"mysql"`
	PostgreSQL     PostgresConfig `yaml:"postgres"`
	SQLite         SQLiteConfig   `yaml:"sqlite"`
	ConnectionPool PoolConfig     `yaml:"connection_pool"`
}

// MySQLConfig holds MySQL specific configuration
type MySQLConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	DBName    string `yaml:"dbname"`
	Charset   string `yaml:"charset"`
	ParseTime bool   `yaml:"parse_time"`
	Loc       string `yaml:"loc"`
}

// PostgresConfig holds PostgreSQL specific configuration
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	TimeZone string `yaml:"timezone"`
}

// SQLiteConfig holds SQLite specific configuration
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PoolConfig holds connection pool configuration
type PoolConfig struct {
	MaxIdleConns    int `yaml:"max_idle_conns"`
	MaxOpenConns    int `yaml:"max_open_conns"`
	ConnMaxLifetime int `yaml:"conn_max_lifetime"`
}

// MigrationConfig holds migration specific configuration
type MigrationConfig struct {
	AutoMigrate    bool   `yaml:"auto_migrate"`
	MigrationTable string `yaml:"migration_table"`
	Dir            string `yaml:"dir"`
}

// LoggingConfig holds logging specific configuration
type LoggingConfig struct {
	LogFile      string `yaml:"log_file"`
	LogToConsole bool   `yaml:"log_to_console"`
	LogLevel     string `yaml:"log_level"`
}

// Bound is the perturbation window around a simulated reading's midpoint
type Bound struct {
	Mid      float64 `yaml:"mid"`
	Low      float64 `yaml:"low"`
	High     float64 `yaml:"high"`
	Decimals int     `yaml:"decimals"`
}

// SimulatorConfig holds the producer loop configuration
type SimulatorConfig struct {
	Interval time.Duration    `yaml:"interval"`
	Seed     int64            `yaml:"seed"`
	Bounds   map[string]Bound `yaml:"bounds"`
}

// ListenerConfig holds the reactive loop configuration
type ListenerConfig struct {
	Heartbeat     time.Duration `yaml:"heartbeat"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	MinConfidence float64       `yaml:"min_confidence"`
}

// Range is an inclusive [Min, Max] interval
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// SpeciesConfig describes one entry of the recommendation rule table
type SpeciesConfig struct {
	ID                   string `yaml:"id"`
	Name                 string `yaml:"name"`
	PHOptimal            Range  `yaml:"ph_optimal"`
	PHTolerable          Range  `yaml:"ph_tolerable"`
	TemperatureOptimal   Range  `yaml:"temperature_optimal"`
	TemperatureTolerable Range  `yaml:"temperature_tolerable"`
	TurbidityOptimal     Range  `yaml:"turbidity_optimal"`
	TurbidityTolerable   Range  `yaml:"turbidity_tolerable"`
}

// HealthConfig holds the fish health inference configuration
type HealthConfig struct {
	ScorerEndpoint string        `yaml:"scorer_endpoint"`
	ScorerTimeout  time.Duration `yaml:"scorer_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	MaxImagePixels int           `yaml:"max_image_pixels"`
}

// ServerConfig holds the HTTP API configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	RunSimulator   bool     `yaml:"run_simulator"`
	RunListener    bool     `yaml:"run_listener"`
}

// InfluxConfig holds the optional InfluxDB mirror configuration
type InfluxConfig struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

// Config holds the complete application configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Migration MigrationConfig `yaml:"migration"`
	Logging   LoggingConfig   `yaml:"logging"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Listener  ListenerConfig  `yaml:"listener"`
	Species   []SpeciesConfig `yaml:"species"`
	Health    HealthConfig    `yaml:"health"`
	Server    ServerConfig    `yaml:"server"`
	Influx    InfluxConfig    `yaml:"influx"`
}

// Load loads configuration from the specified YAML file.
// Variables from a .env file next to the process (if any) and from the
// environment override the file.
func Load(configPath string) (*Config, error) {
	// Set default config path if not provided
	if configPath == "" {
		configPath = "config.yaml"
	}

	// A missing .env is normal outside development
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	// Read the config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse builds a Config from YAML, applying environment overrides and defaults
func Parse(data []byte) (*Config, error) {
	// Parse the YAML
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}
	config.applyDefaults()

	// Validate the configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("LIMIX_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("LIMIX_DB_PASSWORD"); v != "" {
		c.Database.MySQL.Password = v
		c.Database.PostgreSQL.Password = v
	}
	if v := os.Getenv("LIMIX_SQLITE_PATH"); v != "" {
		c.Database.SQLite.Path = v
	}
	if v := os.Getenv("LIMIX_SCORER_ENDPOINT"); v != "" {
		c.Health.ScorerEndpoint = v
	}
	if v := os.Getenv("LIMIX_INFLUX_TOKEN"); v != "" {
		c.Influx.Token = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

func (c *Config) applyDefaults() {
	// Set default values for logging if not specified
	if c.Logging.LogFile == "" {
		c.Logging.LogFile = "limix.log"
	}
	if c.Logging.LogLevel == "" {
		c.Logging.LogLevel = "info"
	}
	if c.Migration.MigrationTable == "" {
		c.Migration.MigrationTable = "migrations"
	}
	if c.Migration.Dir == "" {
		c.Migration.Dir = "migrations"
	}
	if c.Simulator.Interval == 0 {
		c.Simulator.Interval = 5 * time.Second
	}
	if c.Listener.Heartbeat == 0 {
		c.Listener.Heartbeat = time.Second
	}
	if c.Listener.PollInterval == 0 {
		c.Listener.PollInterval = 500 * time.Millisecond
	}
	if c.Listener.MinConfidence == 0 {
		c.Listener.MinConfidence = 50
	}
	if c.Health.ScorerTimeout == 0 {
		c.Health.ScorerTimeout = 10 * time.Second
	}
	if c.Health.RequestTimeout == 0 {
		c.Health.RequestTimeout = 30 * time.Second
	}
	if c.Health.MaxUploadBytes == 0 {
		c.Health.MaxUploadBytes = 10 << 20
	}
	if c.Health.MaxImagePixels == 0 {
		c.Health.MaxImagePixels = 25_000_000
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Influx.Measurement == "" {
		c.Influx.Measurement = "water_quality"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql":
		if c.Database.MySQL.Host == "" {
			return fmt.Errorf("mysql host is required")
		}
		if c.Database.MySQL.User == "" {
			return fmt.Errorf("mysql user is required")
		}
		if c.Database.MySQL.DBName == "" {
			return fmt.Errorf("mysql database name is required")
		}
	case "postgres":
		if c.Database.PostgreSQL.Host == "" {
			return fmt.Errorf("postgres host is required")
		}
		if c.Database.PostgreSQL.User == "" {
			return fmt.Errorf("postgres user is required")
		}
		if c.Database.PostgreSQL.DBName == "" {
			return fmt.Errorf("postgres database name is required")
		}
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case "memory":
		// in-process store, nothing to connect to
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Simulator.Interval < 0 {
		return fmt.Errorf("simulator interval must be positive")
	}
	if c.Listener.MinConfidence < 0 || c.Listener.MinConfidence > 100 {
		return fmt.Errorf("listener min_confidence must be within [0, 100]")
	}
	if c.Health.MaxImagePixels < 0 {
		return fmt.Errorf("health max_image_pixels must not be negative")
	}
	for name, b := range c.Simulator.Bounds {
		if b.Low > 0 || b.High < 0 {
			return fmt.Errorf("simulator bound %s: low must be <= 0 and high >= 0", name)
		}
	}
	for i, s := range c.Species {
		if s.ID == "" || s.Name == "" {
			return fmt.Errorf("species[%d]: id and name are required", i)
		}
	}
	if c.Influx.Enabled {
		if c.Influx.URL == "" || c.Influx.Org == "" || c.Influx.Bucket == "" {
			return fmt.Errorf("influx url, org and bucket are required when influx is enabled")
		}
	}

	return nil
}

// GetDSN returns the database connection string based on the configured driver
func (c *Config) GetDSN() string {
	switch c.Database.Driver {
	case "mysql":
		mysql := c.Database.MySQL
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=%s",
			mysql.User, mysql.Password, mysql.Host, mysql.Port, mysql.DBName,
			mysql.Charset, mysql.ParseTime, mysql.Loc)
		return dsn
	case "postgres":
		pg := c.Database.PostgreSQL
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
			pg.Host, pg.Port, pg.User, pg.Password, pg.DBName, pg.SSLMode, pg.TimeZone)
		return dsn
	case "sqlite":
		return c.Database.SQLite.Path
	default:
		return ""
	}
}
