// Package config loads planner configuration from an optional YAML file and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration of the planner binaries.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Planner  PlannerConfig  `yaml:"planner"`
}

// ServerConfig configures the read-only query API.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig configures optional run persistence. Persistence is off
// unless URL or Host is set.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"name"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// Enabled reports whether a database is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.URL != "" || d.Host != ""
}

// DSN returns URL when set, otherwise a keyword/value connection string.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// LoggingConfig selects the log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// PlannerConfig holds the inputs and knobs of one planning run.
type PlannerConfig struct {
	ArtifactRoot string `yaml:"artifact_root"`
	SourcesDir   string `yaml:"sources_dir"`
	ParamsFile   string `yaml:"params_file"`

	// TravelTimes enables the coverage family. CoverageThreshold is then
	// required; there is no default.
	TravelTimes       string  `yaml:"travel_times"`
	CoverageThreshold float64 `yaml:"coverage_threshold"`
	MinCoverage       float64 `yaml:"min_coverage"`

	Solver     string        `yaml:"solver"`
	SolverPath string        `yaml:"solver_path"`
	TimeLimit  time.Duration `yaml:"time_limit"`
	Grace      time.Duration `yaml:"grace"`
	MIPGap     float64       `yaml:"mip_gap"`
	Tolerance  float64       `yaml:"tolerance"`

	PcapDefault       *int               `yaml:"pcap_default"`
	ZmaxDefault       *int               `yaml:"zmax_default"`
	BaseDemand        *float64           `yaml:"base_demand"`
	DefaultTypeWeight float64            `yaml:"default_type_weight"`
	TypeWeights       map[string]float64 `yaml:"type_weights"`

	// Reports adds summary.xlsx and report.pdf to the CSV outputs.
	Reports bool `yaml:"reports"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info"},
		Planner: PlannerConfig{
			ArtifactRoot:      "runs",
			SourcesDir:        "data/comunas",
			ParamsFile:        "params.yaml",
			Solver:            "gurobi",
			TimeLimit:         5 * time.Minute,
			Grace:             30 * time.Second,
			MIPGap:            0.02,
			Tolerance:         1e-5,
			DefaultTypeWeight: 1.0,
		},
	}
}

// LoadConfig loads the file named by PLANNER_CONFIG, if any.
func LoadConfig() (*Config, error) {
	return Load(os.Getenv("PLANNER_CONFIG"))
}

// Load reads path over the defaults and then applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("SERVER_HOST", &c.Server.Host)
	num("SERVER_PORT", &c.Server.Port)

	str("DATABASE_URL", &c.Database.URL)
	str("DB_HOST", &c.Database.Host)
	num("DB_PORT", &c.Database.Port)
	str("DB_USER", &c.Database.User)
	str("DB_PASSWORD", &c.Database.Password)
	str("DB_NAME", &c.Database.Database)
	str("DB_SSLMODE", &c.Database.SSLMode)

	str("LOG_LEVEL", &c.Logging.Level)

	str("PLANNER_ARTIFACT_ROOT", &c.Planner.ArtifactRoot)
	str("PLANNER_SOURCES_DIR", &c.Planner.SourcesDir)
	str("PLANNER_PARAMS_FILE", &c.Planner.ParamsFile)
	str("PLANNER_TRAVEL_TIMES", &c.Planner.TravelTimes)
	float("PLANNER_COVERAGE_THRESHOLD", &c.Planner.CoverageThreshold)
	float("PLANNER_MIN_COVERAGE", &c.Planner.MinCoverage)
	str("PLANNER_SOLVER", &c.Planner.Solver)
	str("PLANNER_SOLVER_PATH", &c.Planner.SolverPath)
	duration("PLANNER_TIME_LIMIT", &c.Planner.TimeLimit)
	float("PLANNER_MIP_GAP", &c.Planner.MIPGap)

	return errors.Join(errs...)
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}
	if c.Database.URL != "" {
		if u, err := url.Parse(c.Database.URL); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			add("database.url must be a postgres:// URL")
		}
	}

	p := c.Planner
	if p.ArtifactRoot == "" {
		add("planner.artifact_root is required")
	}
	switch p.Solver {
	case "gurobi", "cbc":
	default:
		add("planner.solver %q must be gurobi or cbc", p.Solver)
	}
	if p.TimeLimit <= 0 {
		add("planner.time_limit must be positive")
	}
	if p.Grace < 0 {
		add("planner.grace must not be negative")
	}
	if p.MIPGap < 0 || p.MIPGap >= 1 {
		add("planner.mip_gap %g must be in [0, 1)", p.MIPGap)
	}
	if p.Tolerance < 0 || p.Tolerance >= 0.5 {
		add("planner.tolerance %g must be in [0, 0.5)", p.Tolerance)
	}
	if p.MinCoverage < 0 || p.MinCoverage > 1 {
		add("planner.min_coverage %g must be in [0, 1]", p.MinCoverage)
	}
	if p.TravelTimes != "" && p.CoverageThreshold <= 0 {
		add("planner.coverage_threshold is required with planner.travel_times")
	}
	if p.PcapDefault != nil && *p.PcapDefault < 0 {
		add("planner.pcap_default must not be negative")
	}
	if p.ZmaxDefault != nil && *p.ZmaxDefault < 0 {
		add("planner.zmax_default must not be negative")
	}
	if p.BaseDemand != nil && *p.BaseDemand < 0 {
		add("planner.base_demand must not be negative")
	}
	if p.DefaultTypeWeight < 0 {
		add("planner.default_type_weight must not be negative")
	}
	for tag, w := range p.TypeWeights {
		if w < 0 {
			add("planner.type_weights[%s] must not be negative", tag)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
