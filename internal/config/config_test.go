package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PLANNER_CONFIG", "DATABASE_URL", "DB_HOST", "PLANNER_SOLVER", "PLANNER_TIME_LIMIT", "PLANNER_MIP_GAP"} {
		t.Setenv(key, "")
	}
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "gurobi", cfg.Planner.Solver)
	assert.Equal(t, 5*time.Minute, cfg.Planner.TimeLimit)
	assert.Equal(t, 0.02, cfg.Planner.MIPGap)
	assert.False(t, cfg.Database.Enabled())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
planner:
  solver: cbc
  time_limit: 90s
  travel_times: data/travel.csv
  coverage_threshold: 15
  pcap_default: 4
  type_weights:
    hospital: 2.5
database:
  host: db.internal
  name: planner
`), 0o644))

	t.Setenv("PLANNER_TIME_LIMIT", "120")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "cbc", cfg.Planner.Solver)
	assert.Equal(t, 2*time.Minute, cfg.Planner.TimeLimit, "environment wins over the file")
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.NotNil(t, cfg.Planner.PcapDefault)
	assert.Equal(t, 4, *cfg.Planner.PcapDefault)
	assert.Nil(t, cfg.Planner.ZmaxDefault)
	assert.Equal(t, 2.5, cfg.Planner.TypeWeights["hospital"])
	assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxIdleTime, "unset keys keep defaults")

	assert.True(t, cfg.Database.Enabled())
	assert.Equal(t, "host=db.internal port=5432 user= password= dbname=planner sslmode=disable", cfg.Database.DSN())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("SERVER_PORT", "eighty")
	_, err = Load("")
	assert.ErrorContains(t, err, "SERVER_PORT")
}

func TestDatabaseConfig_URLWins(t *testing.T) {
	d := DatabaseConfig{URL: "postgres://u:p@localhost/planner", Host: "ignored"}
	assert.Equal(t, "postgres://u:p@localhost/planner", d.DSN())
}

func TestValidate(t *testing.T) {
	neg := -1
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown solver", func(c *Config) { c.Planner.Solver = "glpk" }, "planner.solver"},
		{"zero time limit", func(c *Config) { c.Planner.TimeLimit = 0 }, "time_limit"},
		{"gap out of range", func(c *Config) { c.Planner.MIPGap = 1 }, "mip_gap"},
		{"coverage out of range", func(c *Config) { c.Planner.MinCoverage = 1.5 }, "min_coverage"},
		{"travel times without threshold", func(c *Config) { c.Planner.TravelTimes = "t.csv" }, "coverage_threshold"},
		{"negative pcap default", func(c *Config) { c.Planner.PcapDefault = &neg }, "pcap_default"},
		{"negative type weight", func(c *Config) { c.Planner.TypeWeights = map[string]float64{"mall": -2} }, "type_weights[mall]"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad database url", func(c *Config) { c.Database.URL = "mysql://x" }, "database.url"},
		{"empty artifact root", func(c *Config) { c.Planner.ArtifactRoot = "" }, "artifact_root"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
