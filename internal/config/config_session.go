package config

import (
	"time"

	"github.com/haasonsaas/conduit/internal/budget"
	"github.com/haasonsaas/conduit/internal/sessions"
)

// SessionsConfig selects where conversation checkpoints are stored.
type SessionsConfig struct {
	// Backend is memory, postgres, sqlite or s3.
	Backend string `yaml:"backend"`

	Postgres PostgresSessionConfig `yaml:"postgres"`
	SQLite   SQLiteSessionConfig   `yaml:"sqlite"`
	S3       S3SessionConfig       `yaml:"s3"`
}

// PostgresSessionConfig configures the Postgres/CockroachDB store.
type PostgresSessionConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	AutoMigrate     *bool         `yaml:"auto_migrate"`
}

// SQLiteSessionConfig configures the embedded store.
type SQLiteSessionConfig struct {
	Path string `yaml:"path"`
}

// S3SessionConfig configures the object storage store.
type S3SessionConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// StoreConfig converts the section to the store factory's input.
func (s SessionsConfig) StoreConfig() sessions.Config {
	pg := sessions.DefaultPostgresConfig()
	pg.DSN = s.Postgres.DSN
	if s.Postgres.MaxOpenConns > 0 {
		pg.MaxOpenConns = s.Postgres.MaxOpenConns
	}
	if s.Postgres.MaxIdleConns > 0 {
		pg.MaxIdleConns = s.Postgres.MaxIdleConns
	}
	if s.Postgres.ConnMaxLifetime > 0 {
		pg.ConnMaxLifetime = s.Postgres.ConnMaxLifetime
	}
	if s.Postgres.ConnMaxIdleTime > 0 {
		pg.ConnMaxIdleTime = s.Postgres.ConnMaxIdleTime
	}
	if s.Postgres.ConnectTimeout > 0 {
		pg.ConnectTimeout = s.Postgres.ConnectTimeout
	}
	pg.AutoMigrate = Enabled(s.Postgres.AutoMigrate)

	return sessions.Config{
		Backend:    s.Backend,
		Postgres:   pg,
		SQLitePath: s.SQLite.Path,
		S3: sessions.S3Config{
			Bucket:          s.S3.Bucket,
			Prefix:          s.S3.Prefix,
			Region:          s.S3.Region,
			Endpoint:        s.S3.Endpoint,
			UsePathStyle:    s.S3.UsePathStyle,
			AccessKeyID:     s.S3.AccessKeyID,
			SecretAccessKey: s.S3.SecretAccessKey,
		},
	}
}

func applySessionsDefaults(s *SessionsConfig) {
	if s.Backend == "" {
		s.Backend = "memory"
	}
	if s.Postgres.AutoMigrate == nil {
		s.Postgres.AutoMigrate = boolPtr(true)
	}
	if s.SQLite.Path == "" {
		s.SQLite.Path = "conduit.db"
	}
}

// BudgetConfig declares spend limits over the usage window.
type BudgetConfig struct {
	Limits []budget.Limit `yaml:"limits"`

	// ResetSchedule is a cron expression or descriptor such as @monthly.
	ResetSchedule string `yaml:"reset_schedule"`
	Timezone      string `yaml:"timezone"`
}

func applyBudgetDefaults(b *BudgetConfig) {
	if b.ResetSchedule == "" {
		b.ResetSchedule = budget.DefaultResetSchedule
	}
	if b.Timezone == "" {
		b.Timezone = "UTC"
	}
}
