package config

import (
	"net"
	"strconv"
	"time"
)

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// MetricsPath serves Prometheus metrics. Empty disables the endpoint.
	MetricsPath string `yaml:"metrics_path"`

	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`

	// TurnTimeout bounds a whole turn. Zero means no limit beyond the client.
	TurnTimeout time.Duration `yaml:"turn_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func applyServerDefaults(s *ServerConfig) {
	if s.Host == "" {
		s.Host = "0.0.0.0"
	}
	if s.Port == 0 {
		s.Port = 8080
	}
	if s.MetricsPath == "" {
		s.MetricsPath = "/metrics"
	}
	if s.MaxBodyBytes == 0 {
		s.MaxBodyBytes = 4 << 20
	}
	if s.ReadHeaderTimeout == 0 {
		s.ReadHeaderTimeout = 10 * time.Second
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 30 * time.Second
	}
}
