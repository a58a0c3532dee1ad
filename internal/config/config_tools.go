package config

import "time"

// ToolsConfig configures the built-in tools and argument validation.
type ToolsConfig struct {
	// ValidateArgs checks tool arguments against each tool's schema before
	// calling it. Default: true.
	ValidateArgs *bool `yaml:"validate_args"`

	CurrentTime  CurrentTimeToolConfig  `yaml:"current_time"`
	WebFetch     WebFetchToolConfig     `yaml:"web_fetch"`
	SessionUsage SessionUsageToolConfig `yaml:"session_usage"`
}

// CurrentTimeToolConfig configures current_time.
type CurrentTimeToolConfig struct {
	Enabled  *bool  `yaml:"enabled"`
	Timezone string `yaml:"timezone"`
}

// WebFetchToolConfig configures web_fetch. It is off by default.
type WebFetchToolConfig struct {
	Enabled  bool          `yaml:"enabled"`
	MaxChars int           `yaml:"max_chars"`
	MaxBytes int64         `yaml:"max_bytes"`
	Timeout  time.Duration `yaml:"timeout"`

	// AllowPrivate permits requests to loopback and private networks.
	AllowPrivate bool `yaml:"allow_private"`
}

// SessionUsageToolConfig configures session_usage.
type SessionUsageToolConfig struct {
	Enabled *bool `yaml:"enabled"`
}

func applyToolsDefaults(t *ToolsConfig) {
	if t.ValidateArgs == nil {
		t.ValidateArgs = boolPtr(true)
	}
	if t.CurrentTime.Enabled == nil {
		t.CurrentTime.Enabled = boolPtr(true)
	}
	if t.SessionUsage.Enabled == nil {
		t.SessionUsage.Enabled = boolPtr(true)
	}
	if t.WebFetch.MaxChars == 0 {
		t.WebFetch.MaxChars = 10000
	}
	if t.WebFetch.Timeout == 0 {
		t.WebFetch.Timeout = 15 * time.Second
	}
}

func boolPtr(v bool) *bool { return &v }

// Enabled reports the value of an optional flag.
func Enabled(flag *bool) bool { return flag != nil && *flag }
