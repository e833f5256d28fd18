package config

import "time"

// Pauses switches individual registries to read-only.
type Pauses struct {
	Apps      bool `toml:"Apps"`
	Borrowers bool `toml:"Borrowers"`
	Members   bool `toml:"Members"`
	Scores    bool `toml:"Scores"`
}

// Modules returns the pause flags keyed by registry module name.
func (p Pauses) Modules() map[string]bool {
	return map[string]bool{
		"apps":      p.Apps,
		"borrowers": p.Borrowers,
		"members":   p.Members,
		"scores":    p.Scores,
	}
}

// RPC controls the JSON-RPC listener and signed-request checks.
type RPC struct {
	TimestampSkewSeconds uint64   `toml:"TimestampSkewSeconds"`
	NonceTTLSeconds      uint64   `toml:"NonceTTLSeconds"`
	NonceCapacity        int      `toml:"NonceCapacity"`
	NonceStorePath       string   `toml:"NonceStorePath,omitempty"`
	RateLimitPerMinute   float64  `toml:"RateLimitPerMinute"`
	RateLimitBurst       int      `toml:"RateLimitBurst"`
	AllowedOrigins       []string `toml:"AllowedOrigins"`
	ReadTimeoutSeconds   uint64   `toml:"ReadTimeoutSeconds"`
	WriteTimeoutSeconds  uint64   `toml:"WriteTimeoutSeconds"`
}

func (r *RPC) applyDefaults() {
	if r.TimestampSkewSeconds == 0 {
		r.TimestampSkewSeconds = 120
	}
	if r.NonceTTLSeconds == 0 {
		r.NonceTTLSeconds = 600
	}
	if r.NonceCapacity == 0 {
		r.NonceCapacity = 4096
	}
	if r.RateLimitPerMinute == 0 {
		r.RateLimitPerMinute = 600
	}
	if r.RateLimitBurst == 0 {
		r.RateLimitBurst = 60
	}
	if r.AllowedOrigins == nil {
		r.AllowedOrigins = []string{}
	}
	if r.ReadTimeoutSeconds == 0 {
		r.ReadTimeoutSeconds = 15
	}
	if r.WriteTimeoutSeconds == 0 {
		r.WriteTimeoutSeconds = 15
	}
}

func (r RPC) TimestampSkew() time.Duration {
	return time.Duration(r.TimestampSkewSeconds) * time.Second
}

func (r RPC) NonceTTL() time.Duration {
	return time.Duration(r.NonceTTLSeconds) * time.Second
}

func (r RPC) ReadTimeout() time.Duration {
	return time.Duration(r.ReadTimeoutSeconds) * time.Second
}

func (r RPC) WriteTimeout() time.Duration {
	return time.Duration(r.WriteTimeoutSeconds) * time.Second
}

// Telemetry configures OTLP export. An empty Endpoint disables exporters.
type Telemetry struct {
	Endpoint      string            `toml:"Endpoint,omitempty"`
	Insecure      bool              `toml:"Insecure"`
	Headers       map[string]string `toml:"Headers,omitempty"`
	EnableTraces  bool              `toml:"EnableTraces"`
	EnableMetrics bool              `toml:"EnableMetrics"`
}

// Logging configures the structured logger.
type Logging struct {
	Env        string `toml:"Env"`
	File       string `toml:"File,omitempty"`
	MaxSizeMB  int    `toml:"MaxSizeMB,omitempty"`
	MaxBackups int    `toml:"MaxBackups,omitempty"`
}
