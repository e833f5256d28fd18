package config

import (
	"fmt"
	"strings"
)

var (
	MaxTimestampSkewSeconds = uint64(600)
	MaxNonceTTLSeconds      = uint64(3600)
)

// Validate reports the first configuration problem found.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		return fmt.Errorf("RPCAddress must be set")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("DataDir must be set")
	}
	if strings.TrimSpace(cfg.AdminKeystorePath) == "" {
		return fmt.Errorf("AdminKeystorePath must be set")
	}
	if cfg.ContractVersion == 0 {
		return fmt.Errorf("ContractVersion must be positive")
	}
	if cfg.MetricsAddress != "" && cfg.MetricsAddress == cfg.RPCAddress {
		return fmt.Errorf("MetricsAddress must differ from RPCAddress")
	}
	return ValidateRPC(cfg.RPC)
}

func ValidateRPC(r RPC) error {
	if r.TimestampSkewSeconds == 0 || r.TimestampSkewSeconds > MaxTimestampSkewSeconds {
		return fmt.Errorf("rpc: TimestampSkewSeconds must be in (0, %d]", MaxTimestampSkewSeconds)
	}
	if r.NonceTTLSeconds < r.TimestampSkewSeconds {
		return fmt.Errorf("rpc: NonceTTLSeconds must cover TimestampSkewSeconds")
	}
	if r.NonceTTLSeconds > MaxNonceTTLSeconds {
		return fmt.Errorf("rpc: NonceTTLSeconds exceeds %d", MaxNonceTTLSeconds)
	}
	if r.NonceCapacity <= 0 {
		return fmt.Errorf("rpc: NonceCapacity must be positive")
	}
	if r.RateLimitPerMinute < 0 || r.RateLimitBurst < 0 {
		return fmt.Errorf("rpc: rate limits must not be negative")
	}
	return nil
}
