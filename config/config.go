package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lendchain/crypto"

	"github.com/BurntSushi/toml"
)

// DefaultAdminPassEnv names the environment variable holding the admin
// keystore passphrase when the config does not override it.
const DefaultAdminPassEnv = "LENDCHAIN_ADMIN_PASS"

type Config struct {
	RPCAddress        string `toml:"RPCAddress"`
	MetricsAddress    string `toml:"MetricsAddress"`
	DataDir           string `toml:"DataDir"`
	AdminKeystorePath string `toml:"AdminKeystorePath"`
	AdminPassEnv      string `toml:"AdminPassEnv"`
	NetworkName       string `toml:"NetworkName"`
	ContractVersion   uint64 `toml:"ContractVersion"`
	BootstrapFile     string `toml:"BootstrapFile,omitempty"`

	Pauses    Pauses    `toml:"pauses"`
	RPC       RPC       `toml:"rpc"`
	Telemetry Telemetry `toml:"telemetry"`
	Logging   Logging   `toml:"logging"`
}

// Load loads the configuration from the given path, creating a default file
// and admin keystore when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "lend-local"
	}
	if strings.TrimSpace(cfg.AdminPassEnv) == "" {
		cfg.AdminPassEnv = DefaultAdminPassEnv
	}
	if cfg.ContractVersion == 0 {
		cfg.ContractVersion = 1
	}
	cfg.RPC.applyDefaults()
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.AdminKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		if err := generateKeystore(keystorePath, cfg.AdminPassEnv); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.AdminKeystorePath != keystorePath {
		cfg.AdminKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

func generateKeystore(path, passEnv string) error {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if strings.TrimSpace(passEnv) == "" {
		passEnv = DefaultAdminPassEnv
	}
	return crypto.SaveToKeystore(path, key, os.Getenv(passEnv))
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	keystorePath := defaultKeystorePath(path)
	if err := generateKeystore(keystorePath, DefaultAdminPassEnv); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:        "127.0.0.1:8080",
		MetricsAddress:    "127.0.0.1:9090",
		DataDir:           "./lend-data",
		AdminKeystorePath: keystorePath,
		AdminPassEnv:      DefaultAdminPassEnv,
		NetworkName:       "lend-local",
		ContractVersion:   1,
		Logging:           Logging{Env: "local"},
	}
	cfg.RPC.applyDefaults()

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "admin.keystore")
}

// RegistryDir returns the directory holding the named registry's database.
func (cfg *Config) RegistryDir(name string) string {
	return filepath.Join(cfg.DataDir, name)
}
