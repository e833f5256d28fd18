package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"lendchain/crypto"
)

// Bootstrap seeds a fresh node with borrower apps and authentication
// verdicts. Entries already present are skipped when it is applied.
type Bootstrap struct {
	Apps          []BootstrapApp `yaml:"apps"`
	Authenticated []string       `yaml:"authenticated"`
}

type BootstrapApp struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// ResolvedApp is a BootstrapApp with its identity parsed.
type ResolvedApp struct {
	ID   [20]byte
	Name string
}

// LoadBootstrap reads a YAML bootstrap manifest.
func LoadBootstrap(path string) (*Bootstrap, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var b Bootstrap
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("bootstrap %s: %w", path, err)
	}
	return &b, nil
}

// ResolveApps parses every app identity.
func (b *Bootstrap) ResolveApps() ([]ResolvedApp, error) {
	out := make([]ResolvedApp, 0, len(b.Apps))
	for i, app := range b.Apps {
		id, err := crypto.ParseIdentity(app.ID)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: apps[%d]: %w", i, err)
		}
		if strings.TrimSpace(app.Name) == "" {
			return nil, fmt.Errorf("bootstrap: apps[%d]: name must not be empty", i)
		}
		out = append(out, ResolvedApp{ID: id, Name: app.Name})
	}
	return out, nil
}

// ResolveAuthenticated parses every authenticated identity.
func (b *Bootstrap) ResolveAuthenticated() ([][20]byte, error) {
	out := make([][20]byte, 0, len(b.Authenticated))
	for i, value := range b.Authenticated {
		id, err := crypto.ParseIdentity(value)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: authenticated[%d]: %w", i, err)
		}
		out = append(out, id)
	}
	return out, nil
}
