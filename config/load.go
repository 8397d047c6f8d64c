package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/xerrors"
)

// EnvPrefix prefixes every environment override, e.g. STELLAR_GATEWAY_RPC_URL.
const EnvPrefix = "STELLAR_GATEWAY"

// FromFile loads config from path over the defaults. A missing file yields
// the defaults with environment overrides applied.
func FromFile(path string) (*Config, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
		return FromReader(bytes.NewReader(nil))
	case err != nil:
		return nil, err
	}

	defer file.Close() //nolint:errcheck // The file is RO
	return FromReader(file)
}

// FromReader loads config from a reader instance.
func FromReader(reader io.Reader) (*Config, error) {
	cfg := Default()
	if _, err := toml.NewDecoder(reader).Decode(cfg); err != nil {
		return nil, xerrors.Errorf("decoding config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, xerrors.Errorf("processing env vars overrides: %w", err)
	}

	return cfg, nil
}

// ConfigExist reports whether a config file is present at path.
func ConfigExist(path string) (bool, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// SaveConfig writes cfg as TOML to path, creating parent directories.
func SaveConfig(path string, cfg interface{}) error {
	path, err := homedir.Expand(path)
	if err != nil {
		return xerrors.Errorf("homedir expand error %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return xerrors.Errorf("make dir failed: %w", err)
	}

	buf := new(bytes.Buffer)
	_, _ = buf.WriteString("# Stellar gateway config:\n")
	if err := toml.NewEncoder(buf).Encode(cfg); err != nil {
		return xerrors.Errorf("encoding config: %w", err)
	}

	// The file may carry the signing seed.
	return os.WriteFile(path, buf.Bytes(), 0600)
}

// DefaultComment renders cfg as fully commented TOML, section headers left active.
func DefaultComment(cfg interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	_, _ = buf.WriteString("# Default config:\n")
	if err := toml.NewEncoder(buf).Encode(cfg); err != nil {
		return nil, xerrors.Errorf("encoding config: %w", err)
	}
	b := buf.Bytes()
	b = bytes.ReplaceAll(b, []byte("\n"), []byte("\n#"))
	b = bytes.ReplaceAll(b, []byte("#["), []byte("["))
	return b, nil
}
