package config

import (
	"github.com/BurntSushi/toml"

	"github.com/Ademan/pgtx/pkg/client"
)

type Config struct {
	DSN            string  `toml:"dsn"`             // Connection string, overridden by POSTGRES_DSN.
	IsolationLevel string  `toml:"isolation-level"` // Default transaction isolation, empty keeps the server default.
	BatchSize      int     `toml:"batch-size"`      // FETCH batch for named cursors.
	Records        bool    `toml:"records"`         // Enable record row adaptation.
	Journal        Journal `toml:"journal"`         // Resolution journal options.
}

type Journal struct {
	Path string `toml:"path"` // File to persist resolutions in, empty disables the journal.
	Key  string `toml:"key"`  // Encryption passphrase.
}

var DefaultConf = Config{
	BatchSize: client.DefaultBatchSize,
	Records:   true,
}

// Load reads a TOML file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	conf := DefaultConf
	if path == "" {
		return conf, nil
	}
	if _, err := toml.DecodeFile(path, &conf); err != nil {
		return Config{}, err
	}
	return conf, nil
}
