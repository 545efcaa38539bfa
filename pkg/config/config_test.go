package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	conf, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if conf != DefaultConf {
		t.Errorf("Expected defaults, got %+v", conf)
	}
	if conf.BatchSize == 0 {
		t.Error("Expected a non-zero default batch size")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pgtx.toml")
	body := `
dsn = "postgres://app@db/test"
isolation-level = "serializable"
batch-size = 100

[journal]
path = "/var/lib/pgtx/resolutions.enc"
key = "hunter2"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	conf, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if conf.DSN != "postgres://app@db/test" {
		t.Errorf("Unexpected dsn %q", conf.DSN)
	}
	if conf.IsolationLevel != "serializable" {
		t.Errorf("Unexpected isolation level %q", conf.IsolationLevel)
	}
	if conf.BatchSize != 100 {
		t.Errorf("Unexpected batch size %d", conf.BatchSize)
	}
	if !conf.Records {
		t.Error("Expected the records default to survive a partial file")
	}
	if conf.Journal.Path != "/var/lib/pgtx/resolutions.enc" || conf.Journal.Key != "hunter2" {
		t.Errorf("Unexpected journal config %+v", conf.Journal)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("Expected an error for a missing file")
	}
}
