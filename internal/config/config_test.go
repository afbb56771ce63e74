package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeDefaults(t *testing.T) {
	var cfg Config
	cfg.Normalize()

	if cfg.Parser.ChunkSize != defaultChunkSize {
		t.Errorf("chunk_size = %d", cfg.Parser.ChunkSize)
	}
	if cfg.Parser.DecodePolicy != "replace" {
		t.Errorf("decode_policy = %q", cfg.Parser.DecodePolicy)
	}
	if cfg.Parser.MaxContentBytes != 50<<20 {
		t.Errorf("max_content_bytes = %d", cfg.Parser.MaxContentBytes)
	}
	if cfg.Parser.WarnContentBytes != 10<<20 {
		t.Errorf("warn_content_bytes = %d", cfg.Parser.WarnContentBytes)
	}
	if cfg.Parser.MaxStoredEvents != defaultMaxStoredEvents {
		t.Errorf("max_stored_events = %d", cfg.Parser.MaxStoredEvents)
	}
	if cfg.Expand.WindowDays != defaultWindowDays || cfg.Expand.MaxOccurrences != defaultMaxOccurrences {
		t.Errorf("expand = %+v", cfg.Expand)
	}
	if cfg.FollowPattern == "" {
		t.Error("follow pattern default missing")
	}
}

func TestNormalizeInvalidValues(t *testing.T) {
	cfg := Config{}
	cfg.Parser.DecodePolicy = "lenient"
	cfg.Parser.WarnContentBytes = 100 << 20 // above the hard limit
	cfg.Normalize()

	if cfg.Parser.DecodePolicy != "replace" {
		t.Errorf("decode_policy = %q", cfg.Parser.DecodePolicy)
	}
	if cfg.Parser.WarnContentBytes > cfg.Parser.MaxContentBytes {
		t.Errorf("warn threshold %d above hard limit %d",
			cfg.Parser.WarnContentBytes, cfg.Parser.MaxContentBytes)
	}
}

func TestNormalizeAssignsSourceIDs(t *testing.T) {
	cfg := Config{ICS: []ICSConfig{
		{URL: "https://example.com/a.ics"},
		{URL: "https://example.com/b.ics", ID: "keep-me"},
	}}
	cfg.Normalize()

	if cfg.ICS[0].ID == "" {
		t.Error("missing id not assigned")
	}
	if cfg.ICS[1].ID != "keep-me" {
		t.Errorf("explicit id overwritten: %q", cfg.ICS[1].ID)
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if cfg.Parser.MaxStoredEvents != defaultMaxStoredEvents {
		t.Errorf("defaults not applied: %+v", cfg.Parser)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}

	// Second load reads the file back.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if again.Parser.MaxContentBytes != cfg.Parser.MaxContentBytes {
		t.Errorf("roundtrip mismatch: %d != %d",
			again.Parser.MaxContentBytes, cfg.Parser.MaxContentBytes)
	}
}

func TestSaveRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.UserEmail = "me@example.com"
	cfg.Parser.MaxStoredEvents = 42
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 0600", perm)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.UserEmail != "me@example.com" || loaded.Parser.MaxStoredEvents != 42 {
		t.Errorf("roundtrip: %+v", loaded)
	}
}
