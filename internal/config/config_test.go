package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Offset() != 1 || cfg.Tick() != 50*time.Millisecond || cfg.Output != OutputAudio || cfg.Volume() != 1 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"mapFile": "songs.map", "octaveOffset": 0, "masterVolume": 0, "output": "midi", "logLevel": "debug"}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.MapFile != "songs.map" || cfg.Output != OutputMIDI {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Offset() != 0 {
		t.Fatalf("explicit zero offset lost, got %d", cfg.Offset())
	}
	if cfg.Volume() != 0 {
		t.Fatalf("explicit zero volume lost, got %v", cfg.Volume())
	}
	if cfg.SampleRate != 48000 || cfg.TempoScope != "track" {
		t.Fatalf("defaults not kept: %+v", cfg)
	}
	if cfg.Level() != log.DebugLevel {
		t.Fatalf("level = %v", cfg.Level())
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"scope":  `{"tempoScope": "global"}`,
		"output": `{"output": "speaker"}`,
		"level":  `{"logLevel": "loud"}`,
		"tick":   `{"tickInterval": -5}`,
		"reverb": `{"reverb": 1.5}`,
		"volume": `{"masterVolume": -1}`,
	} {
		path := filepath.Join(dir, name+".json")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := Load(path); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.MIDIPort = "IAC"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.MIDIPort != "IAC" || got.Offset() != 1 {
		t.Fatalf("round trip lost values: %+v", got)
	}
}
