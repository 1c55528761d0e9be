package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Output selects where emitted sounds go.
type Output string

const (
	OutputAudio Output = "audio"
	OutputMIDI  Output = "midi"
)

var ErrInvalid = errors.New("invalid config")

// Config is the on-disk CLI configuration. Zero fields mean "use the default".
type Config struct {
	MapFile      string   `json:"mapFile,omitempty"`
	OctaveOffset *int     `json:"octaveOffset,omitempty"`
	TempoScope   string   `json:"tempoScope,omitempty"`   // "track" or "shared"
	TickInterval int      `json:"tickInterval,omitempty"` // milliseconds
	SampleRate   int      `json:"sampleRate,omitempty"`
	Output       Output   `json:"output,omitempty"`
	MIDIPort     string   `json:"midiPort,omitempty"`
	LogLevel     string   `json:"logLevel,omitempty"`
	MasterVolume *float64 `json:"masterVolume,omitempty"`
	Reverb       float64  `json:"reverb,omitempty"` // wet mix for the audio output
}

// Default returns a config with every field set.
func Default() *Config {
	offset, volume := 1, 1.0
	return &Config{
		OctaveOffset: &offset,
		TempoScope:   "track",
		TickInterval: 50,
		SampleRate:   48000,
		Output:       OutputAudio,
		LogLevel:     "info",
		MasterVolume: &volume,
	}
}

// Dir returns the directory holding config.json.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "patchplay"), nil
}

func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads path, or the default location when path is empty. A missing
// file yields the defaults. Fields absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return Default(), nil
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}

	var file Config
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg := Default()
	cfg.merge(&file)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) merge(o *Config) {
	if o.MapFile != "" {
		c.MapFile = o.MapFile
	}
	if o.OctaveOffset != nil {
		v := *o.OctaveOffset
		c.OctaveOffset = &v
	}
	if o.TempoScope != "" {
		c.TempoScope = o.TempoScope
	}
	if o.TickInterval != 0 {
		c.TickInterval = o.TickInterval
	}
	if o.SampleRate != 0 {
		c.SampleRate = o.SampleRate
	}
	if o.Output != "" {
		c.Output = o.Output
	}
	if o.MIDIPort != "" {
		c.MIDIPort = o.MIDIPort
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.MasterVolume != nil {
		v := *o.MasterVolume
		c.MasterVolume = &v
	}
	if o.Reverb != 0 {
		c.Reverb = o.Reverb
	}
}

func (c *Config) Validate() error {
	switch c.TempoScope {
	case "track", "shared":
	default:
		return fmt.Errorf("%w: tempoScope %q", ErrInvalid, c.TempoScope)
	}
	switch c.Output {
	case OutputAudio, OutputMIDI:
	default:
		return fmt.Errorf("%w: output %q", ErrInvalid, c.Output)
	}
	if c.TickInterval < 0 {
		return fmt.Errorf("%w: tickInterval %d", ErrInvalid, c.TickInterval)
	}
	if c.SampleRate < 0 {
		return fmt.Errorf("%w: sampleRate %d", ErrInvalid, c.SampleRate)
	}
	if c.Volume() < 0 {
		return fmt.Errorf("%w: masterVolume %v", ErrInvalid, c.Volume())
	}
	if c.Reverb < 0 || c.Reverb > 1 {
		return fmt.Errorf("%w: reverb %v", ErrInvalid, c.Reverb)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: logLevel %q", ErrInvalid, c.LogLevel)
	}
	return nil
}

func (c *Config) Offset() int {
	if c.OctaveOffset == nil {
		return 1
	}
	return *c.OctaveOffset
}

// Volume returns the master volume, 1 when unset.
func (c *Config) Volume() float64 {
	if c.MasterVolume == nil {
		return 1
	}
	return *c.MasterVolume
}

func (c *Config) Tick() time.Duration {
	return time.Duration(c.TickInterval) * time.Millisecond
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() log.Level {
	lvl, err := log.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// Save writes the config as indented JSON, creating the directory.
func (c *Config) Save(path string) error {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
