package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/sqweek/dialog"

	"github.com/cbegin/patchplay-go/internal/config"
)

// parseFlags loads the config file and applies any flags the user set on
// top of it.
func parseFlags(fs *pflag.FlagSet, args []string, opts *options) (*config.Config, error) {
	var (
		mapFile      string
		octaveOffset int
		tempoScope   string
		tickMillis   int
		output       string
		midiPort     string
		volume       float64
		reverb       float64
		sampleRate   int
		logLevel     string
	)
	fs.StringVarP(&opts.configPath, "config", "c", "", "config file (default $XDG_CONFIG_HOME/patchplay/config.json)")
	fs.StringVarP(&mapFile, "map", "m", "", "instrument map file (default: bundled map)")
	fs.IntVar(&octaveOffset, "octave-offset", 1, "value subtracted from key/12 to get the octave")
	fs.StringVar(&tempoScope, "tempo-scope", "track", "tempo events apply per track or are shared: track|shared")
	fs.IntVar(&tickMillis, "tick", 50, "scheduler tick interval in milliseconds")
	fs.StringVarP(&output, "output", "o", "audio", "sound output: audio|midi")
	fs.StringVar(&midiPort, "midi-port", "", "MIDI output port name (default: first port)")
	fs.Float64Var(&volume, "volume", 1, "master volume scalar")
	fs.Float64Var(&reverb, "reverb", 0, "reverb wet mix for audio output, 0..1")
	fs.IntVar(&sampleRate, "sample-rate", 48000, "audio sample rate")
	fs.StringVar(&logLevel, "log-level", "info", "log level: debug|info|warn|error")
	fs.StringVar(&opts.wavPath, "wav", "", "render to this WAV file instead of playing")
	fs.BoolVar(&opts.dump, "dump", false, "print the decoded note frames and exit")
	fs.BoolVar(&opts.showTUI, "tui", false, "show a progress view while playing")
	fs.BoolVar(&opts.listPorts, "list-ports", false, "list MIDI output ports and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if fs.Changed("map") {
		cfg.MapFile = mapFile
	}
	if fs.Changed("octave-offset") {
		cfg.OctaveOffset = &octaveOffset
	}
	if fs.Changed("tempo-scope") {
		cfg.TempoScope = strings.ToLower(tempoScope)
	}
	if fs.Changed("tick") {
		cfg.TickInterval = tickMillis
	}
	if fs.Changed("output") {
		cfg.Output = config.Output(strings.ToLower(output))
	}
	if fs.Changed("midi-port") {
		cfg.MIDIPort = midiPort
	}
	if fs.Changed("volume") {
		cfg.MasterVolume = &volume
	}
	if fs.Changed("reverb") {
		cfg.Reverb = reverb
	}
	if fs.Changed("sample-rate") {
		cfg.SampleRate = sampleRate
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// choosePath returns the MIDI file from the arguments, or asks for one with
// a native file dialog.
func choosePath(cwd string, args []string) (string, error) {
	if len(args) > 0 {
		absPath, err := filepath.Abs(args[0])
		if err != nil {
			return "", fmt.Errorf("cannot get absolute path: %w", err)
		}
		if err := validatePath(absPath); err != nil {
			return "", fmt.Errorf("passed argument is not a valid path: %w", err)
		}
		return absPath, nil
	}

	path, err := dialog.
		File().
		Title("Open MIDI file").
		Filter("MIDI files (*.mid, *.midi)", "mid", "midi").
		SetStartDir(cwd).
		Load()
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", dialog.ErrCancelled
	}
	if err := validatePath(path); err != nil {
		return "", fmt.Errorf("dialog selection invalid: %w", err)
	}
	return path, nil
}

func validatePath(p string) error {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".mid", ".midi", ".smf":
	default:
		return fmt.Errorf("file must have a .mid or .midi extension")
	}
	if _, err := os.Stat(p); err != nil {
		return fmt.Errorf("cannot stat file: %w", err)
	}
	return nil
}
