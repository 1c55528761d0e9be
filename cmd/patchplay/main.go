package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/pflag"
	"github.com/sqweek/dialog"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/cbegin/patchplay-go"
	"github.com/cbegin/patchplay-go/internal/audio"
	"github.com/cbegin/patchplay-go/internal/clock"
	"github.com/cbegin/patchplay-go/internal/config"
	"github.com/cbegin/patchplay-go/internal/midiout"
	"github.com/cbegin/patchplay-go/internal/tui"
)

type options struct {
	configPath string
	wavPath    string
	dump       bool
	showTUI    bool
	listPorts  bool
}

func main() {
	var opts options
	cfg, err := parseFlags(pflag.CommandLine, os.Args[1:], &opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          "patchplay",
		Level:           cfg.Level(),
	})
	log.SetDefault(logger)

	if opts.listPorts {
		ports, err := midiout.Ports()
		if err != nil {
			logger.Fatal("list midi ports", "err", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		logger.Fatal("failed to get current working directory", "err", err)
	}
	path, err := choosePath(cwd, pflag.Args())
	if err != nil {
		if errors.Is(err, dialog.ErrCancelled) {
			logger.Info("user cancelled the file dialog")
			os.Exit(1)
		}
		logger.Fatal("failed to determine file path", "err", err)
	}

	if err := run(logger, cfg, opts, path); err != nil {
		logger.Fatal("playback failed", "err", err)
	}
}

func run(logger *log.Logger, cfg *config.Config, opts options, path string) error {
	// Offline rendering and dumps never touch an output device.
	var emitter patchplay.Emitter = patchplay.EmitterFunc(func(string, int, float64) {})
	var closeOutput func() error
	live := opts.wavPath == "" && !opts.dump
	if live {
		var err error
		emitter, closeOutput, err = openOutput(logger, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeOutput(); err != nil {
				logger.Warn("closing output", "err", err)
			}
		}()
	}

	ticker := clock.NewTicker(cfg.Tick())
	defer ticker.Close()

	tap := tui.NewTap(emitter)
	scope := patchplay.TempoPerTrack
	if cfg.TempoScope == "shared" {
		scope = patchplay.TempoShared
	}
	pl := patchplay.NewPlayer(tap,
		patchplay.WithLogger(logger),
		patchplay.WithClock(ticker),
		patchplay.WithOctaveOffset(cfg.Offset()),
		patchplay.WithTempoScope(scope),
		patchplay.WithMasterVolume(cfg.Volume()),
	)
	defer pl.Close()

	if err := pl.Dispatch(patchplay.Request{Kind: patchplay.RequestReload, Path: cfg.MapFile}); err != nil {
		return fmt.Errorf("load instrument map: %w", err)
	}

	track := pl.DecodeFile(path)
	if track.IsError() {
		return fmt.Errorf("decode %s: %w", path, track.Err())
	}
	logger.Info("decoded", "file", filepath.Base(path), "notes", track.Len(), "duration", track.Duration())

	if opts.dump {
		spew.Fdump(os.Stdout, track.Frames())
		return nil
	}
	if opts.wavPath != "" {
		wav, err := pl.RenderWAV(track, cfg.SampleRate, time.Second)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.wavPath, wav, 0o644); err != nil {
			return err
		}
		logger.Info("wrote wav", "file", opts.wavPath, "bytes", len(wav))
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	gt, err := pl.Play(track)
	if err != nil {
		return err
	}

	if opts.showTUI {
		model := tui.NewModel(filepath.Base(path), gt, tap, pl.Stop)
		if _, err := tea.NewProgram(model, tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return err
		}
		pl.Stop()
		if gt.Reason() == patchplay.FinishCompleted {
			ringOut()
		}
		return nil
	}

	select {
	case <-gt.Done():
		ringOut()
	case <-ctx.Done():
		logger.Info("interrupted")
		pl.Stop()
	}
	return nil
}

// ringOut lets the last notes decay before the output closes.
func ringOut() {
	time.Sleep(time.Duration(audio.DefaultMixerParams().DecaySec * float64(time.Second)))
}

// openOutput builds the emitter selected by the config.
func openOutput(logger *log.Logger, cfg *config.Config) (patchplay.Emitter, func() error, error) {
	switch cfg.Output {
	case config.OutputMIDI:
		out, err := midiout.Open(cfg.MIDIPort,
			midiout.WithLogger(logger),
			midiout.WithOctaveOffset(cfg.Offset()),
		)
		if err != nil {
			return nil, nil, err
		}
		return out, out.Close, nil
	default:
		params := audio.DefaultMixerParams()
		params.OctaveOffset = cfg.Offset()
		params.Reverb = cfg.Reverb
		mixer := audio.NewMixer(cfg.SampleRate, params)
		player, err := audio.NewPlayer(cfg.SampleRate, mixer)
		if err != nil {
			return nil, nil, err
		}
		player.Play()
		return mixer, player.Close, nil
	}
}
