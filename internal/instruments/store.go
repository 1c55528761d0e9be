package instruments

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

//go:embed default.map
var defaultMap []byte

// Store holds the process-wide instrument map. A load builds a complete new
// Map and swaps it in with a single atomic store; readers always see either
// the old or the new map, never a partial one.
type Store struct {
	current atomic.Pointer[Map]
	logger  *log.Logger
}

func NewStore(logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{logger: logger}
}

// Current returns the published map, or nil before the first successful load.
func (s *Store) Current() *Map {
	return s.current.Load()
}

// Publish replaces the current map. A nil map is ignored.
func (s *Store) Publish(m *Map) {
	if m == nil {
		return
	}
	s.current.Store(m)
}

// Resolve looks the octave up in the current snapshot.
func (s *Store) Resolve(id int, octave int) (Entry, bool) {
	return s.current.Load().Resolve(id, octave)
}

// Load parses r and publishes the result. On any error the previously
// published map stays in place.
func (s *Store) Load(r io.Reader) (*ParseResult, error) {
	result, err := Parse(r, WithLogger(s.logger))
	if err != nil {
		return result, err
	}
	s.Publish(result.Map)
	s.logger.Info("instrument map loaded",
		"lines", result.Accepted,
		"rejected", len(result.Rejected),
		"instruments", len(result.Map.perID),
	)
	return result, nil
}

func (s *Store) LoadFile(path string) (*ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		s.logger.Error("error reading instrument map", "path", path, "err", err)
		return nil, fmt.Errorf("read instrument map: %w", err)
	}
	defer f.Close()
	return s.Load(f)
}

// LoadDefault loads the map bundled with the binary.
func (s *Store) LoadDefault() (*ParseResult, error) {
	return s.Load(bytes.NewReader(defaultMap))
}

// DefaultMapText returns the bundled map source, e.g. to seed a user file.
func DefaultMapText() []byte {
	return bytes.Clone(defaultMap)
}
