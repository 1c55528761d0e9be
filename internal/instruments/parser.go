package instruments

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
)

const (
	commentMarker = "#"
	// maxLineLength caps one mapping line; longer lines are rejected whole.
	maxLineLength = 64 * 1024
)

var (
	// ErrInvalidLine marks a line that does not follow the mapping grammar.
	ErrInvalidLine = errors.New("invalid instrument mapping line")
	// ErrDuplicateEntry marks a line whose octaves are already mapped in its bucket.
	ErrDuplicateEntry = errors.New("duplicate instrument entry")
	// ErrNoDefault is returned when the input declares no default ("D") entry.
	ErrNoDefault = errors.New("no default instrument")
	// ErrNoInstruments is returned when the input declares no id-specific entry.
	ErrNoInstruments = errors.New("no instruments defined")
)

// LineError describes one rejected line. The rest of the input is still parsed.
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v: %q", e.Line, e.Err, e.Text)
}

func (e *LineError) Unwrap() error { return e.Err }

// ParseResult is the outcome of a parse. Map is nil when the input failed
// the whole-file checks.
type ParseResult struct {
	Map      *Map
	Accepted int
	Rejected []*LineError
}

type ParseOption func(*parseConfig)

type parseConfig struct {
	logger *log.Logger
}

// WithLogger routes rejected-line and structural diagnostics to logger.
func WithLogger(logger *log.Logger) ParseOption {
	return func(cfg *parseConfig) {
		cfg.logger = logger
	}
}

// line is one accepted mapping line before it is merged into a bucket.
type line struct {
	isDefault bool
	entry     Entry
	octaves   []OctaveRange
}

// Parse reads a mapping file and builds a new Map. Malformed and duplicate
// lines are logged and skipped. The returned error is non-nil when the
// reader fails or when the finished map lacks a default or an id bucket; in
// that case result.Map is nil but result.Rejected is still filled in.
func Parse(r io.Reader, opts ...ParseOption) (*ParseResult, error) {
	cfg := parseConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = log.Default()
	}

	defaults := bucket{}
	perID := map[int]bucket{}
	result := &ParseResult{}

	br := bufio.NewReader(r)
	lineNumber := 0
	for {
		raw, tooLong, err := readLine(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Error("error reading instrument map", "err", err)
			return result, fmt.Errorf("read instrument map: %w", err)
		}
		lineNumber++
		if tooLong {
			le := &LineError{Line: lineNumber, Text: raw, Err: fmt.Errorf("%w: longer than %d bytes", ErrInvalidLine, maxLineLength)}
			result.Rejected = append(result.Rejected, le)
			logger.Warn("rejected mapping line", "line", lineNumber, "err", le.Err)
			continue
		}
		text := strings.TrimSpace(strings.ReplaceAll(raw, "\t", " "))
		if text == "" || strings.HasPrefix(text, commentMarker) {
			continue
		}

		reject := func(err error) {
			le := &LineError{Line: lineNumber, Text: raw, Err: err}
			result.Rejected = append(result.Rejected, le)
			logger.Warn("rejected mapping line", "line", lineNumber, "text", raw, "err", err)
		}

		ln, err := parseLine(text)
		if err != nil {
			reject(err)
			continue
		}

		target := defaults
		if !ln.isDefault {
			target = perID[ln.entry.ID]
		}
		if target.overlapsAny(ln.octaves) {
			reject(fmt.Errorf("%w: octaves %s", ErrDuplicateEntry, joinRanges(ln.octaves)))
			continue
		}
		if target == nil {
			target = bucket{}
			perID[ln.entry.ID] = target
		}
		for _, rng := range ln.octaves {
			for _, o := range rng.Octaves() {
				target[Single(o)] = ln.entry
			}
		}
		result.Accepted++
	}
	if len(defaults) == 0 {
		logger.Error("instrument map rejected", "err", ErrNoDefault)
		return result, ErrNoDefault
	}
	if len(perID) == 0 {
		logger.Error("instrument map rejected", "err", ErrNoInstruments)
		return result, ErrNoInstruments
	}

	result.Map = &Map{perID: perID, defaults: defaults}
	return result, nil
}

// readLine returns the next line without its terminator and whether it ran
// past maxLineLength, in which case the excess is dropped. io.EOF is returned
// only when no line is left.
func readLine(br *bufio.Reader) (string, bool, error) {
	var buf []byte
	tooLong := false
	for {
		frag, isPrefix, err := br.ReadLine()
		if err != nil {
			if err == io.EOF && (len(buf) > 0 || tooLong) {
				return string(buf), tooLong, nil
			}
			return string(buf), tooLong, err
		}
		if !tooLong {
			buf = append(buf, frag...)
			if len(buf) > maxLineLength {
				buf = buf[:maxLineLength]
				tooLong = true
			}
		}
		if !isPrefix {
			return string(buf), tooLong, nil
		}
	}
}

// parseLine tokenizes one non-comment line: <id|D> <patch> <volume%> <octaves...>.
func parseLine(text string) (line, error) {
	if before, _, found := strings.Cut(text, commentMarker); found {
		text = before
	}
	parts := strings.Fields(text)
	if len(parts) < 4 {
		return line{}, fmt.Errorf("%w: expected at least 4 fields, got %d", ErrInvalidLine, len(parts))
	}

	var ln line
	id, err := strconv.Atoi(parts[0])
	switch {
	case err == nil:
		ln.entry.ID = id
	case strings.EqualFold(parts[0], "D"):
		ln.isDefault = true
		ln.entry.ID = DefaultID
	default:
		return line{}, fmt.Errorf("%w: bad instrument id %q", ErrInvalidLine, parts[0])
	}

	ln.entry.Patch = parts[1]
	if ln.entry.Patch == "" {
		return line{}, fmt.Errorf("%w: empty patch", ErrInvalidLine)
	}

	volume, err := parseVolume(parts[2])
	if err != nil {
		return line{}, err
	}
	ln.entry.Volume = volume

	ln.octaves = make([]OctaveRange, 0, len(parts)-3)
	for _, tok := range parts[3:] {
		r, err := parseOctaveRange(tok)
		if err != nil {
			return line{}, err
		}
		ln.octaves = append(ln.octaves, r)
	}
	return ln, nil
}

func parseVolume(s string) (float64, error) {
	digits, ok := strings.CutSuffix(s, "%")
	if !ok {
		return 0, fmt.Errorf("%w: volume %q must end in %%", ErrInvalidLine, s)
	}
	pct, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("%w: volume %q is not an integer percentage", ErrInvalidLine, s)
	}
	if pct < 0 || pct > 100 {
		return 0, fmt.Errorf("%w: volume %d%% out of range 0..100", ErrInvalidLine, pct)
	}
	return float64(pct) / 100.0, nil
}

// parseOctaveRange accepts "N" or "A-B". A bare negative number ("-1") is a
// single octave.
func parseOctaveRange(s string) (OctaveRange, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return checkOctaves(Single(n), s)
	}
	elements := strings.Split(s, "-")
	if len(elements) != 2 {
		return OctaveRange{}, fmt.Errorf("%w: bad octave range %q", ErrInvalidLine, s)
	}
	from, err := strconv.Atoi(elements[0])
	if err != nil {
		return OctaveRange{}, fmt.Errorf("%w: bad octave range %q", ErrInvalidLine, s)
	}
	to, err := strconv.Atoi(elements[1])
	if err != nil {
		return OctaveRange{}, fmt.Errorf("%w: bad octave range %q", ErrInvalidLine, s)
	}
	if from > to {
		return OctaveRange{}, fmt.Errorf("%w: octave range %q is reversed", ErrInvalidLine, s)
	}
	return checkOctaves(OctaveRange{From: from, To: to}, s)
}

func checkOctaves(r OctaveRange, s string) (OctaveRange, error) {
	if r.From < MinOctave || r.To > MaxOctave {
		return OctaveRange{}, fmt.Errorf("%w: octaves %q outside %d..%d", ErrInvalidLine, s, MinOctave, MaxOctave)
	}
	return r, nil
}

func joinRanges(ranges []OctaveRange) string {
	parts := make([]string, len(ranges))
	for i, r := range ranges {
		parts[i] = r.String()
	}
	return strings.Join(parts, " ")
}
