package instruments

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func quietParse(t *testing.T, text string) (*ParseResult, error) {
	t.Helper()
	return Parse(strings.NewReader(text), WithLogger(log.New(io.Discard)))
}

func TestParseResolvesDefaultFallback(t *testing.T) {
	res, err := quietParse(t, "D sine 50% 0-10\n2 bell 100% 5\n")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	cases := []struct {
		id, octave int
		patch      string
		volume     float64
	}{
		{2, 5, "bell", 1.0},
		{2, 3, "sine", 0.5},
		{9, 5, "sine", 0.5},
	}
	for _, tc := range cases {
		e, ok := res.Map.Resolve(tc.id, tc.octave)
		if !ok {
			t.Fatalf("resolve(%d, %d) missed", tc.id, tc.octave)
		}
		if e.Patch != tc.patch || e.Volume != tc.volume {
			t.Fatalf("resolve(%d, %d) = %s@%v, want %s@%v", tc.id, tc.octave, e.Patch, e.Volume, tc.patch, tc.volume)
		}
	}
	if _, ok := res.Map.Resolve(2, 11); ok {
		t.Fatalf("octave 11 is outside every range and should miss")
	}
}

func TestParseExpandsOctaveRanges(t *testing.T) {
	res, err := quietParse(t, "D sine 10% 20\n1 piano 80% 1-3 5\n")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	for _, o := range []int{1, 2, 3, 5} {
		e, ok := res.Map.Resolve(1, o)
		if !ok || e.Patch != "piano" || e.Volume != 0.8 || e.ID != 1 {
			t.Fatalf("resolve(1, %d) = %+v, %v", o, e, ok)
		}
	}
	for _, o := range []int{0, 4, 6} {
		if _, ok := res.Map.Resolve(1, o); ok {
			t.Fatalf("octave %d should not resolve", o)
		}
	}
}

func TestParseRejectsOverlappingLineForSameID(t *testing.T) {
	res, err := quietParse(t, "D sine 50% 0\n1 piano 80% 1-3\n1 bell 60% 3-4\n2 bell 60% 3-4\n")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(res.Rejected) != 1 {
		t.Fatalf("expected 1 rejected line, got %d", len(res.Rejected))
	}
	if !errors.Is(res.Rejected[0], ErrDuplicateEntry) || res.Rejected[0].Line != 3 {
		t.Fatalf("unexpected rejection: %v", res.Rejected[0])
	}
	e, _ := res.Map.Resolve(1, 3)
	if e.Patch != "piano" {
		t.Fatalf("first line should win, got %q", e.Patch)
	}
	// The rejected line must not leak octave 4 into id 1.
	if _, ok := res.Map.Resolve(1, 4); ok {
		t.Fatalf("octave 4 of rejected line should not be mapped")
	}
	if e, _ := res.Map.Resolve(2, 4); e.Patch != "bell" {
		t.Fatalf("other ids keep their own buckets, got %q", e.Patch)
	}
}

func TestParseRejectsDuplicateDefault(t *testing.T) {
	res, err := quietParse(t, "D sine 50% 0-4\nd square 50% 4-6\n1 piano 80% 1\n")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(res.Rejected) != 1 || !errors.Is(res.Rejected[0], ErrDuplicateEntry) {
		t.Fatalf("expected one duplicate default, got %v", res.Rejected)
	}
	if _, ok := res.Map.Resolve(7, 6); ok {
		t.Fatalf("octave 6 came from the rejected default line")
	}
}

func TestParseRejectsMalformedLines(t *testing.T) {
	cases := []struct {
		name string
		line string
	}{
		{"too few tokens", "1 piano 80%"},
		{"bad id", "x piano 80% 1"},
		{"missing percent", "1 piano 80 1"},
		{"bad percent", "1 piano ab% 1"},
		{"volume out of range", "1 piano 150% 1"},
		{"bad octave", "1 piano 80% one"},
		{"bad range", "1 piano 80% 1-2-3"},
		{"reversed range", "1 piano 80% 5-2"},
		{"comment truncates fields", "1 piano 80%# 1 2"},
		{"unbounded range", "1 piano 80% 0-9223372036854775807"},
		{"huge range", "1 piano 80% 0-300000000"},
		{"octave below window", "1 piano 80% -33"},
		{"range above window", "1 piano 80% 30-33"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := quietParse(t, "D sine 50% 0\n2 bell 50% 0\n"+tc.line+"\n")
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if len(res.Rejected) != 1 {
				t.Fatalf("expected line to be rejected, got %d rejections", len(res.Rejected))
			}
			if !errors.Is(res.Rejected[0], ErrInvalidLine) {
				t.Fatalf("expected ErrInvalidLine, got %v", res.Rejected[0])
			}
			if res.Accepted != 2 {
				t.Fatalf("expected 2 accepted lines, got %d", res.Accepted)
			}
		})
	}
}

func TestParseSkipsCommentsAndTabs(t *testing.T) {
	text := "# header\n\n   # indented comment\nD\tsine\t50%\t0-2 # trailing\n3 bell 25% -1\n"
	res, err := quietParse(t, text)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(res.Rejected) != 0 {
		t.Fatalf("unexpected rejections: %v", res.Rejected)
	}
	if e, ok := res.Map.Resolve(3, -1); !ok || e.Volume != 0.25 {
		t.Fatalf("negative octave should resolve, got %+v %v", e, ok)
	}
	if e, ok := res.Map.Resolve(3, 2); !ok || !e.IsDefault() {
		t.Fatalf("expected default entry, got %+v %v", e, ok)
	}
}

func TestParseStructuralFailures(t *testing.T) {
	cases := []struct {
		name string
		text string
		want error
	}{
		{"only defaults", "D sine 50% 0-10\n", ErrNoInstruments},
		{"only instruments", "1 piano 50% 0-10\n", ErrNoDefault},
		{"empty", "", ErrNoDefault},
		{"all rejected", "D sine 50%\n1 piano 50%\n", ErrNoDefault},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := quietParse(t, tc.text)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if res == nil || res.Map != nil {
				t.Fatalf("failed parse must not produce a map")
			}
		})
	}
}

func TestOctaveRangeOverlaps(t *testing.T) {
	a := OctaveRange{From: 1, To: 3}
	if !a.Overlaps(OctaveRange{From: 3, To: 5}) {
		t.Fatalf("1-3 and 3-5 share octave 3")
	}
	if a.Overlaps(OctaveRange{From: 4, To: 5}) {
		t.Fatalf("1-3 and 4-5 are disjoint")
	}
	if got := a.Octaves(); len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("unexpected octaves %v", got)
	}
	if a.String() != "1-3" || Single(4).String() != "4" {
		t.Fatalf("unexpected string forms %s %s", a, Single(4))
	}
}

func TestParseRejectsOversizedLine(t *testing.T) {
	long := "1 piano 80% " + strings.Repeat("1 ", maxLineLength)
	res, err := quietParse(t, "D sine 50% 0-10\n"+long+"\n2 bell 100% 5\n")
	if err != nil {
		t.Fatalf("oversized line should not abort the load: %v", err)
	}
	if len(res.Rejected) != 1 || res.Rejected[0].Line != 2 || !errors.Is(res.Rejected[0], ErrInvalidLine) {
		t.Fatalf("expected line 2 rejected as invalid, got %v", res.Rejected)
	}
	if e, ok := res.Map.Resolve(2, 5); !ok || e.Patch != "bell" {
		t.Fatalf("line after the oversized one was lost: %+v %v", e, ok)
	}
}

func TestParseAcceptsOctaveWindowEdges(t *testing.T) {
	res, err := quietParse(t, "D sine 50% 0-32\n1 piano 80% -32 32\n")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(res.Rejected) != 0 {
		t.Fatalf("unexpected rejections: %v", res.Rejected)
	}
	if e, ok := res.Map.Resolve(1, MaxOctave); !ok || e.Patch != "piano" {
		t.Fatalf("edge octave not mapped: %+v %v", e, ok)
	}
}
