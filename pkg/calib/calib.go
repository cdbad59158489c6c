// Package calib holds the frequency dependent calibration tables: the
// ADC code to output power conversion and the attenuator base gain.
package calib

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ErrEmptyTable is returned when looking up a frequency in an empty table.
var ErrEmptyTable = errors.New("calib: table is empty")

// PowerFunc converts a raw ADC code to output power in watts.
type PowerFunc func(code float64) float64

// PowerPoint is one entry of a power table: an expression in x (the raw ADC
// code) valid around the given frequency.
type PowerPoint struct {
	GHz  float64 `yaml:"ghz"`
	Expr string  `yaml:"expr"`
}

// GainPoint is the amplifier gain with no attenuation at a frequency.
type GainPoint struct {
	GHz float64 `yaml:"ghz"`
	DB  float64 `yaml:"db"`
}

type powerEntry struct {
	ghz  float64
	src  string
	prog *vm.Program
}

// PowerTable maps frequencies to code to power conversions.
type PowerTable struct {
	entries []powerEntry
}

// NewPowerTable compiles the expressions of points.
func NewPowerTable(points []PowerPoint) (*PowerTable, error) {
	t := &PowerTable{}
	for _, p := range points {
		if err := t.add(p.GHz, p.Expr); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// ParsePowerTable reads lines of "<GHz> <expression in x>". Decimal commas
// are accepted in the frequency. Blank lines and lines starting with # are
// skipped.
func ParsePowerTable(r io.Reader) (*PowerTable, error) {
	t := &PowerTable{}
	err := scanLines(r, func(n int, key, rest string) error {
		ghz, err := parseDecimal(key)
		if err != nil {
			return fmt.Errorf("line %d: frequency: %w", n, err)
		}
		if err := t.add(ghz, rest); err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (t *PowerTable) add(ghz float64, src string) error {
	prog, err := expr.Compile(src, expr.Env(map[string]any{"x": 0.0}), expr.AsFloat64())
	if err != nil {
		return fmt.Errorf("calib: compile %q: %w", src, err)
	}
	e := powerEntry{ghz: ghz, src: src, prog: prog}
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].ghz >= ghz })
	if i < len(t.entries) && t.entries[i].ghz == ghz {
		t.entries[i] = e
		return nil
	}
	t.entries = append(t.entries, powerEntry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = e
	return nil
}

// Len returns the number of frequencies in the table.
func (t *PowerTable) Len() int { return len(t.entries) }

// Closest returns the conversion defined for the frequency nearest to ghz.
func (t *PowerTable) Closest(ghz float64) (PowerFunc, error) {
	if len(t.entries) == 0 {
		return nil, ErrEmptyTable
	}
	best := t.entries[0]
	for _, e := range t.entries[1:] {
		if math.Abs(e.ghz-ghz) < math.Abs(best.ghz-ghz) {
			best = e
		}
	}
	return func(code float64) float64 {
		out, err := expr.Run(best.prog, map[string]any{"x": code})
		if err != nil {
			return math.NaN()
		}
		v, _ := out.(float64)
		return v
	}, nil
}

// GainTable maps frequencies to the amplifier gain at zero attenuation.
type GainTable struct {
	points []GainPoint
}

// NewGainTable creates a table from points.
func NewGainTable(points []GainPoint) *GainTable {
	t := &GainTable{points: append([]GainPoint(nil), points...)}
	sort.SliceStable(t.points, func(i, j int) bool { return t.points[i].GHz < t.points[j].GHz })
	return t
}

// ParseGainTable reads lines of "<GHz> <dB>" separated by spaces or tabs.
// Decimal commas are accepted.
func ParseGainTable(r io.Reader) (*GainTable, error) {
	var points []GainPoint
	err := scanLines(r, func(n int, key, rest string) error {
		ghz, err := parseDecimal(key)
		if err != nil {
			return fmt.Errorf("line %d: frequency: %w", n, err)
		}
		db, err := parseDecimal(rest)
		if err != nil {
			return fmt.Errorf("line %d: gain: %w", n, err)
		}
		points = append(points, GainPoint{GHz: ghz, DB: db})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewGainTable(points), nil
}

// Len returns the number of frequencies in the table.
func (t *GainTable) Len() int { return len(t.points) }

// Closest returns the gain defined for the frequency nearest to ghz.
func (t *GainTable) Closest(ghz float64) (float64, error) {
	if len(t.points) == 0 {
		return 0, ErrEmptyTable
	}
	best := t.points[0]
	for _, p := range t.points[1:] {
		if math.Abs(p.GHz-ghz) < math.Abs(best.GHz-ghz) {
			best = p
		}
	}
	return best.DB, nil
}

// LoadPowerTable reads a power table file.
func LoadPowerTable(filename string) (*PowerTable, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open power table: %w", err)
	}
	defer f.Close()
	return ParsePowerTable(f)
}

// LoadGainTable reads a gain table file.
func LoadGainTable(filename string) (*GainTable, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open gain table: %w", err)
	}
	defer f.Close()
	return ParseGainTable(f)
}

func scanLines(r io.Reader, fn func(n int, key, rest string) error) error {
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.IndexAny(line, " \t")
		if i <= 0 {
			return fmt.Errorf("calib: line %d: expected two columns", n)
		}
		if err := fn(n, line[:i], strings.TrimSpace(line[i+1:])); err != nil {
			return fmt.Errorf("calib: %w", err)
		}
	}
	return sc.Err()
}

func parseDecimal(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
}
