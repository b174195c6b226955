// Package stat implements the typed statistic model: five variable
// kinds with per-kind validation, raw-value buffering, balancing of
// declared entries, and reduction to one value (or one value per
// entry) per logical variable per file.
package stat

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind enumerates the closed set of statistic variants. Every
// per-kind behavior lives in one of the dispatch methods (SetContent,
// Balance, Reduce) so a new kind cannot be added without the compiler
// pointing at every switch that must learn about it.
type Kind int

const (
	Scalar Kind = iota
	Configuration
	Vector
	Distribution
	Histogram
)

// ParseKind resolves a case-insensitive type name to its Kind.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "scalar":
		return Scalar, nil
	case "configuration":
		return Configuration, nil
	case "vector":
		return Vector, nil
	case "distribution":
		return Distribution, nil
	case "histogram":
		return Histogram, nil
	default:
		return 0, fmt.Errorf("stat: unrecognized type name %q", name)
	}
}

func (k Kind) String() string {
	switch k {
	case Scalar:
		return "Scalar"
	case Configuration:
		return "Configuration"
	case Vector:
		return "Vector"
	case Distribution:
		return "Distribution"
	case Histogram:
		return "Histogram"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// HasEntries reports whether the kind carries named sub-keys.
func (k Kind) HasEntries() bool {
	return k == Vector || k == Distribution || k == Histogram
}

// Standard summary statistics accepted on any entry-bearing variable
// even when not declared, matching what simulators report alongside
// buckets.
var standardStatistics = map[string]bool{
	"total":   true,
	"mean":    true,
	"samples": true,
	"stdev":   true,
	"gmean":   true,
}

// IsStandardStatistic reports whether key is one of the summary
// statistics accepted without declaration.
func IsStandardStatistic(key string) bool {
	return standardStatistics[key]
}

// Stat is the runtime holder for one variable in one file: it buffers
// raw occurrences, then Balance and Reduce finalize it. A Stat is
// created per work unit and discarded with it; it is not safe for
// concurrent use.
type Stat struct {
	Name string
	Kind Kind

	// Entries are the declared sub-keys (Vector and Histogram).
	// Distribution derives its keys from Minimum/Maximum.
	Entries []string

	// Minimum and Maximum bound a Distribution's numeric buckets.
	Minimum int
	Maximum int

	// Bins and MaxRange enable Histogram rebinning when both are
	// positive.
	Bins     int
	MaxRange float64

	// Statistics lists named summary statistics reported alongside
	// buckets.
	Statistics []string

	// StatisticsOnly disables bucket-shape validation and accepts
	// content built purely from named statistics.
	StatisticsOnly bool

	// OnEmpty is substituted for a Configuration that never received
	// a raw value.
	OnEmpty string

	raw        string
	hasRaw     bool
	content    map[string][]float64
	discovered []string // content keys in first-seen order, beyond declared entries
	reduced    map[string]float64
	balanced   bool
	reducedOK  bool
}

// SetValue assigns the single raw value of a Scalar or Configuration.
// Later values overwrite earlier ones; the last occurrence in a file
// wins.
func (s *Stat) SetValue(raw string) error {
	if s.Kind.HasEntries() {
		return fmt.Errorf("stat: %s %q: plain value assigned to entry-bearing variable", s.Kind, s.Name)
	}
	s.raw = strings.TrimSpace(raw)
	s.hasRaw = true
	return nil
}

// Value returns the finalized raw value of a Scalar or Configuration.
func (s *Stat) Value() string {
	return s.raw
}

// Reduced returns the per-entry reduced values. Valid only after
// Balance and Reduce have run.
func (s *Stat) Reduced() map[string]float64 {
	return s.reduced
}

// ReducedAt returns the reduced value for one entry and whether the
// entry exists.
func (s *Stat) ReducedAt(entry string) (float64, bool) {
	v, ok := s.reduced[entry]
	return v, ok
}

// Finalized reports whether both Balance and Reduce have completed.
func (s *Stat) Finalized() bool {
	if s.Kind.HasEntries() {
		return s.balanced && s.reducedOK
	}
	return s.balanced
}

func (s *Stat) ensureContent() {
	if s.content == nil {
		s.content = make(map[string][]float64)
	}
}

func (s *Stat) declared(key string) bool {
	for _, e := range s.Entries {
		if e == key {
			return true
		}
	}
	return false
}

func (s *Stat) noteDiscovered(key string) {
	if s.declared(key) {
		return
	}
	for _, d := range s.discovered {
		if d == key {
			return
		}
	}
	s.discovered = append(s.discovered, key)
}

func parseNumeric(name, key, raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("stat: %s: entry %q: value %q is not numeric", name, key, raw)
	}
	return v, nil
}

// missing is the explicit sentinel for a declared-but-unreported
// entry. It survives reduction and renders as the literal "NaN" in
// the final CSV.
func missing() float64 { return math.NaN() }

func mean(values []float64) float64 {
	if len(values) == 0 {
		return missing()
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// FormatValue renders one reduced value the way the final CSV expects
// it: shortest round-trip representation, NaN as the literal "NaN".
func FormatValue(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
