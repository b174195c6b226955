package stat

import (
	"fmt"
	"sort"
	"strconv"
)

// Balance fills every declared-but-unreported entry with the missing
// sentinel, so a stat always carries the full entry set its
// configuration promises. For Scalar and Configuration it substitutes
// the default value when no raw value arrived.
func (s *Stat) Balance() error {
	switch s.Kind {
	case Scalar:
		if !s.hasRaw {
			s.raw = "0"
		}
		s.balanced = true
		return nil
	case Configuration:
		if !s.hasRaw {
			if s.OnEmpty != "" {
				s.raw = s.OnEmpty
			} else {
				s.raw = "None"
			}
		}
		s.balanced = true
		return nil
	case Vector, Distribution, Histogram:
		s.ensureContent()
		if s.Kind == Histogram && !s.StatisticsOnly && s.Bins > 0 && s.MaxRange > 0 {
			s.rebin()
		}
		for _, key := range s.declaredEntries() {
			if _, ok := s.content[key]; !ok {
				s.content[key] = []float64{missing()}
			}
		}
		s.balanced = true
		return nil
	default:
		return fmt.Errorf("stat: %q: unknown kind %d", s.Name, int(s.Kind))
	}
}

// Reduce collapses every entry that received more than one raw value
// to its arithmetic mean, producing the per-entry reduced map. Balance
// must run first so declared entries are present.
func (s *Stat) Reduce() error {
	if !s.balanced {
		return fmt.Errorf("stat: %q: reduce before balance", s.Name)
	}
	if !s.Kind.HasEntries() {
		s.reducedOK = true
		return nil
	}
	s.reduced = make(map[string]float64, len(s.content))
	for key, vals := range s.content {
		s.reduced[key] = mean(vals)
	}
	s.reducedOK = true
	return nil
}

// EntryOrder returns the finalized entry keys in a stable order:
// declared entries first, then any discovered keys in first-seen
// order. Used to flatten entry-bearing variables into CSV columns.
func (s *Stat) EntryOrder() []string {
	declared := s.declaredEntries()
	seen := make(map[string]bool, len(declared))
	order := make([]string, 0, len(declared)+len(s.discovered))
	for _, key := range declared {
		if !seen[key] {
			seen[key] = true
			order = append(order, key)
		}
	}
	for _, key := range s.discovered {
		if !seen[key] {
			seen[key] = true
			order = append(order, key)
		}
	}
	return order
}

// declaredEntries lists the entry keys the configuration promises,
// per kind. In StatisticsOnly mode only the named statistics are
// declared, whatever the kind.
func (s *Stat) declaredEntries() []string {
	if s.StatisticsOnly {
		return append([]string(nil), s.Statistics...)
	}
	switch s.Kind {
	case Vector:
		return append(append([]string(nil), s.Entries...), s.Statistics...)
	case Distribution:
		keys := make([]string, 0, s.Maximum-s.Minimum+3+len(s.Statistics))
		keys = append(keys, "underflows")
		for b := s.Minimum; b <= s.Maximum; b++ {
			keys = append(keys, strconv.Itoa(b))
		}
		keys = append(keys, "overflows")
		keys = append(keys, s.Statistics...)
		return keys
	case Histogram:
		if len(s.Entries) > 0 {
			return append(append([]string(nil), s.Entries...), s.Statistics...)
		}
		if s.Bins > 0 && s.MaxRange > 0 {
			keys := s.rebinnedLabels()
			return append(keys, s.Statistics...)
		}
		return append([]string(nil), s.Statistics...)
	default:
		return nil
	}
}

// rebinnedLabels names the target bins of a rebinned histogram: the
// lower bound of each equal-width bin, plus the overflow entry.
func (s *Stat) rebinnedLabels() []string {
	width := s.MaxRange / float64(s.Bins)
	labels := make([]string, 0, s.Bins+1)
	for i := 0; i < s.Bins; i++ {
		labels = append(labels, FormatValue(float64(i)*width))
	}
	return append(labels, "overflow")
}

// rebin redistributes numeric-labelled source buckets into Bins
// equal-width target bins by linear overlap. Source bucket widths are
// inferred from the spacing of consecutive numeric labels; values at
// or beyond MaxRange flow into the overflow entry. Non-numeric keys
// (named statistics) pass through untouched.
func (s *Stat) rebin() {
	type srcBucket struct {
		lower float64
		total float64
	}
	var sources []srcBucket
	rebinned := make(map[string][]float64)
	for key, vals := range s.content {
		lower, err := strconv.ParseFloat(key, 64)
		if err != nil {
			rebinned[key] = vals
			continue
		}
		var total float64
		for _, v := range vals {
			total += v
		}
		sources = append(sources, srcBucket{lower: lower, total: total})
	}
	if len(sources) == 0 {
		return
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].lower < sources[j].lower })

	targetWidth := s.MaxRange / float64(s.Bins)
	srcWidth := func(i int) float64 {
		if i+1 < len(sources) {
			return sources[i+1].lower - sources[i].lower
		}
		if i > 0 {
			return sources[i].lower - sources[i-1].lower
		}
		return targetWidth
	}

	labels := s.rebinnedLabels()
	bins := make([]float64, s.Bins)
	var overflow float64
	for i, src := range sources {
		lo, hi := src.lower, src.lower+srcWidth(i)
		if hi <= lo {
			hi = lo + targetWidth
		}
		span := hi - lo
		for b := 0; b < s.Bins; b++ {
			bLo := float64(b) * targetWidth
			bHi := bLo + targetWidth
			ov := overlap(lo, hi, bLo, bHi)
			if ov > 0 {
				bins[b] += src.total * ov / span
			}
		}
		if hi > s.MaxRange {
			ov := overlap(lo, hi, s.MaxRange, hi)
			overflow += src.total * ov / span
		}
	}

	for b := 0; b < s.Bins; b++ {
		rebinned[labels[b]] = []float64{bins[b]}
	}
	rebinned[labels[s.Bins]] = []float64{overflow}
	s.content = rebinned
	s.discovered = nil
}

func overlap(aLo, aHi, bLo, bHi float64) float64 {
	lo := aLo
	if bLo > lo {
		lo = bLo
	}
	hi := aHi
	if bHi < hi {
		hi = bHi
	}
	if hi <= lo {
		return 0
	}
	return hi - lo
}
