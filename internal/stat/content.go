package stat

import (
	"fmt"
	"log"
	"sort"
	"strconv"
)

// SetContent validates and buffers one file's raw occurrences for an
// entry-bearing variable. Each key maps to the raw string values that
// arrived for that entry (one per occurrence); values are appended to
// any content already buffered, so a pattern variable can fold several
// physical sources into the same logical entry across multiple calls.
//
// Validation is per kind. A violation of the active mode's
// required-key invariant fails the call and with it the calling work
// unit; it never panics and never corrupts previously buffered
// content.
func (s *Stat) SetContent(content map[string][]string) error {
	switch s.Kind {
	case Scalar, Configuration:
		return fmt.Errorf("stat: %s %q: entry content assigned to plain variable", s.Kind, s.Name)
	case Vector:
		return s.setVectorContent(content)
	case Distribution:
		return s.setDistributionContent(content)
	case Histogram:
		return s.setHistogramContent(content)
	default:
		return fmt.Errorf("stat: %q: unknown kind %d", s.Name, int(s.Kind))
	}
}

// setVectorContent accepts declared entries and standard statistics.
// Unknown keys are logged and skipped rather than failing the file; an
// empty declared-entry list means the vector is in discovery mode and
// accepts everything.
func (s *Stat) setVectorContent(content map[string][]string) error {
	s.ensureContent()
	parsed := make(map[string][]float64, len(content))
	for key, vals := range content {
		if len(s.Entries) > 0 && !s.declared(key) && !s.hasStatistic(key) {
			if !IsStandardStatistic(key) {
				log.Printf("stat: vector %s: unknown entry %q skipped", s.Name, key)
				continue
			}
		}
		for _, raw := range vals {
			v, err := parseNumeric(s.Name, key, raw)
			if err != nil {
				return err
			}
			parsed[key] = append(parsed[key], v)
		}
	}
	for key, vals := range parsed {
		s.noteDiscovered(key)
		s.content[key] = append(s.content[key], vals...)
	}
	return nil
}

// setDistributionContent enforces the mandatory bucket keys in full
// mode; StatisticsOnly mode skips bucket-shape validation entirely.
// Numeric keys outside [Minimum, Maximum] are a data-shape error.
func (s *Stat) setDistributionContent(content map[string][]string) error {
	if !s.StatisticsOnly {
		var absent []string
		for _, key := range s.mandatoryKeys() {
			if _, ok := content[key]; !ok {
				absent = append(absent, key)
			}
		}
		if len(absent) > 0 {
			sort.Strings(absent)
			return fmt.Errorf("stat: distribution %s: missing mandatory keys: %v", s.Name, absent)
		}
	}

	s.ensureContent()
	parsed := make(map[string][]float64, len(content))
	for key, vals := range content {
		if !s.StatisticsOnly {
			if bucket, err := strconv.Atoi(key); err == nil {
				if bucket < s.Minimum || bucket > s.Maximum {
					return fmt.Errorf("stat: distribution %s: bucket %d outside [%d, %d]",
						s.Name, bucket, s.Minimum, s.Maximum)
				}
			}
		}
		for _, raw := range vals {
			v, err := parseNumeric(s.Name, key, raw)
			if err != nil {
				return err
			}
			parsed[key] = append(parsed[key], v)
		}
	}
	for key, vals := range parsed {
		s.noteDiscovered(key)
		s.content[key] = append(s.content[key], vals...)
	}
	return nil
}

// mandatoryKeys lists the bucket keys a full-mode distribution must
// always report: the out-of-range counters and the two range limits.
func (s *Stat) mandatoryKeys() []string {
	return []string{
		"underflows",
		"overflows",
		strconv.Itoa(s.Minimum),
		strconv.Itoa(s.Maximum),
	}
}

// setHistogramContent accepts dynamic range-labelled buckets; all
// values must be numeric.
func (s *Stat) setHistogramContent(content map[string][]string) error {
	s.ensureContent()
	parsed := make(map[string][]float64, len(content))
	for key, vals := range content {
		for _, raw := range vals {
			v, err := parseNumeric(s.Name, key, raw)
			if err != nil {
				return err
			}
			parsed[key] = append(parsed[key], v)
		}
	}
	for key, vals := range parsed {
		s.noteDiscovered(key)
		s.content[key] = append(s.content[key], vals...)
	}
	return nil
}

func (s *Stat) hasStatistic(key string) bool {
	for _, st := range s.Statistics {
		if st == key {
			return true
		}
	}
	return false
}
