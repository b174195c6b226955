package stat

import (
	"fmt"

	"github.com/quarrytools/quarry/internal/model"
)

// FromSpec is the single translation point from a variable
// configuration to a runtime Stat. Both the scan and parse paths build
// their stats here, so they can never disagree on how a configuration
// is interpreted.
//
// Only the keys relevant to the resolved kind are copied; a missing or
// unrecognized type name is a configuration error carrying the
// variable name.
func FromSpec(spec model.VarSpec) (*Stat, error) {
	if spec.Type == "" {
		return nil, fmt.Errorf("stat: variable %q: missing type", spec.Name)
	}
	kind, err := ParseKind(spec.Type)
	if err != nil {
		return nil, fmt.Errorf("stat: variable %q: %w", spec.Name, err)
	}

	// ColumnName folds an alias in, so the stat already carries the
	// name the final CSV will use.
	s := &Stat{Name: spec.ColumnName(), Kind: kind}
	switch kind {
	case Scalar:
		// No extra configuration.
	case Configuration:
		s.OnEmpty = spec.OnEmpty
	case Vector:
		s.Entries = append([]string(nil), spec.Entries...)
	case Distribution:
		s.Minimum = spec.Minimum
		s.Maximum = spec.Maximum
		s.Statistics = append([]string(nil), spec.Statistics...)
		s.StatisticsOnly = spec.StatisticsOnly
		if s.StatisticsOnly {
			// Statistics-only content has no bucket shape to validate.
			s.Minimum = 0
			s.Maximum = 0
		}
	case Histogram:
		s.Bins = spec.Bins
		s.MaxRange = spec.MaxRange
		s.Entries = append([]string(nil), spec.Entries...)
		s.Statistics = append([]string(nil), spec.Statistics...)
		s.StatisticsOnly = spec.StatisticsOnly
		if s.StatisticsOnly {
			s.Bins = 0
			s.MaxRange = 0
			s.Entries = nil
		}
	}
	return s, nil
}
