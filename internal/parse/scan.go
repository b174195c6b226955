package parse

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/quarrytools/quarry/internal/model"
)

// ScanWork discovers the variable schema of one file: a zero-key
// request asks the external process to report everything it finds,
// and the response records are distilled into variable specs.
type ScanWork struct {
	file string
}

// NewScanWork builds the discovery work unit for one file.
func NewScanWork(file string) *ScanWork {
	return &ScanWork{file: file}
}

// discovered accumulates one variable's schema while records stream
// in. haveBounds distinguishes "no numeric bucket seen yet" from a
// genuine bucket 0.
type discovered struct {
	spec       model.VarSpec
	haveBounds bool
}

// Run performs the zero-key request and derives one spec per
// discovered variable: the reported type, the entry keys seen, and
// for distributions the numeric bucket bounds.
func (w *ScanWork) Run(ctx context.Context, pool FileParser, timeout time.Duration) ([]model.VarSpec, error) {
	records, err := pool.ParseFile(ctx, w.file, nil, timeout)
	if err != nil {
		return nil, fmt.Errorf("scan: %s: %w", w.file, err)
	}

	found := make(map[string]*discovered)
	var order []string
	for _, rec := range records {
		if strings.EqualFold(rec.Type, "Summary") {
			continue
		}
		d, ok := found[rec.VarID]
		if !ok {
			d = &discovered{spec: model.VarSpec{Name: rec.VarID, Type: canonicalType(rec.Type)}}
			found[rec.VarID] = d
			order = append(order, rec.VarID)
		} else if d.spec.Type != canonicalType(rec.Type) {
			log.Printf("scan: %s: variable %q reported as both %s and %s, keeping %s",
				w.file, rec.VarID, d.spec.Type, canonicalType(rec.Type), d.spec.Type)
		}
		if rec.Entry != "" {
			d.noteEntry(rec.Entry)
		}
	}

	specs := make([]model.VarSpec, 0, len(order))
	for _, name := range order {
		specs = append(specs, found[name].spec)
	}
	return specs, nil
}

// noteEntry records one observed entry key. Numeric entries of a
// distribution widen its bucket bounds instead of joining the entry
// list.
func (d *discovered) noteEntry(entry string) {
	if strings.EqualFold(d.spec.Type, "Distribution") {
		if bucket, err := strconv.Atoi(entry); err == nil {
			if !d.haveBounds {
				d.haveBounds = true
				d.spec.Minimum = bucket
				d.spec.Maximum = bucket
				return
			}
			if bucket < d.spec.Minimum {
				d.spec.Minimum = bucket
			}
			if bucket > d.spec.Maximum {
				d.spec.Maximum = bucket
			}
			return
		}
	}
	for _, e := range d.spec.Entries {
		if e == entry {
			return
		}
	}
	d.spec.Entries = append(d.spec.Entries, entry)
}

// canonicalType normalizes the case-insensitive wire type name.
func canonicalType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "scalar":
		return "Scalar"
	case "configuration":
		return "Configuration"
	case "vector":
		return "Vector"
	case "distribution":
		return "Distribution"
	case "histogram":
		return "Histogram"
	default:
		return t
	}
}
