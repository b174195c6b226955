package parse

import (
	"context"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/quarrytools/quarry/internal/model"
	"github.com/quarrytools/quarry/internal/pattern"
	"github.com/quarrytools/quarry/internal/worker"
)

// fakeParser replays canned records and captures the request.
type fakeParser struct {
	records  []worker.Record
	err      error
	gotPath  string
	gotKeys  []string
	requests int
}

func (f *fakeParser) ParseFile(_ context.Context, path string, keys []string, _ time.Duration) ([]worker.Record, error) {
	f.requests++
	f.gotPath = path
	f.gotKeys = keys
	return f.records, f.err
}

func TestFileWorkScalarAndConfiguration(t *testing.T) {
	t.Parallel()

	pool := &fakeParser{records: []worker.Record{
		{Type: "Scalar", VarID: "sim_ticks", Value: "1000"},
		{Type: "Configuration", VarID: "isa", Value: "riscv"},
	}}
	specs := []model.VarSpec{
		{Name: "sim_ticks", Type: "Scalar"},
		{Name: "isa", Type: "Configuration"},
		{Name: "absent", Type: "Scalar"},
	}

	res, err := NewFileWork("run1/stats.txt", specs).Run(context.Background(), pool, time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pool.gotPath != "run1/stats.txt" {
		t.Errorf("requested path %q", pool.gotPath)
	}

	ticks, _ := res.Stats.Get("sim_ticks")
	if ticks.Value() != "1000" {
		t.Errorf("sim_ticks = %q, want 1000", ticks.Value())
	}
	isa, _ := res.Stats.Get("isa")
	if isa.Value() != "riscv" {
		t.Errorf("isa = %q, want riscv", isa.Value())
	}
	absent, _ := res.Stats.Get("absent")
	if absent.Value() != "0" {
		t.Errorf("unreported scalar = %q, want balanced default 0", absent.Value())
	}
}

// A pattern variable folds several physical scalars into one vector:
// the physical ids are requested, and each id's value lands in the
// entry named by its pattern index.
func TestFileWorkPatternRouting(t *testing.T) {
	t.Parallel()

	pool := &fakeParser{records: []worker.Record{
		{Type: "Scalar", VarID: "cpu0.ipc", Value: "1.0"},
		{Type: "Scalar", VarID: "cpu1.ipc", Value: "2.0"},
	}}
	specs := []model.VarSpec{{
		Name:      `cpu\d+.ipc`,
		Type:      "Vector",
		Entries:   []string{"0", "1"},
		ParsedIDs: []string{"cpu0.ipc", "cpu1.ipc"},
	}}

	res, err := NewFileWork("f", specs).Run(context.Background(), pool, time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(pool.gotKeys, []string{"cpu0.ipc", "cpu1.ipc"}) {
		t.Errorf("requested keys %v, want the physical ids", pool.gotKeys)
	}

	st, _ := res.Stats.Get(`cpu\d+.ipc`)
	if v, _ := st.ReducedAt("0"); v != 1.0 {
		t.Errorf("entry 0 = %v, want 1.0", v)
	}
	if v, _ := st.ReducedAt("1"); v != 2.0 {
		t.Errorf("entry 1 = %v, want 2.0", v)
	}
}

// The aggregator writes the index list alongside the physical ids; an
// entry-less scalar record from a member routes through it.
func TestFileWorkScalarFamilyFromAggregate(t *testing.T) {
	t.Parallel()

	pool := &fakeParser{records: []worker.Record{
		{Type: "Scalar", VarID: "cpu0.ipc", Value: "1.5"},
		{Type: "Scalar", VarID: "cpu1.ipc", Value: "1.2"},
	}}
	specs := pattern.Aggregate([]model.VarSpec{
		{Name: "cpu0.ipc", Type: "Scalar"},
		{Name: "cpu1.ipc", Type: "Scalar"},
	})

	res, err := NewFileWork("f", specs).Run(context.Background(), pool, time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	st, ok := res.Stats.Get(`cpu\d+.ipc`)
	if !ok {
		t.Fatal("folded variable missing from result")
	}
	if v, _ := st.ReducedAt("0"); v != 1.5 {
		t.Errorf("entry 0 = %v, want 1.5", v)
	}
	if v, _ := st.ReducedAt("1"); v != 1.2 {
		t.Errorf("entry 1 = %v, want 1.2", v)
	}
}

func TestFileWorkPatternRoutingNeedsIndices(t *testing.T) {
	t.Parallel()

	// Entry-bearing pattern: the physical instances report their own
	// entries; an entry one sibling never reports balances to NaN.
	pool := &fakeParser{records: []worker.Record{
		{Type: "Vector", VarID: "bank0.q", Entry: "reads", Value: "4"},
		{Type: "Vector", VarID: "bank1.q", Entry: "reads", Value: "6"},
		{Type: "Vector", VarID: "bank1.q", Entry: "writes", Value: "2"},
	}}
	specs := []model.VarSpec{{
		Name:           `bank\d+.q`,
		Type:           "Vector",
		Entries:        []string{"reads", "writes"},
		ParsedIDs:      []string{"bank0.q", "bank1.q"},
		PatternIndices: []string{"0", "1"},
	}}

	res, err := NewFileWork("f", specs).Run(context.Background(), pool, time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	st, _ := res.Stats.Get(`bank\d+.q`)
	if v, _ := st.ReducedAt("reads"); v != 5.0 {
		t.Errorf("reads = %v, want mean 5.0", v)
	}
	if v, _ := st.ReducedAt("writes"); v != 2.0 {
		t.Errorf("writes = %v, want 2.0", v)
	}
	if v, ok := st.ReducedAt("0"); ok && !math.IsNaN(v) {
		t.Errorf("pattern index must not leak into entries, got %v", v)
	}
}

func TestFileWorkSummaryRequest(t *testing.T) {
	t.Parallel()

	pool := &fakeParser{records: []worker.Record{
		{Type: "Summary", VarID: "cache.hits", Value: "42"},
	}}
	specs := []model.VarSpec{{Name: "cache.hits__get_summary", Type: "Scalar"}}

	res, err := NewFileWork("f", specs).Run(context.Background(), pool, time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(pool.gotKeys, []string{"cache.hits"}) {
		t.Errorf("keys = %v, want suffix stripped before forwarding", pool.gotKeys)
	}
	st, _ := res.Stats.Get("cache.hits__get_summary")
	if st.Value() != "42" {
		t.Errorf("summary value = %q, want 42", st.Value())
	}
}

func TestFileWorkDuplicateNameFails(t *testing.T) {
	t.Parallel()

	pool := &fakeParser{}
	specs := []model.VarSpec{
		{Name: "X", Type: "Scalar"},
		{Name: "X", Type: "Scalar"},
	}
	_, err := NewFileWork("f", specs).Run(context.Background(), pool, time.Second)
	if err == nil || !strings.Contains(err.Error(), "X") {
		t.Fatalf("want duplicate-name error naming X, got %v", err)
	}
	if pool.requests != 0 {
		t.Error("duplicate names must fail before any request is sent")
	}
}

func TestFileWorkTypeMismatchFails(t *testing.T) {
	t.Parallel()

	pool := &fakeParser{records: []worker.Record{
		{Type: "Vector", VarID: "x", Entry: "0", Value: "1"},
	}}
	specs := []model.VarSpec{{Name: "x", Type: "Scalar"}}
	if _, err := NewFileWork("f", specs).Run(context.Background(), pool, time.Second); err == nil {
		t.Fatal("expected type mismatch error")
	}
}

func TestFileWorkUnknownRecordSkipped(t *testing.T) {
	t.Parallel()

	pool := &fakeParser{records: []worker.Record{
		{Type: "Scalar", VarID: "x", Value: "1"},
		{Type: "Scalar", VarID: "never_requested", Value: "9"},
	}}
	specs := []model.VarSpec{{Name: "x", Type: "Scalar"}}
	res, err := NewFileWork("f", specs).Run(context.Background(), pool, time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := res.Stats.Get("never_requested"); ok {
		t.Error("unrequested variable must be skipped, not stored")
	}
}

func TestSanitizeKey(t *testing.T) {
	t.Parallel()

	if key, summary := SanitizeKey("cpu0.ipc"); key != "cpu0.ipc" || summary {
		t.Errorf("plain key: got %q, %v", key, summary)
	}
	if key, summary := SanitizeKey("cache__get_summary"); key != "cache" || !summary {
		t.Errorf("summary key: got %q, %v", key, summary)
	}
	if key, _ := SanitizeKey("-rf"); key != "" {
		t.Errorf("leading-dash key must be rejected, got %q", key)
	}
}

func TestScanWorkDerivesSchema(t *testing.T) {
	t.Parallel()

	pool := &fakeParser{records: []worker.Record{
		{Type: "Scalar", VarID: "sim_ticks", Value: "1"},
		{Type: "Vector", VarID: "ipc", Entry: "0", Value: "1"},
		{Type: "Vector", VarID: "ipc", Entry: "1", Value: "2"},
		{Type: "Distribution", VarID: "lat", Entry: "-2", Value: "0"},
		{Type: "Distribution", VarID: "lat", Entry: "7", Value: "3"},
		{Type: "Distribution", VarID: "lat", Entry: "underflows", Value: "0"},
		{Type: "Summary", VarID: "noise", Value: "x"},
	}}

	specs, err := NewScanWork("f").Run(context.Background(), pool, time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(pool.gotKeys) != 0 {
		t.Errorf("scan must send zero keys, sent %v", pool.gotKeys)
	}

	byName := make(map[string]model.VarSpec, len(specs))
	for _, s := range specs {
		byName[s.Name] = s
	}
	if _, ok := byName["noise"]; ok {
		t.Error("summary records must not appear in the scanned schema")
	}
	if got := byName["sim_ticks"].Type; got != "Scalar" {
		t.Errorf("sim_ticks type = %q", got)
	}
	if got := byName["ipc"].Entries; !reflect.DeepEqual(got, []string{"0", "1"}) {
		t.Errorf("ipc entries = %v", got)
	}
	lat := byName["lat"]
	if lat.Minimum != -2 || lat.Maximum != 7 {
		t.Errorf("lat bounds = [%d, %d], want [-2, 7]", lat.Minimum, lat.Maximum)
	}
	if !reflect.DeepEqual(lat.Entries, []string{"underflows"}) {
		t.Errorf("lat entries = %v, want non-numeric keys only", lat.Entries)
	}
}
