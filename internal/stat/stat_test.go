package stat

import (
	"math"
	"strings"
	"testing"

	"github.com/quarrytools/quarry/internal/model"
)

func TestParseKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want Kind
	}{
		{"scalar", Scalar},
		{"Scalar", Scalar},
		{"CONFIGURATION", Configuration},
		{" vector ", Vector},
		{"Distribution", Distribution},
		{"histogram", Histogram},
	}
	for _, tc := range cases {
		got, err := ParseKind(tc.in)
		if err != nil {
			t.Fatalf("ParseKind(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseKind(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	if _, err := ParseKind("gauge"); err == nil {
		t.Error("ParseKind(gauge): expected error")
	}
}

func TestScalarDefaultsToZero(t *testing.T) {
	t.Parallel()

	s, err := FromSpec(model.VarSpec{Name: "sim_ticks", Type: "Scalar"})
	if err != nil {
		t.Fatalf("FromSpec: %v", err)
	}
	if err := s.Balance(); err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if got := s.Value(); got != "0" {
		t.Errorf("Value() = %q, want %q", got, "0")
	}
}

func TestConfigurationOnEmpty(t *testing.T) {
	t.Parallel()

	s, err := FromSpec(model.VarSpec{Name: "cpu_model", Type: "Configuration", OnEmpty: "unknown"})
	if err != nil {
		t.Fatalf("FromSpec: %v", err)
	}
	if err := s.Balance(); err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if got := s.Value(); got != "unknown" {
		t.Errorf("Value() = %q, want %q", got, "unknown")
	}

	// Without an explicit default the sentinel is "None".
	s2, _ := FromSpec(model.VarSpec{Name: "isa", Type: "Configuration"})
	_ = s2.Balance()
	if got := s2.Value(); got != "None" {
		t.Errorf("Value() = %q, want %q", got, "None")
	}
}

func TestVectorBalanceFillsMissingEntries(t *testing.T) {
	t.Parallel()

	s, err := FromSpec(model.VarSpec{Name: "ipc", Type: "Vector", Entries: []string{"0", "1", "2"}})
	if err != nil {
		t.Fatalf("FromSpec: %v", err)
	}
	if err := s.SetContent(map[string][]string{"0": {"1.5"}}); err != nil {
		t.Fatalf("SetContent: %v", err)
	}
	if err := s.Balance(); err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if err := s.Reduce(); err != nil {
		t.Fatalf("Reduce: %v", err)
	}

	if v, ok := s.ReducedAt("0"); !ok || v != 1.5 {
		t.Errorf("entry 0 = %v, %v; want 1.5, true", v, ok)
	}
	for _, entry := range []string{"1", "2"} {
		v, ok := s.ReducedAt(entry)
		if !ok {
			t.Fatalf("entry %s missing after balance", entry)
		}
		if !math.IsNaN(v) {
			t.Errorf("entry %s = %v, want NaN sentinel", entry, v)
		}
	}
}

func TestVectorReduceMeansMultipleOccurrences(t *testing.T) {
	t.Parallel()

	s, _ := FromSpec(model.VarSpec{Name: "ipc", Type: "Vector", Entries: []string{"0"}})
	if err := s.SetContent(map[string][]string{"0": {"1.0", "3.0"}}); err != nil {
		t.Fatalf("SetContent: %v", err)
	}
	if err := s.SetContent(map[string][]string{"0": {"5.0"}}); err != nil {
		t.Fatalf("second SetContent: %v", err)
	}
	_ = s.Balance()
	_ = s.Reduce()

	if v, _ := s.ReducedAt("0"); v != 3.0 {
		t.Errorf("reduced entry 0 = %v, want 3.0 (mean of 1, 3, 5)", v)
	}
}

func TestVectorSkipsUnknownEntries(t *testing.T) {
	t.Parallel()

	s, _ := FromSpec(model.VarSpec{Name: "ipc", Type: "Vector", Entries: []string{"0"}})
	err := s.SetContent(map[string][]string{
		"0":       {"1.0"},
		"bogus":   {"9.9"},
		"samples": {"2"}, // standard statistic, accepted undeclared
	})
	if err != nil {
		t.Fatalf("SetContent: %v", err)
	}
	_ = s.Balance()
	_ = s.Reduce()

	if _, ok := s.ReducedAt("bogus"); ok {
		t.Error("unknown entry should be skipped, not stored")
	}
	if v, ok := s.ReducedAt("samples"); !ok || v != 2 {
		t.Errorf("standard statistic samples = %v, %v; want 2, true", v, ok)
	}
}

func TestDistributionMandatoryKeys(t *testing.T) {
	t.Parallel()

	spec := model.VarSpec{Name: "lat", Type: "Distribution", Minimum: 0, Maximum: 2}

	s, _ := FromSpec(spec)
	err := s.SetContent(map[string][]string{"0": {"1"}, "2": {"1"}})
	if err == nil || !strings.Contains(err.Error(), "missing mandatory keys") {
		t.Fatalf("expected missing mandatory keys error, got %v", err)
	}

	s, _ = FromSpec(spec)
	err = s.SetContent(map[string][]string{
		"underflows": {"0"},
		"overflows":  {"0"},
		"0":          {"5"},
		"2":          {"7"},
	})
	if err != nil {
		t.Fatalf("SetContent with mandatory keys: %v", err)
	}

	// Bucket outside the declared range is a data-shape error.
	s, _ = FromSpec(spec)
	err = s.SetContent(map[string][]string{
		"underflows": {"0"},
		"overflows":  {"0"},
		"0":          {"5"},
		"2":          {"7"},
		"9":          {"1"},
	})
	if err == nil {
		t.Fatal("expected error for bucket outside [0, 2]")
	}
}

// Statistics-only mode accepts content containing only named
// statistics; the same content under full validation is rejected.
func TestDistributionStatisticsOnly(t *testing.T) {
	t.Parallel()

	content := map[string][]string{"mean": {"1.5"}, "stdev": {"0.2"}}

	strict, _ := FromSpec(model.VarSpec{
		Name: "lat", Type: "Distribution", Minimum: 0, Maximum: 4,
		Statistics: []string{"mean", "stdev"},
	})
	if err := strict.SetContent(content); err == nil {
		t.Fatal("full mode should reject pure-statistics content")
	}

	loose, _ := FromSpec(model.VarSpec{
		Name: "lat", Type: "Distribution", Minimum: 0, Maximum: 4,
		Statistics: []string{"mean", "stdev"}, StatisticsOnly: true,
	})
	if loose.Minimum != 0 || loose.Maximum != 0 {
		t.Errorf("statistics-only must force minimum/maximum to zero, got [%d, %d]",
			loose.Minimum, loose.Maximum)
	}
	if err := loose.SetContent(content); err != nil {
		t.Fatalf("statistics-only SetContent: %v", err)
	}
	_ = loose.Balance()
	_ = loose.Reduce()
	if v, _ := loose.ReducedAt("mean"); v != 1.5 {
		t.Errorf("mean = %v, want 1.5", v)
	}
}

func TestDistributionBalanceFillsBucketRange(t *testing.T) {
	t.Parallel()

	s, _ := FromSpec(model.VarSpec{Name: "lat", Type: "Distribution", Minimum: 0, Maximum: 3})
	err := s.SetContent(map[string][]string{
		"underflows": {"0"},
		"overflows":  {"1"},
		"0":          {"5"},
		"3":          {"2"},
	})
	if err != nil {
		t.Fatalf("SetContent: %v", err)
	}
	_ = s.Balance()
	_ = s.Reduce()

	for _, entry := range []string{"1", "2"} {
		v, ok := s.ReducedAt(entry)
		if !ok {
			t.Fatalf("bucket %s absent after balance", entry)
		}
		if !math.IsNaN(v) {
			t.Errorf("bucket %s = %v, want NaN sentinel", entry, v)
		}
	}
}

func TestHistogramRebin(t *testing.T) {
	t.Parallel()

	s, _ := FromSpec(model.VarSpec{Name: "sizes", Type: "Histogram", Bins: 2, MaxRange: 10})
	// Source buckets 0, 2.5, 5, 7.5 with width 2.5 each.
	err := s.SetContent(map[string][]string{
		"0":   {"4"},
		"2.5": {"4"},
		"5":   {"4"},
		"7.5": {"4"},
	})
	if err != nil {
		t.Fatalf("SetContent: %v", err)
	}
	if err := s.Balance(); err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if err := s.Reduce(); err != nil {
		t.Fatalf("Reduce: %v", err)
	}

	lo, _ := s.ReducedAt("0")
	hi, _ := s.ReducedAt("5")
	if lo != 8 || hi != 8 {
		t.Errorf("rebinned bins = %v, %v; want 8, 8", lo, hi)
	}
	if ov, ok := s.ReducedAt("overflow"); !ok || ov != 0 {
		t.Errorf("overflow = %v, %v; want 0, true", ov, ok)
	}
}

func TestHistogramRebinOverflow(t *testing.T) {
	t.Parallel()

	s, _ := FromSpec(model.VarSpec{Name: "sizes", Type: "Histogram", Bins: 2, MaxRange: 10})
	// Second bucket spans [5, 15): half its mass lies beyond MaxRange.
	err := s.SetContent(map[string][]string{
		"-5": {"0"},
		"5":  {"8"},
	})
	if err != nil {
		t.Fatalf("SetContent: %v", err)
	}
	_ = s.Balance()
	_ = s.Reduce()

	if ov, _ := s.ReducedAt("overflow"); ov != 4 {
		t.Errorf("overflow = %v, want 4", ov)
	}
}

func TestSetValueOnEntryBearingFails(t *testing.T) {
	t.Parallel()

	s, _ := FromSpec(model.VarSpec{Name: "v", Type: "Vector", Entries: []string{"0"}})
	if err := s.SetValue("1"); err == nil {
		t.Error("SetValue on Vector should fail")
	}

	sc, _ := FromSpec(model.VarSpec{Name: "s", Type: "Scalar"})
	if err := sc.SetContent(map[string][]string{"0": {"1"}}); err == nil {
		t.Error("SetContent on Scalar should fail")
	}
}

func TestFromSpecErrors(t *testing.T) {
	t.Parallel()

	if _, err := FromSpec(model.VarSpec{Name: "x"}); err == nil || !strings.Contains(err.Error(), "x") {
		t.Errorf("missing type: want error naming the variable, got %v", err)
	}
	if _, err := FromSpec(model.VarSpec{Name: "x", Type: "wat"}); err == nil {
		t.Error("unknown type: expected error")
	}
}

func TestMapRejectsDuplicates(t *testing.T) {
	t.Parallel()

	m := NewMap()
	a, _ := FromSpec(model.VarSpec{Name: "x", Type: "Scalar"})
	b, _ := FromSpec(model.VarSpec{Name: "x", Type: "Scalar"})
	if err := m.Add(a); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if err := m.Add(b); err == nil || !strings.Contains(err.Error(), "x") {
		t.Errorf("duplicate Add: want error naming x, got %v", err)
	}
}

func TestMapPreservesOrder(t *testing.T) {
	t.Parallel()

	m := NewMap()
	for _, name := range []string{"c", "a", "b"} {
		s, _ := FromSpec(model.VarSpec{Name: name, Type: "Scalar"})
		if err := m.Add(s); err != nil {
			t.Fatalf("Add(%s): %v", name, err)
		}
	}
	got := m.Names()
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", got, want)
		}
	}
}

func TestFormatValue(t *testing.T) {
	t.Parallel()

	if got := FormatValue(math.NaN()); got != "NaN" {
		t.Errorf("FormatValue(NaN) = %q, want NaN", got)
	}
	if got := FormatValue(1.5); got != "1.5" {
		t.Errorf("FormatValue(1.5) = %q, want 1.5", got)
	}
}
