package pattern

import (
	"reflect"
	"testing"

	"github.com/quarrytools/quarry/internal/model"
)

func TestExtract(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		sig     string
		id      string
		indexed bool
	}{
		{"cpu0.ipc", `cpu\d+.ipc`, "0", true},
		{"cpu12.ipc", `cpu\d+.ipc`, "12", true},
		{"l2.cache", "l2.cache", "", true},
		{"sim_ticks", "sim_ticks", "", false},
		{"core3_bank12", `core\d+_bank\d+`, "3_12", true},
		{"mesh.4.hops", "mesh.4.hops", "", false},
		{"0.start", "0.start", "", false},
		{"cpu0.rank.3.busy", `cpu\d+.rank.3.busy`, "0", true},
	}
	for _, tc := range cases {
		got := Extract(tc.name)
		if got.Indexed != tc.indexed {
			t.Errorf("Extract(%q).Indexed = %v, want %v", tc.name, got.Indexed, tc.indexed)
			continue
		}
		if !tc.indexed {
			if got.Signature != tc.name {
				t.Errorf("Extract(%q).Signature = %q, want literal", tc.name, got.Signature)
			}
			continue
		}
		if tc.name == "l2.cache" {
			// Has a digit run, so it is indexed, but we only pin the id here.
			if got.NumericID != "2" {
				t.Errorf("Extract(l2.cache).NumericID = %q, want 2", got.NumericID)
			}
			continue
		}
		if got.Signature != tc.sig || got.NumericID != tc.id {
			t.Errorf("Extract(%q) = {%q, %q}, want {%q, %q}",
				tc.name, got.Signature, got.NumericID, tc.sig, tc.id)
		}
	}
}

// Scenario: cpu0.ipc and cpu1.ipc fold into one Vector with entries
// ["0", "1"].
func TestAggregateScalarFamily(t *testing.T) {
	t.Parallel()

	in := []model.VarSpec{
		{Name: "cpu1.ipc", Type: "Scalar"},
		{Name: "cpu0.ipc", Type: "Scalar"},
	}
	out := Aggregate(in)
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	got := out[0]
	if got.Name != `cpu\d+.ipc` || got.Type != "Vector" {
		t.Fatalf("folded = %q/%q, want cpu\\d+.ipc/Vector", got.Name, got.Type)
	}
	if !reflect.DeepEqual(got.Entries, []string{"0", "1"}) {
		t.Errorf("Entries = %v, want [0 1]", got.Entries)
	}
	if !reflect.DeepEqual(got.ParsedIDs, []string{"cpu0.ipc", "cpu1.ipc"}) {
		t.Errorf("ParsedIDs = %v, want the member names sorted by id", got.ParsedIDs)
	}
	// Each physical scalar reports entry-less records, so routing
	// needs the aligned index list to place them.
	if !reflect.DeepEqual(got.PatternIndices, []string{"0", "1"}) {
		t.Errorf("PatternIndices = %v, want [0 1]", got.PatternIndices)
	}
}

func TestAggregateSingletonStaysLiteral(t *testing.T) {
	t.Parallel()

	in := []model.VarSpec{
		{Name: "cpu0.ipc", Type: "Scalar"},
		{Name: "sim_ticks", Type: "Scalar"},
	}
	out := Aggregate(in)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	for _, spec := range out {
		if spec.Name != "cpu0.ipc" && spec.Name != "sim_ticks" {
			t.Errorf("unexpected folded name %q: singleton groups must stay literal", spec.Name)
		}
	}
}

// A digit run after a dot is part of the name, not an instance index,
// so sibling names differing only there must not merge.
func TestAggregateDotAdjacentDigitsStayLiteral(t *testing.T) {
	t.Parallel()

	in := []model.VarSpec{
		{Name: "mesh.4.hops", Type: "Scalar"},
		{Name: "mesh.7.hops", Type: "Scalar"},
	}
	out := Aggregate(in)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2 literal variables", len(out))
	}
	for _, spec := range out {
		if spec.Name != "mesh.4.hops" && spec.Name != "mesh.7.hops" {
			t.Errorf("unexpected folded name %q", spec.Name)
		}
	}
}

func TestAggregateEntryBearingUnion(t *testing.T) {
	t.Parallel()

	in := []model.VarSpec{
		{Name: "ctrl0.lat", Type: "Distribution", Minimum: 0, Maximum: 8, Entries: []string{"a", "b"}},
		{Name: "ctrl1.lat", Type: "Distribution", Minimum: -2, Maximum: 4, Entries: []string{"b", "c"}},
	}
	out := Aggregate(in)
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	got := out[0]
	if got.Type != "Distribution" {
		t.Fatalf("Type = %q, want Distribution (entry-bearing kind kept)", got.Type)
	}
	if !reflect.DeepEqual(got.Entries, []string{"a", "b", "c"}) {
		t.Errorf("Entries = %v, want union [a b c]", got.Entries)
	}
	if got.Minimum != -2 || got.Maximum != 8 {
		t.Errorf("bounds = [%d, %d], want global [-2, 8]", got.Minimum, got.Maximum)
	}
	if !reflect.DeepEqual(got.PatternIndices, []string{"0", "1"}) {
		t.Errorf("PatternIndices = %v, want [0 1]", got.PatternIndices)
	}
	if !reflect.DeepEqual(got.ParsedIDs, []string{"ctrl0.lat", "ctrl1.lat"}) {
		t.Errorf("ParsedIDs = %v, want member names", got.ParsedIDs)
	}
}

func TestAggregateNumericIDSort(t *testing.T) {
	t.Parallel()

	in := []model.VarSpec{
		{Name: "cpu10.ipc", Type: "Scalar"},
		{Name: "cpu2.ipc", Type: "Scalar"},
		{Name: "cpu1.ipc", Type: "Scalar"},
	}
	out := Aggregate(in)
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	if !reflect.DeepEqual(out[0].Entries, []string{"1", "2", "10"}) {
		t.Errorf("Entries = %v, want numeric order [1 2 10]", out[0].Entries)
	}
}

// Folded names contain no digit runs, so a second aggregation pass
// must be the identity.
func TestAggregateFixedPoint(t *testing.T) {
	t.Parallel()

	in := []model.VarSpec{
		{Name: "cpu0.ipc", Type: "Scalar"},
		{Name: "cpu1.ipc", Type: "Scalar"},
		{Name: "sim_ticks", Type: "Scalar"},
	}
	once := Aggregate(in)
	twice := Aggregate(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("second pass changed output:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestAggregateOutputSorted(t *testing.T) {
	t.Parallel()

	in := []model.VarSpec{
		{Name: "z_last", Type: "Scalar"},
		{Name: "a_first", Type: "Scalar"},
		{Name: "m_mid", Type: "Scalar"},
	}
	out := Aggregate(in)
	for i := 1; i < len(out); i++ {
		if out[i-1].Name > out[i].Name {
			t.Fatalf("output not sorted by name: %q before %q", out[i-1].Name, out[i].Name)
		}
	}
}
