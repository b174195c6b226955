// Package pattern folds families of per-index variables (cpu0.ipc,
// cpu1.ipc, ...) into single logical pattern variables. Names are
// grouped by a signature formed by replacing each label-adjacent
// digit run with a placeholder; a family of two or more members becomes one variable
// whose entries (or pattern indices) are the extracted numeric ids.
package pattern

import (
	"sort"
	"strconv"
	"strings"

	"github.com/quarrytools/quarry/internal/model"
)

// placeholder replaces each digit run in a signature. It doubles as
// the visible marker in the folded variable's name.
const placeholder = `\d+`

// Extraction is the signature and numeric id pulled from one name.
// Names without any digit run have Indexed == false and keep their
// literal identity.
type Extraction struct {
	Signature string
	NumericID string
	Indexed   bool
}

// Extract scans name left to right and replaces each digit run that
// directly follows a letter or underscore with the placeholder. A
// digit run with any other byte before it (a dot, a dash, the start
// of the name) is not an instance index and stays literal, so
// mesh.4.hops and mesh.7.hops never merge. Plain string scanning, not
// regular-expression matching: the input is a flat list of simulator
// variable names and must not be able to trigger pathological
// matching behavior.
//
// The numeric id is the concatenation of all folded digit runs,
// joined with underscores, so a name carrying several indices still
// maps to one id per instance.
func Extract(name string) Extraction {
	var sig strings.Builder
	var runs []string
	i := 0
	for i < len(name) {
		c := name[i]
		if c >= '0' && c <= '9' && i > 0 && isLabelByte(name[i-1]) {
			j := i
			for j < len(name) && name[j] >= '0' && name[j] <= '9' {
				j++
			}
			runs = append(runs, name[i:j])
			sig.WriteString(placeholder)
			i = j
			continue
		}
		sig.WriteByte(c)
		i++
	}
	if len(runs) == 0 {
		return Extraction{Signature: name}
	}
	return Extraction{
		Signature: sig.String(),
		NumericID: strings.Join(runs, "_"),
		Indexed:   true,
	}
}

// isLabelByte reports whether b can end the label part of an indexed
// name, matching the label/index pairing the simulators emit.
func isLabelByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

type member struct {
	id   string
	spec model.VarSpec
}

// Aggregate folds the discovered variable list: groups sharing a
// signature with two or more members are promoted to one pattern
// variable, singleton groups stay literal. The output is sorted by
// name so repeated scans are deterministic; re-aggregating an already
// aggregated list is a fixed point because folded names contain no
// digit runs.
func Aggregate(specs []model.VarSpec) []model.VarSpec {
	groups := make(map[string][]member)
	var order []string
	for _, spec := range specs {
		ex := Extract(spec.Name)
		if !ex.Indexed {
			// Keyed by the literal name; never merges with anything.
			key := "=" + spec.Name
			if _, ok := groups[key]; !ok {
				order = append(order, key)
			}
			groups[key] = append(groups[key], member{spec: spec})
			continue
		}
		if _, ok := groups[ex.Signature]; !ok {
			order = append(order, ex.Signature)
		}
		groups[ex.Signature] = append(groups[ex.Signature], member{id: ex.NumericID, spec: spec})
	}

	out := make([]model.VarSpec, 0, len(order))
	for _, key := range order {
		members := groups[key]
		if strings.HasPrefix(key, "=") || len(members) < 2 {
			for _, m := range members {
				out = append(out, m.spec)
			}
			continue
		}
		out = append(out, fold(key, members))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// fold merges one promoted group. All-scalar families become a Vector
// whose entries are the numeric ids; entry-bearing families keep
// their type, union their entries, and carry the ids in
// pattern-indices instead. Distribution bounds merge as global
// min/max.
func fold(signature string, members []member) model.VarSpec {
	sort.Slice(members, func(i, j int) bool {
		return lessNumericID(members[i].id, members[j].id)
	})

	ids := make([]string, len(members))
	names := make([]string, len(members))
	allScalar := true
	for i, m := range members {
		ids[i] = m.id
		names[i] = m.spec.Name
		if !strings.EqualFold(m.spec.Type, "Scalar") {
			allScalar = false
		}
	}

	if allScalar {
		// ids and names stay positionally aligned so each physical
		// scalar routes to its own entry of the folded vector.
		return model.VarSpec{
			Name:           signature,
			Type:           "Vector",
			Entries:        ids,
			ParsedIDs:      names,
			PatternIndices: ids,
		}
	}

	first := members[0].spec
	folded := model.VarSpec{
		Name:           signature,
		Type:           first.Type,
		Entries:        unionEntries(members),
		Minimum:        first.Minimum,
		Maximum:        first.Maximum,
		Bins:           first.Bins,
		MaxRange:       first.MaxRange,
		Statistics:     first.Statistics,
		StatisticsOnly: first.StatisticsOnly,
		ParsedIDs:      names,
		PatternIndices: ids,
	}
	for _, m := range members[1:] {
		if m.spec.Minimum < folded.Minimum {
			folded.Minimum = m.spec.Minimum
		}
		if m.spec.Maximum > folded.Maximum {
			folded.Maximum = m.spec.Maximum
		}
	}
	return folded
}

// unionEntries merges every member's entry set, keeping first-seen
// order across members. The union (not intersection) matters: an
// instance missing an entry reported by a sibling still gets that
// entry declared, and balancing later renders it as the missing
// sentinel instead of misaligning columns.
func unionEntries(members []member) []string {
	seen := make(map[string]bool)
	var union []string
	for _, m := range members {
		for _, e := range m.spec.Entries {
			if !seen[e] {
				seen[e] = true
				union = append(union, e)
			}
		}
	}
	return union
}

// lessNumericID orders ids like "2" < "10" and "1_2" < "1_10",
// comparing each underscore-separated run numerically.
func lessNumericID(a, b string) bool {
	as := strings.Split(a, "_")
	bs := strings.Split(b, "_")
	for i := 0; i < len(as) && i < len(bs); i++ {
		ai, aerr := strconv.Atoi(as[i])
		bi, berr := strconv.Atoi(bs[i])
		if aerr != nil || berr != nil {
			if as[i] != bs[i] {
				return as[i] < bs[i]
			}
			continue
		}
		if ai != bi {
			return ai < bi
		}
	}
	return len(as) < len(bs)
}
