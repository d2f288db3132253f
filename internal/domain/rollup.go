package domain

import (
	"sort"
	"strings"
)

// FullAddressDate is the rollup grouping key: one physical address on one date.
func FullAddressDate(inc Incident) string {
	return strings.TrimSpace(inc.Address) + ", " + inc.City + ", " + inc.StateID +
		" - " + inc.IncDate.Format(DateLayout)
}

type rollupGroup struct {
	first int
	size  int
	sum   [5]float64
	max   [5]float64
	apts  map[string]struct{}
	depts map[string]struct{}
	exps  map[string]struct{}
}

func casualtyFields(inc *Incident) [5]*float64 {
	return [5]*float64{&inc.OthInj, &inc.OthDeath, &inc.PropLoss, &inc.ContLoss, &inc.TotLoss}
}

// Rollup collapses incidents sharing a FullAddressDate into one representative record.
//
// The first incident of each group is kept. Its injury, death and loss figures are
// replaced by the group sum when more than one distinct apartment number appears in the
// group, and by the group maximum otherwise. The choice applies to all five figures
// together. Output is ordered by grouping key.
func Rollup(incidents []Incident) []CleanedIncident {
	groups := make(map[string]*rollupGroup)
	keys := make([]string, 0)

	for i := range incidents {
		inc := incidents[i]
		key := FullAddressDate(inc)
		g, ok := groups[key]
		if !ok {
			g = &rollupGroup{
				first: i,
				apts:  make(map[string]struct{}),
				depts: make(map[string]struct{}),
				exps:  make(map[string]struct{}),
			}
			groups[key] = g
			keys = append(keys, key)
		}

		for j, v := range casualtyFields(&inc) {
			g.sum[j] += *v
			if g.size == 0 || *v > g.max[j] {
				g.max[j] = *v
			}
		}
		g.size++

		if inc.AptNo != "" {
			g.apts[inc.AptNo] = struct{}{}
		}
		if inc.StFDID != "" {
			g.depts[inc.StFDID] = struct{}{}
		}
		if inc.ExpNo != "" {
			g.exps[inc.ExpNo] = struct{}{}
		}
	}

	sort.Strings(keys)

	out := make([]CleanedIncident, 0, len(keys))
	for _, key := range keys {
		g := groups[key]
		rep := incidents[g.first]

		agg := g.max
		if len(g.apts) > 1 {
			agg = g.sum
		}
		for j, dst := range casualtyFields(&rep) {
			*dst = agg[j]
		}

		out = append(out, CleanedIncident{
			Incident:      rep,
			NumRecords:    g.size,
			AptCount:      len(g.apts),
			DeptCount:     len(g.depts),
			ExposureCount: len(g.exps),
		})
	}
	return out
}
