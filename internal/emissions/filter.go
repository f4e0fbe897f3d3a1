// Package emissions turns a raw, time-ordered reading window into the numbers a
// carbon dashboard shows: filtered reading sets, rollup totals, the live
// warning, chart series and the offset ledger total.
//
// Every function here is pure and total over its inputs. None of them sort,
// mutate or retain the slices they are given.
package emissions

import (
	"strings"

	"github.com/carbonwatch/carbonwatch/internal/types"
)

// Filter returns the readings that satisfy every criterion in c, in their
// original order. It never returns nil.
func Filter(readings []types.Reading, c types.FilterCriteria) []types.Reading {
	out := make([]types.Reading, 0, len(readings))
	for _, r := range readings {
		if Matches(r, c) {
			out = append(out, r)
		}
	}
	return out
}

// Matches reports whether a single reading passes the criteria.
func Matches(r types.Reading, c types.FilterCriteria) bool {
	if c.From != nil && r.Timestamp.Before(*c.From) {
		return false
	}
	if c.To != nil && r.Timestamp.After(*c.To) {
		return false
	}
	if c.Department != "" && !departmentMatches(r.Department, c.Department, c.DepartmentMatch) {
		return false
	}
	if c.Scope != nil {
		if r.Scope == nil || r.Scope.String() != c.Scope.String() {
			return false
		}
	}
	return true
}

func departmentMatches(have, want string, mode types.DepartmentMatch) bool {
	switch mode {
	case types.MatchSubstring:
		return strings.Contains(strings.ToLower(have), strings.ToLower(want))
	default:
		return have == want
	}
}
