// Package query applies client filter criteria to a Dataset.
package query

import (
	"strings"

	"github.com/wyntrades-ai/defi-yields-mcp/internal/model"
)

// Criteria restricts a pool listing. Empty fields impose no constraint.
type Criteria struct {
	Chain   string `json:"chain,omitempty"`
	Project string `json:"project,omitempty"`
}

// IsZero reports whether no constraint is set.
func (c Criteria) IsZero() bool {
	return c.Chain == "" && c.Project == ""
}

// Apply returns the pools matching the criteria, preserving upstream order.
// Matching is case-insensitive equality per set field. The input dataset is
// never modified.
func Apply(ds *model.Dataset, c Criteria) []model.Pool {
	if ds == nil {
		return []model.Pool{}
	}
	if c.IsZero() {
		out := make([]model.Pool, len(ds.Pools))
		copy(out, ds.Pools)
		return out
	}

	out := make([]model.Pool, 0, len(ds.Pools))
	for _, pool := range ds.Pools {
		if c.Chain != "" && !strings.EqualFold(pool.Chain, c.Chain) {
			continue
		}
		if c.Project != "" && !strings.EqualFold(pool.Project, c.Project) {
			continue
		}
		out = append(out, pool)
	}
	return out
}
