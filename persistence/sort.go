package persistence

import (
	"sort"

	"github.com/mohitkumar/agentorchy/model"
)

// SortAndLimit orders snapshots newest first and truncates to limit when positive.
func SortAndLimit(wfs []*model.Workflow, limit int) []*model.Workflow {
	sort.Slice(wfs, func(i, j int) bool {
		return wfs[i].Metadata.UpdatedAt.After(wfs[j].Metadata.UpdatedAt)
	})
	if limit > 0 && len(wfs) > limit {
		wfs = wfs[:limit]
	}
	return wfs
}
