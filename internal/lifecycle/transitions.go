// Package lifecycle owns the business status machine. Every status change
// in the system goes through Controller so the transition table and the
// append-only history stay authoritative.
package lifecycle

import "github.com/webfabrica/leadgen-cli/internal/model"

// forward is the pipeline transition table. Rejection and archival are
// handled separately: any non-terminal status may move to rejected or
// archived.
var forward = map[model.Status][]model.Status{
	model.StatusDiscovered:       {model.StatusAnalyzing},
	model.StatusAnalyzing:        {model.StatusQualified, model.StatusLowPriority},
	model.StatusLowPriority:      {model.StatusAnalyzing},
	model.StatusQualified:        {model.StatusGenerating},
	model.StatusGenerating:       {model.StatusGenerated},
	model.StatusGenerated:        {model.StatusDeploying},
	model.StatusDeploying:        {model.StatusDeployed},
	model.StatusDeployed:         {model.StatusReadyForOutreach},
	model.StatusReadyForOutreach: {model.StatusContacted},
	model.StatusContacted:        {model.StatusResponded},
	model.StatusResponded:        {model.StatusConverted},
}

// Allowed reports whether the status machine permits from -> to.
func Allowed(from, to model.Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if to == model.StatusRejected || to == model.StatusArchived {
		return !from.Terminal()
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}
