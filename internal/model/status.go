package model

// Status is the lifecycle state of a business. Only the lifecycle
// controller may change it.
type Status string

const (
	StatusDiscovered       Status = "discovered"
	StatusAnalyzing        Status = "analyzing"
	StatusQualified        Status = "qualified"
	StatusLowPriority      Status = "low_priority"
	StatusGenerating       Status = "generating"
	StatusGenerated        Status = "generated"
	StatusDeploying        Status = "deploying"
	StatusDeployed         Status = "deployed"
	StatusReadyForOutreach Status = "ready_for_outreach"
	StatusContacted        Status = "contacted"
	StatusResponded        Status = "responded"
	StatusConverted        Status = "converted"
	StatusRejected         Status = "rejected"
	StatusArchived         Status = "archived"
)

// AllStatuses lists every status in pipeline order, for funnel reporting.
var AllStatuses = []Status{
	StatusDiscovered,
	StatusAnalyzing,
	StatusQualified,
	StatusLowPriority,
	StatusGenerating,
	StatusGenerated,
	StatusDeploying,
	StatusDeployed,
	StatusReadyForOutreach,
	StatusContacted,
	StatusResponded,
	StatusConverted,
	StatusRejected,
	StatusArchived,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether s is an absorbing state.
func (s Status) Terminal() bool {
	return s == StatusConverted || s == StatusRejected || s == StatusArchived
}

// Excluded reports whether a business in this status must not be
// resurrected by re-ingestion.
func (s Status) Excluded() bool {
	return s == StatusRejected || s == StatusArchived
}

// Stage names the pipeline phases owned by external collaborators, plus
// the internal analysis phase for retry bookkeeping.
type Stage string

const (
	StageAnalysis   Stage = "analysis"
	StageGeneration Stage = "generation"
	StageDeployment Stage = "deployment"
	StageOutreach   Stage = "outreach"
	StageResponse   Stage = "response"
	StageConversion Stage = "conversion"
)

// Valid reports whether st is a known stage.
func (st Stage) Valid() bool {
	switch st {
	case StageAnalysis, StageGeneration, StageDeployment, StageOutreach, StageResponse, StageConversion:
		return true
	}
	return false
}
