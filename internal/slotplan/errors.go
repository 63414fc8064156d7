package slotplan

import "fmt"

// CandidateExhaustionError means no candidate matched a slot's target
// duration. The slots have to be regenerated upstream.
type CandidateExhaustionError struct {
	Slot           int
	TargetDuration float64
	Available      int
}

func (e *CandidateExhaustionError) Error() string {
	return fmt.Sprintf("slot %d: no candidate matches target duration %.3fs (%d candidates checked)",
		e.Slot, e.TargetDuration, e.Available)
}

// LocalAssetMissingError means the chosen clip was never materialized.
type LocalAssetMissingError struct {
	Slot     int
	SourceID string
	Key      string
}

func (e *LocalAssetMissingError) Error() string {
	return fmt.Sprintf("slot %d: no local file for clip %s (%s); materialize clips before assembling",
		e.Slot, e.SourceID, e.Key)
}
