package sac

import "math"

// updatesOwed computes how many gradient steps the training cadence has
// accrued and not yet performed. The accrued target grows by trainingSteps
// per transition collected beyond startTraining; because totalUpdates is
// part of the checkpointed agent state, no update is ever skipped or
// duplicated across resumptions.
func updatesOwed(memLen, startTraining, totalUpdates int, trainingSteps float64) int {
	if memLen < startTraining {
		return 0
	}
	target := float64(memLen-startTraining) * trainingSteps
	owed := int(math.Floor(target)) - totalUpdates
	if owed < 0 {
		return 0
	}
	return owed
}
