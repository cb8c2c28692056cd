package workflow

// CanAdvance reports whether the pending step at stepIndex may be completed or
// skipped. Automatic steps wait on their direct predecessor. Manual steps wait
// on the nearest preceding automatic step, if any; consecutive manual steps do
// not block each other.
func CanAdvance(stepIndex int, steps []CurrentStep) bool {
	if stepIndex <= 0 {
		return true
	}
	if stepIndex >= len(steps) {
		return false
	}
	if steps[stepIndex].IsAutomatic {
		return steps[stepIndex-1].Status.Resolved()
	}
	for i := stepIndex - 1; i >= 0; i-- {
		if steps[i].IsAutomatic {
			return steps[i].Status.Resolved()
		}
	}
	return true
}
