package admission

// Validate decides whether current → requested is legal given the job's
// remaining capacity. It never mutates anything. The returned error is one of
// the conflict reasons, or nil.
//
// Rules, in order:
//  1. a finalized application (ACCEPTED or REJECTED) never moves again
//  2. a self-transition is a no-op and therefore illegal
//  3. acceptance needs at least one remaining slot
func Validate(current, requested Status, remainingSlots int) error {
	if IsTerminal(current) {
		return ErrAlreadyFinalized
	}
	if requested == current {
		return ErrIllegalTransition
	}
	if !IsTransitionAllowed(current, requested) {
		return ErrIllegalTransition
	}
	if IsAccepted(requested) && remainingSlots <= 0 {
		return ErrCapacityExhausted
	}
	return nil
}
