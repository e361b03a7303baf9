package feedback

// DefaultEscalationThreshold is the confidence (0-100 scale) below which a new
// answer is escalated for human review.
const DefaultEscalationThreshold = 50.0

// Escalation is the mutable feedback state of one query record.
//
// Until the first reaction is applied the flag reflects the confidence check
// made at creation. From the first reaction on, the flag is driven purely by
// the counters: flagged iff ThumbsDown > ThumbsUp.
type Escalation struct {
	ThumbsUp   int
	ThumbsDown int
	Flagged    bool
	Reacted    bool
}

// Initial returns the state of a freshly answered query.
func Initial(confidence, threshold float64, force bool) Escalation {
	return Escalation{Flagged: force || confidence < threshold}
}

// Apply adjusts the counters, clamping each at zero, and recomputes the flag.
func (e Escalation) Apply(deltaUp, deltaDown int) Escalation {
	next := Escalation{
		ThumbsUp:   floorZero(e.ThumbsUp + deltaUp),
		ThumbsDown: floorZero(e.ThumbsDown + deltaDown),
		Reacted:    true,
	}
	next.Flagged = next.ThumbsDown > next.ThumbsUp
	return next
}

func floorZero(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
