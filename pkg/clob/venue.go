package clob

// VenueState governs whether placement and matching are permitted for an
// asset. New assets start Paused until an admin opens them.
type VenueState int8

const (
	Paused VenueState = iota
	Continuous
	CallAuction
)

func (v VenueState) String() string {
	switch v {
	case Paused:
		return "paused"
	case Continuous:
		return "continuous"
	case CallAuction:
		return "call-auction"
	default:
		return "unknown"
	}
}

// validTransition allows Paused<->Continuous and Paused<->CallAuction.
// Moving directly between Continuous and CallAuction is not a defined
// transition; the venue must pause in between.
func validTransition(from, to VenueState) bool {
	if from == to {
		return false
	}
	return from == Paused || to == Paused
}
