package flight

const (
	Disconnected Phase = iota
	Armed
	TakingOff
	Navigating
	Landing
	Grounded
	Aborted
)

// Phase is the stage of a flight. A Sequencer moves through them in order;
// Aborted is entered when an operator takes the vehicle out of guided mode.
type Phase int

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Armed:
		return "armed"
	case TakingOff:
		return "taking-off"
	case Navigating:
		return "navigating"
	case Landing:
		return "landing"
	case Grounded:
		return "grounded"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Autonomous reports whether the sequencer is commanding the vehicle in p.
func (p Phase) Autonomous() bool {
	return p == Armed || p == TakingOff || p == Navigating
}

// Phases lists every phase in declaration order.
func Phases() []Phase {
	return []Phase{Disconnected, Armed, TakingOff, Navigating, Landing, Grounded, Aborted}
}
