package session

// State is a Peer Session's negotiation state. States only ever move forward;
// Closed and Error are terminal.
type State int

const (
	Idle State = iota
	Offering
	AwaitingAnswer
	Answering
	AnswerReady
	AwaitingOpen
	Open
	Closed
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Offering:
		return "offering"
	case AwaitingAnswer:
		return "awaiting_answer"
	case Answering:
		return "answering"
	case AnswerReady:
		return "answer_ready"
	case AwaitingOpen:
		return "awaiting_open"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s == Closed || s == Error
}

// transitions lists every forward edge. Error and Closed are reachable from
// any non-terminal state and are handled separately.
var transitions = map[State][]State{
	Idle:           {Offering, Answering},
	Offering:       {AwaitingAnswer},
	AwaitingAnswer: {AwaitingOpen},
	Answering:      {AnswerReady},
	AnswerReady:    {AwaitingOpen},
	AwaitingOpen:   {Open},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to.Terminal() {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Role is which side of the offer/answer exchange a session plays.
type Role int

const (
	RoleNone Role = iota
	Offerer
	Answerer
)

func (r Role) String() string {
	switch r {
	case Offerer:
		return "offerer"
	case Answerer:
		return "answerer"
	default:
		return "none"
	}
}
