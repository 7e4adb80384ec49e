package bridge

// State of a connection.
type State int

const (
	Idle State = iota
	Connecting
	Open
	Closing
	Closed
	Failed
)

var stateNames = [...]string{
	Idle:       "idle",
	Connecting: "connecting",
	Open:       "open",
	Closing:    "closing",
	Closed:     "closed",
	Failed:     "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions except Failed -> Closed exist.
func (s State) Terminal() bool { return s == Closed || s == Failed }
