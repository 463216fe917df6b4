package syncer

// State is a step of an account sync task
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAuthenticating
	StateListing
	StateFetching
	StateSaving
	StateCompleted
	StateFailed
	StateCancelled
)

var stateNames = map[State]string{
	StateIdle:           "idle",
	StateConnecting:     "connecting",
	StateAuthenticating: "authenticating",
	StateListing:        "listing",
	StateFetching:       "fetching",
	StateSaving:         "saving",
	StateCompleted:      "completed",
	StateFailed:         "failed",
	StateCancelled:      "cancelled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Error kinds reported in models.SyncResult.ErrorKind
const (
	KindConnection = "connection"
	KindAuth       = "auth"
	KindProtocol   = "protocol"
	KindNotFound   = "not_found"
	KindConfig     = "config"
	KindInternal   = "internal"
	KindCancelled  = "cancelled"
)
