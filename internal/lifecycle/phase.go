package lifecycle

// Phase is the lifecycle state of a Controller.
//
//	UNINITIALIZED -> LOADING -> AUTHENTICATED | UNAUTHENTICATED
//	AUTHENTICATED -> UNAUTHENTICATED   on sign out or terminal refresh failure
//	UNAUTHENTICATED -> AUTHENTICATED   only on a new SIGNED_IN event
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseLoading
	PhaseAuthenticated
	PhaseUnauthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "UNINITIALIZED"
	case PhaseLoading:
		return "LOADING"
	case PhaseAuthenticated:
		return "AUTHENTICATED"
	case PhaseUnauthenticated:
		return "UNAUTHENTICATED"
	default:
		return "UNKNOWN"
	}
}
