package stream

// State is the scheduler's position in the fragment load cycle.
type State int

const (
	StateStopped State = iota
	StateIdle
	StateWaitingLevel
	StateKeyLoading
	StateFragLoading
	StateFragLoadingWaitingRetry
	StateParsing
	StateParsed
	StateBufferFlushing
	StateEnded
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateIdle:
		return "IDLE"
	case StateWaitingLevel:
		return "WAITING_LEVEL"
	case StateKeyLoading:
		return "KEY_LOADING"
	case StateFragLoading:
		return "FRAG_LOADING"
	case StateFragLoadingWaitingRetry:
		return "FRAG_LOADING_WAITING_RETRY"
	case StateParsing:
		return "PARSING"
	case StateParsed:
		return "PARSED"
	case StateBufferFlushing:
		return "BUFFER_FLUSHING"
	case StateEnded:
		return "ENDED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
