package pipeline

// Phase is the state of the loop.
//
//	Idle → Listening → Recognizing → Translating → Publishing → Listening
//	any → Stopped
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseListening
	PhaseRecognizing
	PhaseTranslating
	PhasePublishing
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseListening:
		return "listening"
	case PhaseRecognizing:
		return "recognizing"
	case PhaseTranslating:
		return "translating"
	case PhasePublishing:
		return "publishing"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
