package agent

import "fmt"

// State is the conversational state of a session
type State string

// Trigger moves a session between states
type Trigger string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateThinking  State = "thinking"
	StateSpeaking  State = "speaking"
)

const (
	TriggerConfigure    Trigger = "configure"
	TriggerFinal        Trigger = "final_transcript"
	TriggerSegmentReady Trigger = "segment_ready"
	TriggerResponseDone Trigger = "response_done"
	TriggerClose        Trigger = "close"
)

// Transition returns the state reached from current on trigger.
// Speech starts are not triggers: they raise the interruption flag only.
func Transition(current State, trigger Trigger) (State, error) {
	if trigger == TriggerClose {
		return StateIdle, nil
	}

	switch current {
	case StateIdle:
		switch trigger {
		case TriggerConfigure:
			return StateListening, nil
		default:
			return current, invalidTransition(current, trigger)
		}
	case StateListening:
		switch trigger {
		case TriggerConfigure:
			return current, nil
		case TriggerFinal:
			return StateThinking, nil
		default:
			return current, invalidTransition(current, trigger)
		}
	case StateThinking, StateSpeaking:
		switch trigger {
		case TriggerConfigure:
			return current, nil
		case TriggerFinal:
			return StateThinking, nil
		case TriggerSegmentReady:
			return StateSpeaking, nil
		case TriggerResponseDone:
			return StateListening, nil
		default:
			return current, invalidTransition(current, trigger)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, trigger Trigger) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, trigger)
}
