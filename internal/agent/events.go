package agent

// event is the closed set of inputs a session's dispatch handles
type event interface {
	isEvent()
}

type configureEvent struct {
	sampleRate int
	language   string
}

type instructionEvent struct {
	prompt string
}

// Transcript events carry the transcriber that produced them so events from a
// replaced transcriber can be ignored.
type speechStartedEvent struct {
	source Transcriber
}

type partialEvent struct {
	source Transcriber
	text   string
}

type finalEvent struct {
	source Transcriber
	text   string
}

type segmentReadyEvent struct {
	epoch uint64
}

type responseDoneEvent struct {
	epoch     uint64
	utterance string
	response  string
	completed bool
}

type closeEvent struct{}

func (configureEvent) isEvent()     {}
func (instructionEvent) isEvent()   {}
func (speechStartedEvent) isEvent() {}
func (partialEvent) isEvent()       {}
func (finalEvent) isEvent()         {}
func (segmentReadyEvent) isEvent()  {}
func (responseDoneEvent) isEvent()  {}
func (closeEvent) isEvent()         {}
