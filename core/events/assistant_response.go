package events

const (
	// KindAssistantResponseStarted identifies the server opening a response.
	KindAssistantResponseStarted Kind = "assistant_response.started"
	// KindAssistantResponseDone identifies the server closing a response,
	// whether completed, cancelled or failed.
	KindAssistantResponseDone Kind = "assistant_response.done"
	// KindAssistantTranscriptSegment identifies append-only transcript text
	// of the assistant audio.
	KindAssistantTranscriptSegment Kind = "assistant_response.transcript_segment"
	// KindAssistantTranscriptUpdated identifies the bounded rolling
	// transcript snapshot.
	KindAssistantTranscriptUpdated Kind = "assistant_response.transcript_updated"
)

// AssistantResponseStarted marks a new response id.
type AssistantResponseStarted struct {
	Base
	ResponseID string
}

// NewAssistantResponseStarted creates a response started event.
func NewAssistantResponseStarted(responseID string) AssistantResponseStarted {
	return AssistantResponseStarted{Base: NewBase(KindAssistantResponseStarted), ResponseID: responseID}
}

// AssistantResponseDone marks the end of a response.
type AssistantResponseDone struct {
	Base
	ResponseID string
	Status     string
}

// NewAssistantResponseDone creates a response done event.
func NewAssistantResponseDone(responseID, status string) AssistantResponseDone {
	return AssistantResponseDone{Base: NewBase(KindAssistantResponseDone), ResponseID: responseID, Status: status}
}

// AssistantTranscriptSegment carries streamed transcript text.
type AssistantTranscriptSegment struct {
	Base
	ResponseID string
	Segment    string
}

// NewAssistantTranscriptSegment creates a transcript segment event.
func NewAssistantTranscriptSegment(responseID, segment string) AssistantTranscriptSegment {
	return AssistantTranscriptSegment{Base: NewBase(KindAssistantTranscriptSegment), ResponseID: responseID, Segment: segment}
}

// AssistantTranscriptUpdated carries the rolling transcript snapshot.
type AssistantTranscriptUpdated struct {
	Base
	Transcript string
}

// NewAssistantTranscriptUpdated creates a transcript snapshot event.
func NewAssistantTranscriptUpdated(transcript string) AssistantTranscriptUpdated {
	return AssistantTranscriptUpdated{Base: NewBase(KindAssistantTranscriptUpdated), Transcript: transcript}
}
