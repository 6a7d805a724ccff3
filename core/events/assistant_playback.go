package events

// KindAssistantPlaybackInterrupted identifies assistant audio being cut off
// because the user started speaking.
const KindAssistantPlaybackInterrupted Kind = "assistant_playback.interrupted"

// AssistantPlaybackInterrupted reports what was discarded and how much of
// the item the user actually heard.
type AssistantPlaybackInterrupted struct {
	Base
	ResponseID     string
	ItemID         string
	DiscardedBytes int
	PlayedMS       int
}

// NewAssistantPlaybackInterrupted creates a playback interrupted event.
func NewAssistantPlaybackInterrupted(responseID, itemID string, discardedBytes, playedMS int) AssistantPlaybackInterrupted {
	return AssistantPlaybackInterrupted{
		Base:           NewBase(KindAssistantPlaybackInterrupted),
		ResponseID:     responseID,
		ItemID:         itemID,
		DiscardedBytes: discardedBytes,
		PlayedMS:       playedMS,
	}
}
