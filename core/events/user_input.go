package events

const (
	// KindUserSpeechStarted identifies server VAD detecting user speech.
	KindUserSpeechStarted Kind = "user_input.speech_started"
	// KindUserSpeechEnded identifies server VAD detecting the end of user speech.
	KindUserSpeechEnded Kind = "user_input.speech_ended"
	// KindUserTranscriptFinal identifies the server transcription of a user turn.
	KindUserTranscriptFinal Kind = "user_input.transcript_final"
)

// UserSpeechStarted marks when user speech activity starts.
type UserSpeechStarted struct {
	Base
	ItemID       string
	AudioStartMS int
}

// NewUserSpeechStarted creates a user speech started event.
func NewUserSpeechStarted(itemID string, audioStartMS int) UserSpeechStarted {
	return UserSpeechStarted{Base: NewBase(KindUserSpeechStarted), ItemID: itemID, AudioStartMS: audioStartMS}
}

// UserSpeechEnded marks when user speech activity ends.
type UserSpeechEnded struct {
	Base
	ItemID     string
	AudioEndMS int
}

// NewUserSpeechEnded creates a user speech ended event.
func NewUserSpeechEnded(itemID string, audioEndMS int) UserSpeechEnded {
	return UserSpeechEnded{Base: NewBase(KindUserSpeechEnded), ItemID: itemID, AudioEndMS: audioEndMS}
}

// UserTranscriptFinal carries the full transcript of one user utterance.
type UserTranscriptFinal struct {
	Base
	ItemID     string
	Transcript string
}

// NewUserTranscriptFinal creates a final user transcript event.
func NewUserTranscriptFinal(itemID, transcript string) UserTranscriptFinal {
	return UserTranscriptFinal{Base: NewBase(KindUserTranscriptFinal), ItemID: itemID, Transcript: transcript}
}
