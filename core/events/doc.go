// Package events defines the typed notifications a session publishes to its
// subscribers.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - user_input.*
//   - assistant_response.*
//   - assistant_playback.*
//   - session_state.*
//
// user_input events
//
//   - UserSpeechStarted (user_input.speech_started): server VAD detected
//     user speech.
//   - UserSpeechEnded (user_input.speech_ended): server VAD detected
//     silence.
//   - UserTranscriptFinal (user_input.transcript_final): transcript of the
//     committed user audio.
//
// assistant_response events
//
//   - AssistantResponseStarted (assistant_response.started): response
//     generation started.
//   - AssistantResponseDone (assistant_response.done): response ended with
//     a status.
//   - AssistantTranscriptSegment (assistant_response.transcript_segment):
//     append-only transcript text of the assistant audio.
//   - AssistantTranscriptUpdated (assistant_response.transcript_updated):
//     bounded rolling transcript snapshot.
//
// assistant_playback events
//
//   - AssistantPlaybackInterrupted (assistant_playback.interrupted): queued
//     assistant audio was discarded because the user spoke.
//
// session_state events
//
//   - SessionStateChanged (session_state.changed): state machine transition.
//   - SessionError (session_state.error): non-fatal error.
//   - ConnectionStatus (session_state.connection_status): reconnect progress.
package events
