// Package events defines the typed event contract a demo session emits to
// observers such as status views and loggers.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - user_input.*
//   - assistant_speech.*
//   - session_state.*
//   - demo_loop.*
//   - detour.*
//
// user_input events
//
//   - UserSpeechStarted (user_input.speech_started): an utterance began
//     accumulating.
//   - UserTranscriptSegment (user_input.transcript_segment): a transcript
//     fragment was accepted into the accumulator.
//   - UserTranscriptSuppressed (user_input.transcript_suppressed): a fragment
//     arrived while the assistant was speaking and was dropped.
//   - UtteranceFinalized (user_input.utterance_finalized): a silence gap closed
//     an utterance and it was classified.
//   - UtteranceDiscarded (user_input.utterance_discarded): a candidate was
//     rejected as noise.
//
// assistant_speech events
//
//   - AssistantSpeechStarted (assistant_speech.started): the output channel was
//     acquired and rendering began.
//   - AssistantSpeechEnded (assistant_speech.ended): the output channel was
//     released; carries the result of the speak call.
//
// session_state events
//
//   - SessionStarted (session_state.started)
//   - SessionStateChanged (session_state.changed)
//   - SessionStopped (session_state.stopped)
//
// demo_loop events
//
//   - LoopStarted (demo_loop.started)
//   - LoopPhaseChanged (demo_loop.phase_changed)
//   - ActionExecuted (demo_loop.action_executed)
//   - LoopFinished (demo_loop.finished)
//
// detour events
//
//   - DetourStarted (detour.started): a question or command paused the demo.
//   - DetourFinished (detour.finished)
package events
