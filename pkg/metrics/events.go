package metrics

// Event names emitted by the call layer. Tags always carry session_id.
const (
	EventCallStarted   = "call_started"
	EventCallEnded     = "call_ended"
	EventStateChange   = "turn_state_change"
	EventUtterance     = "utterance_captured"
	EventTranscription = "stt_done"
	EventResponse      = "llm_done"
	EventSynthesis     = "tts_done"
	EventPlayback      = "playback_done"
	EventTurnFailed    = "turn_failed"
	EventTurnEmpty     = "turn_empty"
	EventDTMF          = "dtmf_received"

	EventRateLimit     = "rate_limit"
	EventBreakerDenied = "breaker_denied"
	// EventBreakerState carries the new state in TagTo and its ordinal in
	// Value.
	EventBreakerState = "breaker_state"
)

// Common tag keys.
const (
	TagSession  = "session_id"
	TagCall     = "call_id"
	TagProvider = "provider"
	TagReason   = "reason"
	TagOutcome  = "outcome"
	TagKind     = "kind"
	TagFrom     = "from"
	TagTo       = "to"
)
