package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonTransportIO     ReasonCode = "transport_io"
	ReasonProtocolDesync  ReasonCode = "protocol_desync"
	ReasonTransportListen ReasonCode = "transport_listen"

	ReasonSTTTranscribe ReasonCode = "stt_transcribe"
	ReasonSTTRateLimit  ReasonCode = "stt_rate_limit"
	ReasonSTTEmpty      ReasonCode = "transcription_empty"

	ReasonTTSConnect    ReasonCode = "tts_connect"
	ReasonTTSSynthesize ReasonCode = "tts_synthesize"
	ReasonTTSRateLimit  ReasonCode = "tts_rate_limit"

	ReasonLLMGenerate    ReasonCode = "llm_generate"
	ReasonLLMRateLimit   ReasonCode = "llm_rate_limit"
	ReasonLLMCircuitOpen ReasonCode = "llm_circuit_open"

	ReasonConfigInvalid ReasonCode = "config_invalid"
)

// SessionFatal reports whether an error ends the call rather than a single turn.
func SessionFatal(err error) bool {
	switch Reason(err) {
	case ReasonTransportIO, ReasonProtocolDesync:
		return true
	default:
		return false
	}
}
