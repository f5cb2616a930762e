package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/harunnryd/callbridge/pkg/audio"
	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/frames"
	"github.com/harunnryd/callbridge/pkg/metrics"
	"github.com/harunnryd/callbridge/pkg/redact"
	"github.com/harunnryd/callbridge/pkg/transports"
	"github.com/harunnryd/callbridge/pkg/turn"
	"github.com/harunnryd/callbridge/pkg/vad"
)

const (
	playbackGreeting = "greeting"
	playbackResponse = "response"
)

var errEmptyAudio = errors.New("synthesizer returned no audio")

// Inbox messages produced by the session's own helper goroutines. gen ties a
// result to the turn or playback that started it; stale results are dropped.
type (
	greetingReady struct {
		pcm []byte
		err error
	}
	turnResult struct {
		gen        uint64
		transcript string
		reply      string
		pcm        []byte
		empty      bool
		err        error
	}
	playbackDone struct {
		gen  uint64
		kind string
		err  error
	}
	closeRequest struct {
		reason string
		hangup bool
	}
)

// Session is one call. A single goroutine owns the state machine and the
// detector; everything else talks to it through the inbox.
type Session struct {
	id     string
	callID uuid.UUID
	cfg    Config
	collab Collaborators
	sender AudioSender
	log    *slog.Logger
	obs    metrics.Observer
	now    func() time.Time

	fsm      *turn.Machine
	detector *vad.Detector
	inbox    chan any

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	opened  time.Time
	turnGen uint64
	playGen uint64
	turns   atomic.Int64
	closed  bool
}

func newSession(parent context.Context, id string, cfg Config, collab Collaborators, sender AudioSender, log *slog.Logger, obs metrics.Observer) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		id:       id,
		cfg:      cfg,
		collab:   collab,
		sender:   sender,
		log:      log.With("session_id", id),
		obs:      obs,
		now:      time.Now,
		fsm:      turn.NewMachine(nil),
		detector: vad.New(cfg.VAD),
		inbox:    make(chan any, cfg.InboxSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.opened = s.now()
	s.fsm.AddListener(turn.ListenerFunc(s.onStateChange))
	return s
}

func (s *Session) ID() string { return s.id }

// State is safe to call from any goroutine.
func (s *Session) State() turn.State { return s.fsm.State() }

// Turns counts utterances handed to the pipeline.
func (s *Session) Turns() int { return int(s.turns.Load()) }

// Done is closed when the session goroutine has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// deliver queues a transport event. It returns false once the session is
// gone, in which case the caller still owns msg.
func (s *Session) deliver(msg any) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- msg:
	case <-s.done:
		return false
	}
	select {
	case <-s.done:
		// Queued after the final drain; nobody reads the inbox any more.
		s.drainInbox()
	default:
	}
	return true
}

// post is used by helper goroutines; it gives up when the call is torn down.
func (s *Session) post(msg any) {
	select {
	case s.inbox <- msg:
	case <-s.ctx.Done():
	}
}

func (s *Session) run() {
	defer func() {
		s.cancel()
		close(s.done)
		s.drainInbox()
	}()
	for {
		select {
		case msg := <-s.inbox:
			s.handle(msg)
			if s.closed {
				return
			}
		case <-s.ctx.Done():
			s.teardown("server_shutdown", nil)
			return
		}
	}
}

// drainInbox returns pooled audio still queued after teardown. It runs after
// done is closed, so deliver either sees done or its message is drained here.
func (s *Session) drainInbox() {
	for {
		select {
		case msg := <-s.inbox:
			if f, ok := msg.(frames.Frame); ok {
				frames.ReleaseAudioFrame(f)
			}
		default:
			return
		}
	}
}

func (s *Session) handle(msg any) {
	switch m := msg.(type) {
	case frames.HandshakeFrame:
		s.onHandshake(m)
	case frames.AudioFrame:
		s.onAudio(m)
		frames.ReleaseAudioFrame(m)
	case frames.DTMFFrame:
		s.log.Info("call_dtmf", "digit", redact.Digit(m.Digit()), "state", s.fsm.State().String())
		s.record(metrics.EventDTMF, 1, nil)
	case frames.HangupFrame:
		s.teardown(frames.CloseHangup, nil)
	case frames.ClosedFrame:
		s.teardown(m.Reason(), m.Err())
	case greetingReady:
		s.onGreetingReady(m)
	case turnResult:
		s.onTurnResult(m)
	case playbackDone:
		s.onPlaybackDone(m)
	case closeRequest:
		s.teardown(m.reason, nil)
		if !m.hangup {
			return
		}
		if err := s.sender.Hangup(s.id); err != nil && !errors.Is(err, transports.ErrSessionNotFound) {
			s.log.Warn("call_hangup_failed", "error", err.Error())
		}
	}
}

func (s *Session) onHandshake(f frames.HandshakeFrame) {
	if s.fsm.State() != turn.StateHandshaking {
		return
	}
	s.callID = f.CallID()
	s.log = s.log.With("call_id", s.callID.String())
	if err := s.fsm.Transition(turn.StateIdle, "handshake"); err != nil {
		s.log.Error("call_transition_failed", "error", err.Error())
		return
	}
	s.collab.Responder.SetInstruction(s.id, s.cfg.Instruction)
	s.record(metrics.EventCallStarted, 1, nil)
	s.log.Info("call_started")

	switch {
	case len(s.cfg.GreetingClip) > 0:
		s.play(turn.StatePlayingGreeting, playbackGreeting, s.cfg.GreetingClip)
	case strings.TrimSpace(s.cfg.GreetingText) != "":
		text := s.cfg.GreetingText
		go func() {
			pcm, err := s.synthesize(s.ctx, text)
			s.post(greetingReady{pcm: pcm, err: err})
		}()
	default:
		s.listen("no greeting")
	}
}

func (s *Session) onGreetingReady(m greetingReady) {
	if s.fsm.State() != turn.StateIdle {
		return
	}
	if m.err != nil {
		s.log.Warn("call_greeting_unavailable", errorsx.Attrs(m.err)...)
		s.listen("greeting failed")
		return
	}
	s.play(turn.StatePlayingGreeting, playbackGreeting, m.pcm)
}

func (s *Session) onAudio(f frames.AudioFrame) {
	state := s.fsm.State()
	if state != turn.StateListening && state != turn.StateProcessing {
		return
	}
	now := s.now()
	if pts := f.PTS(); pts > 0 {
		now = time.Unix(0, pts)
	}
	res := s.detector.Push(f.RawPayload(), now)
	if state == turn.StateListening && res.Trigger != vad.TriggerNone {
		s.startTurn(res.Trigger)
	}
}

func (s *Session) startTurn(trigger vad.Trigger) {
	utterance := s.detector.Take()
	s.detector.SetHold(true)
	if err := s.fsm.Transition(turn.StateProcessing, trigger.String()); err != nil {
		s.log.Error("call_transition_failed", "error", err.Error())
		s.detector.SetHold(false)
		return
	}
	s.turnGen++
	s.turns.Add(1)
	s.log.Info("call_utterance_captured",
		"trigger", trigger.String(),
		"bytes", len(utterance),
		"duration_ms", audio.DurationMS(utterance),
	)
	s.record(metrics.EventUtterance, float64(len(utterance)), map[string]string{metrics.TagKind: trigger.String()})

	gen := s.turnGen
	go func() {
		s.post(s.runTurn(gen, utterance))
	}()
}

// runTurn performs one transcribe, respond and synthesize round. It runs off
// the session goroutine and touches no session state.
func (s *Session) runTurn(gen uint64, pcm []byte) turnResult {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.TurnTimeout)
	defer cancel()
	res := turnResult{gen: gen}

	text, err := s.transcribe(ctx, pcm)
	if err != nil {
		res.err = err
		res.pcm = s.apologize(ctx, "")
		return res
	}
	if err := ctx.Err(); err != nil {
		// Torn down or timed out while transcribing; the text is stale.
		res.err = errorsx.Wrap(fmt.Errorf("transcribe: %w", err), errorsx.ReasonSTTTranscribe)
		return res
	}
	res.transcript = strings.TrimSpace(text)
	if res.transcript == "" {
		res.empty = true
		return res
	}

	res.reply = strings.TrimSpace(s.collab.Responder.Respond(ctx, s.id, res.transcript))
	if err := ctx.Err(); err != nil {
		res.err = errorsx.Wrap(fmt.Errorf("respond: %w", err), errorsx.ReasonLLMGenerate)
		return res
	}
	if res.reply == "" {
		res.reply = s.cfg.ApologyText
	}
	res.pcm, err = s.synthesize(ctx, res.reply)
	if err != nil {
		res.err = err
		res.pcm = s.apologize(ctx, res.reply)
	}
	return res
}

// apologize makes the single attempt at a spoken apology. When the failed
// text already was the apology there is nothing left to try.
func (s *Session) apologize(ctx context.Context, failedText string) []byte {
	if failedText == s.cfg.ApologyText || ctx.Err() != nil {
		return nil
	}
	pcm, err := s.synthesize(ctx, s.cfg.ApologyText)
	if err != nil {
		s.log.Warn("call_apology_failed", errorsx.Attrs(err)...)
		return nil
	}
	return pcm
}

func (s *Session) transcribe(ctx context.Context, pcm []byte) (string, error) {
	start := time.Now()
	text, err := s.collab.Transcriber.Transcribe(ctx, audio.EncodeWAV(pcm, audio.TelephonyFormat))
	if err == nil {
		s.recordStage(metrics.EventTranscription, s.collab.Transcriber.Name(), start, nil)
		s.log.Info("call_transcript", "text", redact.Text(text), "latency_ms", time.Since(start).Milliseconds())
		return text, nil
	}
	err = errorsx.Wrap(fmt.Errorf("transcribe: %w", err), errorsx.ReasonSTTTranscribe)
	s.recordStage(metrics.EventTranscription, s.collab.Transcriber.Name(), start, err)
	return "", err
}

func (s *Session) synthesize(ctx context.Context, text string) ([]byte, error) {
	start := time.Now()
	pcm, err := s.collab.Synthesizer.Synthesize(ctx, text)
	if err == nil && len(pcm) == 0 {
		err = errEmptyAudio
	}
	if err != nil {
		err = errorsx.Wrap(fmt.Errorf("synthesize: %w", err), errorsx.ReasonTTSSynthesize)
	}
	s.recordStage(metrics.EventSynthesis, s.collab.Synthesizer.Name(), start, err)
	return pcm, err
}

func (s *Session) onTurnResult(m turnResult) {
	if m.gen != s.turnGen || s.fsm.State() != turn.StateProcessing {
		return
	}
	s.detector.SetHold(false)
	s.log.Debug("call_turn_finished", "processing_ms", s.fsm.Since().Milliseconds(), "reply_bytes", len(m.pcm))

	if m.err != nil {
		s.log.Error("call_turn_failed", append(errorsx.Attrs(m.err), "apology", len(m.pcm) > 0)...)
		s.record(metrics.EventTurnFailed, 1, map[string]string{metrics.TagReason: string(errorsx.Reason(m.err))})
	}
	switch {
	case m.empty:
		s.log.Info("call_transcript_empty")
		s.record(metrics.EventTurnEmpty, 1, nil)
		s.listen("empty transcription")
	case len(m.pcm) == 0:
		s.listen("turn failed")
	default:
		s.play(turn.StatePlayingResponse, playbackResponse, m.pcm)
	}
}

// play moves into a playing state and starts the send. Inbound audio is
// ignored until the playback completes.
func (s *Session) play(state turn.State, kind string, pcm []byte) {
	if err := s.fsm.Transition(state, "play "+kind); err != nil {
		s.log.Error("call_transition_failed", "error", err.Error())
		return
	}
	s.detector.Reset()
	s.playGen++
	gen := s.playGen

	done, err := s.sender.SendAudio(s.ctx, s.id, pcm)
	if err != nil {
		s.onPlaybackDone(playbackDone{gen: gen, kind: kind, err: err})
		return
	}
	s.log.Info("call_playback_started", "kind", kind, "duration_ms", audio.DurationMS(pcm))
	go func() {
		select {
		case err := <-done:
			s.post(playbackDone{gen: gen, kind: kind, err: err})
		case <-s.ctx.Done():
		}
	}()
}

func (s *Session) onPlaybackDone(m playbackDone) {
	if m.gen != s.playGen || !s.fsm.State().Playing() {
		return
	}
	outcome := "completed"
	if m.err != nil {
		outcome = "interrupted"
		s.log.Warn("call_playback_failed", "kind", m.kind, "error", m.err.Error())
	}
	s.record(metrics.EventPlayback, 1, map[string]string{metrics.TagKind: m.kind, metrics.TagOutcome: outcome})
	if errors.Is(m.err, transports.ErrSessionClosedDuringSend) {
		// The closed event is on its way.
		return
	}
	s.listen(m.kind + " finished")
}

func (s *Session) listen(reason string) {
	if err := s.fsm.Transition(turn.StateListening, reason); err != nil {
		s.log.Error("call_transition_failed", "error", err.Error())
	}
}

func (s *Session) teardown(reason string, cause error) {
	if s.closed {
		return
	}
	s.closed = true
	handshaken := s.fsm.State() != turn.StateHandshaking
	_ = s.fsm.Transition(turn.StateClosed, reason)
	s.cancel()
	s.sender.CancelSend(s.id)
	s.collab.Responder.Reset(s.id)

	attrs := []any{
		"reason", reason,
		"turns", s.turns.Load(),
		"duration_ms", s.now().Sub(s.opened).Milliseconds(),
	}
	attrs = append(attrs, errorsx.Attrs(cause)...)
	s.log.Info("call_ended", attrs...)
	if handshaken {
		s.record(metrics.EventCallEnded, 1, map[string]string{metrics.TagReason: reason})
	}
}

func (s *Session) onStateChange(ev turn.StateChange) {
	s.log.Debug("call_state_change", "from", ev.FromState.String(), "to", ev.ToState.String(), "reason", ev.Reason)
	s.record(metrics.EventStateChange, 1, map[string]string{
		metrics.TagFrom: ev.FromState.String(),
		metrics.TagTo:   ev.ToState.String(),
	})
}

func (s *Session) recordStage(name, provider string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.record(name, float64(time.Since(start).Milliseconds()), map[string]string{
		metrics.TagProvider: provider,
		metrics.TagOutcome:  outcome,
	})
}

func (s *Session) record(name string, value float64, tags map[string]string) {
	if tags == nil {
		tags = make(map[string]string, 2)
	}
	tags[metrics.TagSession] = s.id
	if s.callID != uuid.Nil {
		tags[metrics.TagCall] = s.callID.String()
	}
	s.obs.RecordEvent(metrics.MetricsEvent{Name: name, Time: s.now(), Value: value, Tags: tags})
}
