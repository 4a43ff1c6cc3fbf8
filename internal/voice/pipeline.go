package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/haneul-labs/sori-server/domain/entities"
	"github.com/haneul-labs/sori-server/domain/repositories"
	"github.com/haneul-labs/sori-server/internal/audio"
	"github.com/haneul-labs/sori-server/internal/recovery"
	"github.com/haneul-labs/sori-server/internal/wakeword"
	"github.com/haneul-labs/sori-server/usecase"
)

// ErrSpeechDisabled rejects audio once a session has degraded to text-only.
var ErrSpeechDisabled = errors.New("speech recognition disabled for this session")

// RecognizerPool is the switchable set of recognition engines, normally a
// *recognition.Manager.
type RecognizerPool interface {
	ActiveName() string
	OpenStream(ctx context.Context, config repositories.RecognitionConfig) (repositories.RecognitionStream, error)
	Switch(ctx context.Context, exclude ...string) (string, error)
	SwitchOffline(ctx context.Context) (string, error)
}

// Dispatcher executes transcribed commands for a session, normally a
// *usecase.CommandService.
type Dispatcher interface {
	Dispatch(ctx context.Context, convo *entities.ConversationContext, transcript string) (*usecase.DispatchResult, error)
	DispatchRules(ctx context.Context, convo *entities.ConversationContext, transcript string) (*usecase.DispatchResult, error)
	Interpret(ctx context.Context, convo *entities.ConversationContext, transcript string) (*repositories.Interpretation, error)
}

// Config tunes one session's pipeline.
type Config struct {
	Gate        wakeword.GateConfig
	Language    string
	SampleRate  int
	Encoding    string
	PhraseHints []string
	HintBoost   float32
	// PreRoll is how much audio captured before the trigger is replayed
	// into the recognition stream.
	PreRoll    time.Duration
	BufferSize int
}

const (
	defaultPreRoll = 1500 * time.Millisecond
	eventQueueSize = 32
	gateQueueSize  = 16
)

// Pipeline is one session's audio path from chunk ingestion to command
// reply. It owns the wake-word gate, the ring buffer and the recognition
// stream, and it is the recovery engine's Target for this session.
//
// Chunks arrive on the connection goroutine via SubmitChunk. Gate
// transitions are handled on the run goroutine; recognition results are
// consumed and dispatched on a per-stream goroutine.
type Pipeline struct {
	session    *entities.Session
	convo      *entities.ConversationContext
	detector   *wakeword.Detector
	gate       *wakeword.Gate
	buffer     *audio.Buffer
	pool       RecognizerPool
	dispatcher Dispatcher
	faults     *recovery.Engine
	cfg        Config
	logger     *zap.Logger

	events        chan Event
	notifications chan wakeword.Notification

	mu             sync.Mutex
	stream         repositories.RecognitionStream
	triggeredAt    time.Time
	lastTranscript string
	lastFailed     string

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ recovery.Target = (*Pipeline)(nil)

func NewPipeline(
	session *entities.Session,
	convo *entities.ConversationContext,
	detector *wakeword.Detector,
	pool RecognizerPool,
	dispatcher Dispatcher,
	faults *recovery.Engine,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if cfg.PreRoll <= 0 {
		cfg.PreRoll = defaultPreRoll
	}
	if cfg.Language == "" {
		cfg.Language = "ko-KR"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "pcm16"
	}

	p := &Pipeline{
		session:       session,
		convo:         convo,
		detector:      detector,
		pool:          pool,
		dispatcher:    dispatcher,
		faults:        faults,
		cfg:           cfg,
		logger:        logger,
		buffer:        audio.NewBuffer(cfg.BufferSize),
		events:        make(chan Event, eventQueueSize),
		notifications: make(chan wakeword.Notification, gateQueueSize),
	}
	p.gate = wakeword.NewGate(detector, cfg.Gate, p.onGateEvent, logger)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

// Start launches the gate event loop. The pipeline is inert until then.
func (p *Pipeline) Start() {
	p.wg.Add(1)
	go p.run()
}

// Close tears the pipeline down and releases its recovery bookkeeping.
// Safe to call more than once.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
		p.gate.Reset(context.Background())
		p.dropStream()
		p.faults.ReleaseSession(p.session.ID)
		p.wg.Wait()
	})
}

// Events returns the channel the connection layer consumes. It is never
// closed; consumers stop on their own shutdown signal.
func (p *Pipeline) Events() <-chan Event { return p.events }

// Session returns the session this pipeline serves.
func (p *Pipeline) Session() *entities.Session { return p.session }

// Conversation returns the session's conversation context.
func (p *Pipeline) Conversation() *entities.ConversationContext { return p.convo }

// StartStream begins an audio stream and arms the wake-word gate. A session
// carries at most one stream at a time.
func (p *Pipeline) StartStream(ctx context.Context, cfg entities.StreamConfig) error {
	if p.session.Degradation() >= entities.DegradationTextOnly {
		return ErrSpeechDisabled
	}
	if err := p.session.StartStream(cfg); err != nil {
		return err
	}

	p.buffer.Reset()
	p.detector.ResetSmoothing()
	p.gate.Reset(ctx)
	if err := p.gate.Arm(ctx); err != nil {
		_ = p.session.EndStream()
		return err
	}

	// Without wake-word detection the stream itself is the push-to-talk
	// gesture: capture starts immediately.
	if p.session.Degradation() >= entities.DegradationNoWakeWord {
		if err := p.gate.Trigger(ctx, wakeword.ReasonPushToTalk); err != nil {
			_ = p.session.EndStream()
			p.gate.Reset(ctx)
			return err
		}
	}

	p.logger.Info("audio stream started",
		zap.String("sessionID", p.session.ID),
		zap.Int("sampleRate", cfg.SampleRate),
		zap.String("language", cfg.Language),
	)
	return nil
}

// EndStream closes the audio stream. A capture in progress is finalized so
// its last hypotheses still come back.
func (p *Pipeline) EndStream(ctx context.Context) error {
	if err := p.session.EndStream(); err != nil {
		return err
	}
	if p.gate.State() == wakeword.StateTriggered {
		return p.gate.Finalize(ctx, wakeword.ReasonStreamClosed)
	}
	p.gate.Reset(ctx)
	return nil
}

// PushToTalk opens the gate without a wake word. This is the capture path
// once wake-word detection has been degraded away.
func (p *Pipeline) PushToTalk(ctx context.Context) error {
	if !p.session.StreamActive() {
		return entities.ErrStreamNotActive
	}
	p.session.Touch()
	return p.gate.Trigger(ctx, wakeword.ReasonPushToTalk)
}

// SubmitChunk ingests one audio chunk. Every accepted chunk lands in the
// ring buffer first so pre-roll replay works from any gate state; chunks of
// a live capture are pumped into the recognition stream from there.
func (p *Pipeline) SubmitChunk(ctx context.Context, seq uint64, data []byte) error {
	if !p.session.StreamActive() {
		return entities.ErrStreamNotActive
	}
	p.session.Touch()

	if err := p.buffer.Append(audio.Chunk{Seq: seq, Data: data, ReceivedAt: time.Now()}); err != nil {
		if errors.Is(err, audio.ErrStaleSequence) {
			p.logger.Debug("dropping stale chunk",
				zap.String("sessionID", p.session.ID), zap.Uint64("seq", seq))
		}
		return err
	}

	// Without wake-word gating the gate stays armed and silent until
	// push-to-talk fires it.
	if p.gate.State() == wakeword.StateArmed &&
		p.session.Degradation() >= entities.DegradationNoWakeWord {
		return nil
	}

	forward, _, err := p.gate.Feed(ctx, data)
	if err != nil {
		p.raise(recovery.Wrap(recovery.CodeWakeModelError, err))
	}
	if forward {
		p.flush()
	}
	return nil
}

// HandleCommand executes a typed command, bypassing speech entirely. This is
// the whole interface once a session reaches text-only mode.
func (p *Pipeline) HandleCommand(ctx context.Context, text string) {
	p.session.Touch()
	p.dispatch(ctx, text, nil, "")
}

// onGateEvent runs with the gate lock held. It must not block and must not
// call back into the gate; stream work happens on the run goroutine.
func (p *Pipeline) onGateEvent(n wakeword.Notification) {
	p.session.SetState(entities.PipelineState(n.State))
	if n.State == wakeword.StateTriggered {
		p.mu.Lock()
		p.triggeredAt = time.Now()
		p.mu.Unlock()
	}
	select {
	case p.notifications <- n:
	default:
		p.logger.Warn("gate notification dropped",
			zap.String("sessionID", p.session.ID), zap.String("state", n.State))
	}
}

func (p *Pipeline) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case n := <-p.notifications:
			p.handleGateEvent(n)
		}
	}
}

func (p *Pipeline) handleGateEvent(n wakeword.Notification) {
	switch n.State {
	case wakeword.StateTriggered:
		if err := p.openStream(); err != nil {
			p.raise(classifyRecognitionError(p.pool.ActiveName(), err))
		}
	case wakeword.StateCooldown:
		p.closeStream()
	case wakeword.StateIdle:
		p.closeStream()
		p.buffer.Reset()
	}
	p.emit(Event{Kind: EventState, State: entities.PipelineState(n.State), Reason: n.Reason})
}

// openStream opens a recognition stream on the active engine and replays the
// pre-roll audio into it.
func (p *Pipeline) openStream() error {
	if err := p.ctx.Err(); err != nil {
		return err
	}

	streamCfg := p.session.ActiveStreamConfig()
	language := streamCfg.Language
	if language == "" {
		language = p.cfg.Language
	}
	sampleRate := streamCfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = p.cfg.SampleRate
	}
	encoding := streamCfg.Format
	if encoding == "" {
		encoding = p.cfg.Encoding
	}

	stream, err := p.pool.OpenStream(p.ctx, repositories.RecognitionConfig{
		SampleRate:  sampleRate,
		Encoding:    encoding,
		Language:    language,
		PhraseHints: p.cfg.PhraseHints,
		HintBoost:   p.cfg.HintBoost,
	})
	if err != nil {
		return err
	}
	engine := p.pool.ActiveName()

	p.mu.Lock()
	p.stream = stream
	p.mu.Unlock()

	p.logger.Debug("recognition stream opened",
		zap.String("sessionID", p.session.ID), zap.String("engine", engine))

	p.flush()

	p.wg.Add(1)
	go p.readResults(stream, engine)
	return nil
}

// flush drains buffered chunks into the live stream, oldest first. Only
// audio inside the pre-roll window of the trigger is replayed; older armed
// ambience is dropped.
func (p *Pipeline) flush() {
	p.mu.Lock()
	stream := p.stream
	cutoff := p.triggeredAt.Add(-p.cfg.PreRoll)
	p.mu.Unlock()
	if stream == nil {
		return
	}

	for _, chunk := range p.buffer.Drain() {
		if chunk.ReceivedAt.Before(cutoff) {
			continue
		}
		if err := stream.Write(chunk.Data); err != nil {
			// The stream is dying; its terminal error surfaces once
			// through readResults.
			p.logger.Debug("recognition stream rejected chunk", zap.Error(err))
			return
		}
	}
}

// closeStream finalizes the capture. The engine flushes its remaining
// hypotheses before the results channel closes.
func (p *Pipeline) closeStream() {
	p.mu.Lock()
	stream := p.stream
	p.mu.Unlock()
	if stream == nil {
		return
	}
	if err := stream.End(); err != nil {
		p.logger.Debug("ending recognition stream", zap.Error(err))
	}
}

// dropStream abandons the current stream without waiting for results.
func (p *Pipeline) dropStream() {
	p.mu.Lock()
	stream := p.stream
	p.stream = nil
	p.mu.Unlock()
	if stream != nil {
		_ = stream.End()
	}
}

// readResults consumes one stream until its results channel closes. Final
// transcripts are dispatched from here; an utterance produces at most one.
// The final result rides on the reply event so the client sees transcript
// and interpreted command together.
func (p *Pipeline) readResults(stream repositories.RecognitionStream, engine string) {
	defer p.wg.Done()

	for result := range stream.Results() {
		p.session.Touch()
		res := result
		if res.IsFinal && strings.TrimSpace(res.Transcript) != "" {
			p.dispatch(p.ctx, res.Transcript, &res, engine)
			continue
		}
		p.emit(Event{Kind: EventRecognition, Engine: engine, Result: &res})
	}

	err := stream.Err()

	p.mu.Lock()
	current := p.stream == stream
	if current {
		p.stream = nil
	}
	p.mu.Unlock()

	// A stream we replaced or ended on purpose does not raise; one that
	// died underneath us does.
	if err == nil || !current || p.ctx.Err() != nil {
		return
	}
	p.raise(classifyRecognitionError(engine, err))
}

// dispatch executes one transcript and emits the reply. res and engine are
// set when the transcript came from a recognition stream, nil for typed
// commands.
func (p *Pipeline) dispatch(ctx context.Context, transcript string, res *repositories.RecognitionResult, engine string) {
	p.mu.Lock()
	p.lastTranscript = transcript
	p.mu.Unlock()

	result, err := p.runDispatch(ctx, transcript)
	if err != nil {
		if errors.Is(err, entities.ErrArticleNotFound) || errors.Is(err, entities.ErrSentenceOutOfRange) {
			// Stale reading cursor. Clear it and tell the user instead
			// of raising a fault.
			p.convo.SetPosition(entities.Position{})
			p.emit(Event{Kind: EventReply, Engine: engine, Result: res, Reply: &usecase.DispatchResult{
				Command: "none",
				Text:    "읽던 기사를 찾을 수 없어요. \"다음 기사\"라고 말해 보세요.",
			}})
			return
		}
		p.mu.Lock()
		p.lastFailed = transcript
		p.mu.Unlock()
		p.raise(classifyDispatchError(err))
		return
	}

	p.mu.Lock()
	p.lastFailed = ""
	p.mu.Unlock()

	if result.InterpreterErr != nil {
		p.raise(classifyInterpreterError(result.InterpreterErr))
	}
	p.emit(Event{Kind: EventReply, Engine: engine, Result: res, Reply: result})
}

// runDispatch picks the dispatch path for the current degradation level.
func (p *Pipeline) runDispatch(ctx context.Context, transcript string) (*usecase.DispatchResult, error) {
	if p.session.Degradation() >= entities.DegradationNoInterpreter {
		return p.dispatcher.DispatchRules(ctx, p.convo, transcript)
	}
	return p.dispatcher.Dispatch(ctx, p.convo, transcript)
}

// raise hands a fault to the recovery engine. Never blocks; a closed
// pipeline swallows faults since there is nothing left to recover.
func (p *Pipeline) raise(verr *recovery.VoiceError) {
	if p.ctx.Err() != nil {
		return
	}
	p.faults.Handle(p.ctx, p, verr)
}

// emit queues an event for the connection layer, dropping when the consumer
// cannot keep up.
func (p *Pipeline) emit(event Event) {
	if p.ctx.Err() != nil {
		return
	}
	select {
	case p.events <- event:
	default:
		p.logger.Warn("pipeline event dropped",
			zap.String("sessionID", p.session.ID), zap.String("kind", string(event.Kind)))
	}
}

// SessionID implements recovery.Target.
func (p *Pipeline) SessionID() string { return p.session.ID }

// CurrentDegradation implements recovery.Target.
func (p *Pipeline) CurrentDegradation() entities.DegradationLevel {
	return p.session.Degradation()
}

// Degrade implements recovery.Target. Reaching text-only tears the audio
// path down; the connection itself stays open.
func (p *Pipeline) Degrade(ctx context.Context, level entities.DegradationLevel) error {
	before := p.session.Degradation()
	applied := p.session.Degrade(level)
	if applied == before {
		return nil
	}

	if applied >= entities.DegradationTextOnly {
		_ = p.session.EndStream()
		p.gate.Reset(ctx)
	}

	p.emit(Event{Kind: EventDegraded, Degradation: applied})
	return nil
}

// SwitchRecognizer implements recovery.Target. The session keeps its
// connection; a capture in progress moves to the new engine mid-utterance.
func (p *Pipeline) SwitchRecognizer(ctx context.Context, exclude string) error {
	var excludes []string
	if exclude != "" {
		excludes = append(excludes, exclude)
	}
	name, err := p.pool.Switch(ctx, excludes...)
	if err != nil {
		return err
	}
	p.logger.Info("recognition engine switched",
		zap.String("sessionID", p.session.ID), zap.String("engine", name))
	return p.reopenIfLive(ctx)
}

// SetWakeWordMode implements recovery.Target.
func (p *Pipeline) SetWakeWordMode(_ context.Context, mode string) error {
	m, err := wakeword.ParseMode(mode)
	if err != nil {
		return err
	}
	return p.gate.SetMode(m)
}

// EnterOfflineMode implements recovery.Target.
func (p *Pipeline) EnterOfflineMode(ctx context.Context) error {
	name, err := p.pool.SwitchOffline(ctx)
	if err != nil {
		return err
	}
	p.logger.Info("session entered offline mode",
		zap.String("sessionID", p.session.ID), zap.String("engine", name))
	return p.reopenIfLive(ctx)
}

// Retry implements recovery.Target. Interpreter faults only probe the
// interpreter; the command already ran through the rule fallback and must
// not run twice.
func (p *Pipeline) Retry(ctx context.Context, verr *recovery.VoiceError) error {
	switch verr.Source {
	case recovery.SourceInterpreter:
		p.mu.Lock()
		transcript := p.lastTranscript
		p.mu.Unlock()
		if transcript == "" {
			return nil
		}
		_, err := p.dispatcher.Interpret(ctx, p.convo, transcript)
		return err

	case recovery.SourceNetwork:
		p.mu.Lock()
		failed := p.lastFailed
		p.mu.Unlock()
		if failed == "" {
			return p.reopenIfLive(ctx)
		}
		// Execution failed before any state changed, so the replay
		// cannot run the command twice.
		result, err := p.runDispatch(ctx, failed)
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.lastFailed = ""
		p.mu.Unlock()
		p.emit(Event{Kind: EventReply, Reply: result})
		return nil

	case recovery.SourceSTT, recovery.SourceProvider:
		return p.reopenIfLive(ctx)

	case recovery.SourceWakeWord, recovery.SourceAudio:
		// Retried implicitly by the next chunk.
		return nil

	default:
		return verr
	}
}

// Notify implements recovery.Target by pushing the fault to the client.
func (p *Pipeline) Notify(_ context.Context, verr *recovery.VoiceError) error {
	p.emit(Event{Kind: EventFault, Fault: verr})
	return nil
}

// reopenIfLive reopens the recognition stream when an utterance is being
// captured. Outside a capture there is nothing to restore.
func (p *Pipeline) reopenIfLive(_ context.Context) error {
	if !p.gate.Forwarding() {
		return nil
	}
	p.dropStream()
	return p.openStream()
}
