package chat

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/entrepeneur4lyf/chatsync/internal/attachment"
	"github.com/entrepeneur4lyf/chatsync/internal/backend"
	"github.com/entrepeneur4lyf/chatsync/internal/events"
	"github.com/entrepeneur4lyf/chatsync/internal/generation"
	"github.com/entrepeneur4lyf/chatsync/internal/message"
	"github.com/entrepeneur4lyf/chatsync/internal/models"
)

// DefaultTransitionDebounce is how long cosmetic transition flags stay set.
const DefaultTransitionDebounce = 300 * time.Millisecond

// Config wires an Engine to its collaborators.
type Config struct {
	ConversationID string
	Model          *models.Model

	Service     backend.ConversationService
	Credentials backend.CredentialResolver
	Navigator   backend.Navigator
	Notifier    backend.Notifier
	Broker      *events.SnapshotBroker
	Uploader    attachment.Uploader
	Pipeline    *attachment.Pipeline

	// OnError receives every surfaced failure from fire-and-forget paths.
	OnError func(error)

	MaxPending         int
	TransitionDebounce time.Duration
	Logger             *log.Logger
}

// Engine is the client-side synchronization facade for one chat: it merges
// optimistic and authoritative message state, tracks generation, selects the
// persisted or ephemeral strategy, and coordinates interrupted-stream
// resume.
type Engine struct {
	mu sync.RWMutex

	conversationID string
	model          *models.Model

	pending *message.Store
	sm      *generation.StateMachine

	authoritative   []message.Message
	merged          []message.Message
	loaded          bool
	remoteStreaming bool

	// local holds the ephemeral history; unused in persisted mode.
	local []message.Message

	strategy Strategy
	resume   *ResumeCoordinator

	svc      backend.ConversationService
	creds    backend.CredentialResolver
	nav      backend.Navigator
	notifier backend.Notifier
	broker   *events.SnapshotBroker
	uploader attachment.Uploader
	pipeline *attachment.Pipeline

	onError func(error)
	logger  *log.Logger

	transitioning bool
	debounce      time.Duration

	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// NewEngine creates an engine for one conversation (or a fresh ephemeral
// chat when no conversation id is set). Call Start to begin consuming
// authoritative snapshots.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	debounce := cfg.TransitionDebounce
	if debounce <= 0 {
		debounce = DefaultTransitionDebounce
	}
	pipeline := cfg.Pipeline
	if pipeline == nil {
		pipeline = attachment.NewPipeline(attachment.DefaultLimits(), logger)
	}

	e := &Engine{
		conversationID: cfg.ConversationID,
		model:          cfg.Model,
		pending:        message.NewStore(cfg.MaxPending),
		sm:             generation.New(logger),
		resume:         NewResumeCoordinator(logger),
		svc:            cfg.Service,
		creds:          cfg.Credentials,
		nav:            cfg.Navigator,
		notifier:       cfg.Notifier,
		broker:         cfg.Broker,
		uploader:       cfg.Uploader,
		pipeline:       pipeline,
		onError:        cfg.OnError,
		logger:         logger,
		debounce:       debounce,
	}
	e.strategy = e.selectStrategy()
	return e
}

// Start begins consuming authoritative snapshot events for the engine's
// conversation. It is a no-op for ephemeral chats (nothing to subscribe to)
// and when no broker is wired.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	conversationID := e.conversationID
	if e.broker == nil || conversationID == "" || e.loopCancel != nil {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.loopCancel = cancel
	e.loopDone = make(chan struct{})
	done := e.loopDone
	e.mu.Unlock()

	ch := events.SubscribeConversation(ctx, e.broker, conversationID)
	go func() {
		defer close(done)
		e.loadInitial(ctx, conversationID)
		for ev := range ch {
			e.handleSnapshot(ctx, ev)
		}
	}()
}

// loadInitial seeds the authoritative view with the stored history, so a
// freshly subscribed engine is not stuck loading until the first mutation.
func (e *Engine) loadInitial(ctx context.Context, conversationID string) {
	e.mu.RLock()
	loaded := e.loaded
	e.mu.RUnlock()
	if loaded || e.svc == nil {
		return
	}

	conv, err := e.svc.GetConversation(ctx, conversationID)
	if err != nil {
		e.logger.Warn("initial conversation load failed", "conversation", conversationID, "error", err)
		return
	}
	msgs, err := e.svc.ListMessages(ctx, conversationID)
	if err != nil {
		e.logger.Warn("initial message load failed", "conversation", conversationID, "error", err)
		return
	}

	e.handleSnapshot(ctx, events.SnapshotEvent{
		Type:           events.SnapshotUpdated,
		ConversationID: conversationID,
		Payload: message.Snapshot{
			ConversationID: conversationID,
			Messages:       msgs,
			IsStreaming:    conv.IsStreaming,
			Loaded:         true,
		},
	})
}

// Stop ends the snapshot loop. Safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.loopCancel
	done := e.loopDone
	e.loopCancel = nil
	e.loopDone = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// handleSnapshot folds one authoritative update into engine state and gives
// the resume coordinator a chance to restart an interrupted stream.
func (e *Engine) handleSnapshot(ctx context.Context, ev events.SnapshotEvent) {
	snap := ev.Payload

	if ev.Type == events.ConversationDeleted {
		e.mu.Lock()
		e.authoritative = nil
		e.merged = nil
		e.loaded = true
		e.remoteStreaming = false
		e.mu.Unlock()
		return
	}

	merged := e.pending.Merge(snap.Messages, snap.Loaded)

	e.mu.Lock()
	e.authoritative = snap.Messages
	e.merged = merged
	e.loaded = snap.Loaded
	e.remoteStreaming = snap.IsStreaming
	strategy := e.strategy
	e.mu.Unlock()

	e.resume.Observe(ctx, snap, func(ctx context.Context) error {
		if err := strategy.Resume(ctx); err != nil {
			e.surface(&ResumeError{ConversationID: snap.ConversationID, Err: err})
			return err
		}
		return nil
	})
}

// ConversationID returns the current conversation id, empty for ephemeral.
func (e *Engine) ConversationID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.conversationID
}

// Kind reports which strategy variant is active.
func (e *Engine) Kind() Kind {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.strategy.Kind()
}

// Messages returns the current message list: the merged
// optimistic/authoritative view for persisted chats, the local array for
// ephemeral ones.
func (e *Engine) Messages() []message.Message {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var src []message.Message
	if e.conversationID != "" {
		src = e.merged
	} else {
		src = e.local
	}
	out := make([]message.Message, len(src))
	copy(out, src)
	return out
}

// IsLoadingMessages reports whether the authoritative list has not arrived
// yet. Ephemeral chats are never loading.
func (e *Engine) IsLoadingMessages() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.conversationID != "" && !e.loaded
}

// IsStreaming reports whether an assistant reply is being generated, from
// either the local tracker or the authoritative snapshot.
func (e *Engine) IsStreaming() bool {
	if e.sm.IsGenerating() {
		return true
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.remoteStreaming {
		return true
	}
	return message.FindStreamingMessage(e.merged) != nil
}

// IsMessageStreaming reports whether one specific message is the one
// currently streaming.
func (e *Engine) IsMessageStreaming(id string) bool {
	generating := e.sm.IsGenerating()

	e.mu.RLock()
	defer e.mu.RUnlock()

	src := e.merged
	if e.conversationID == "" {
		src = e.local
	}
	return message.IsMessageStreaming(src, id, generating || e.remoteStreaming)
}

// Generation exposes the generation tracker state for UI consumption.
func (e *Engine) Generation() generation.State {
	return e.sm.Snapshot()
}

// SendMessage prepares attachments for the active mode and hands the turn
// to the strategy. Per-file rejections are surfaced but do not block the
// send; a send with no content and no accepted attachments fails validation
// before anything is written.
func (e *Engine) SendMessage(ctx context.Context, content string, files []attachment.RawFile) error {
	e.markTransitioning()

	atts, rejections, err := e.prepareAttachments(ctx, files)
	if err != nil {
		e.surface(err)
		return err
	}
	for _, rej := range rejections {
		e.notify(func(n backend.Notifier) { n.Error(rej.String()) })
	}
	if content == "" && len(atts) == 0 {
		return ErrEmptyMessage
	}

	if err := e.currentStrategy().SendMessage(ctx, SendRequest{Content: content, Attachments: atts}); err != nil {
		e.surface(err)
		return err
	}
	return nil
}

// prepareAttachments runs the pipeline in the mode the active strategy
// requires: durable uploads for persisted chats, inline data URIs for
// ephemeral ones.
func (e *Engine) prepareAttachments(ctx context.Context, files []attachment.RawFile) ([]message.Attachment, []attachment.Rejection, error) {
	if len(files) == 0 {
		return nil, nil, nil
	}

	atts, rejections := e.pipeline.Prepare(files, e.currentModel())
	if len(atts) == 0 {
		return nil, rejections, nil
	}

	mode := attachment.ModeInline
	if e.currentStrategy().Kind() == KindPersisted && e.uploader != nil {
		mode = attachment.ModeDurable
	}

	materialized, failures := e.pipeline.Materialize(ctx, atts, mode, e.uploader)
	for _, failure := range failures {
		e.surface(failure)
	}
	if len(failures) > 0 {
		return nil, rejections, failures[0]
	}
	return materialized, rejections, nil
}

// EditMessage rewrites a message's content through the active strategy.
func (e *Engine) EditMessage(ctx context.Context, id, newContent string) error {
	if err := e.currentStrategy().EditMessage(ctx, id, newContent); err != nil {
		e.surface(err)
		return err
	}
	return nil
}

// RetryUserMessage regenerates the reply to a user message.
func (e *Engine) RetryUserMessage(ctx context.Context, id string) error {
	if err := e.currentStrategy().RetryUserMessage(ctx, id); err != nil {
		e.surface(err)
		return err
	}
	return nil
}

// RetryAssistantMessage regenerates an assistant message in place.
func (e *Engine) RetryAssistantMessage(ctx context.Context, id string) error {
	if err := e.currentStrategy().RetryAssistantMessage(ctx, id); err != nil {
		e.surface(err)
		return err
	}
	return nil
}

// DeleteMessage removes a message through the active strategy.
func (e *Engine) DeleteMessage(ctx context.Context, id string) error {
	if err := e.currentStrategy().DeleteMessage(ctx, id); err != nil {
		e.surface(err)
		return err
	}
	return nil
}

// StopGeneration flips local state to not-generating synchronously with the
// user's intent, then confirms with the strategy in the background. A
// backend rejection rolls the optimistic flip back.
func (e *Engine) StopGeneration(ctx context.Context) {
	prev := e.sm.Snapshot()
	e.sm.StopGeneration()

	strategy := e.currentStrategy()
	go func() {
		if err := strategy.StopGeneration(ctx); err != nil {
			e.sm.Restore(prev)
			e.surface(err)
		}
	}()
}

// SaveConversation persists an ephemeral chat and adopts the resulting
// conversation id.
func (e *Engine) SaveConversation(ctx context.Context, title string) (string, error) {
	id, err := e.currentStrategy().SaveConversation(ctx, title)
	if err != nil {
		e.surface(err)
		return "", err
	}
	e.notify(func(n backend.Notifier) { n.Success("Conversation saved") })
	return id, nil
}

// AddOptimisticMessage shows a message immediately, before the backend
// confirms it. It is retired automatically when an authoritative message
// with the same role and content arrives.
func (e *Engine) AddOptimisticMessage(msg message.Message) {
	e.pending.AddOptimistic(msg)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.merged = e.pending.Merge(e.authoritative, e.loaded)
}

// ClearOptimisticMessages drops every unconfirmed message.
func (e *Engine) ClearOptimisticMessages() {
	e.pending.ClearOptimistic()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.merged = e.pending.Merge(e.authoritative, e.loaded)
}

// SetConversation points the engine at a different conversation (empty for
// a fresh ephemeral chat) and reselects the strategy. The snapshot loop must
// be restarted by the caller when the id changes.
func (e *Engine) SetConversation(id string) {
	e.Stop()

	e.mu.Lock()
	e.conversationID = id
	e.authoritative = nil
	e.merged = nil
	e.loaded = false
	e.remoteStreaming = false
	e.strategy = e.selectStrategy()
	e.mu.Unlock()

	e.pending.ClearOptimistic()
	e.sm.Reset()
	e.markTransitioning()
}

// SetModel updates the model descriptor and reselects the strategy.
func (e *Engine) SetModel(model *models.Model) {
	e.mu.Lock()
	e.model = model
	e.strategy = e.selectStrategy()
	e.mu.Unlock()
}

// adoptConversation is the save-path handoff: the ephemeral history became
// a persisted conversation, so local state clears and the strategy flips.
func (e *Engine) adoptConversation(id string) {
	e.mu.Lock()
	e.conversationID = id
	e.local = nil
	e.authoritative = nil
	e.merged = nil
	e.loaded = false
	e.strategy = e.selectStrategy()
	e.mu.Unlock()

	e.sm.Reset()
	e.markTransitioning()
}

// IsTransitioning reports the cosmetic transition flag; it self-clears
// shortly after each conversation or save transition.
func (e *Engine) IsTransitioning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.transitioning
}

func (e *Engine) markTransitioning() {
	e.mu.Lock()
	e.transitioning = true
	e.mu.Unlock()

	time.AfterFunc(e.debounce, func() {
		e.mu.Lock()
		e.transitioning = false
		e.mu.Unlock()
	})
}

func (e *Engine) currentStrategy() Strategy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.strategy
}

func (e *Engine) currentModel() *models.Model {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model
}

// surface routes a failure to the error callback and the notifier.
func (e *Engine) surface(err error) {
	if err == nil {
		return
	}
	e.logger.Error("chat operation failed", "error", err)
	if e.onError != nil {
		e.onError(err)
	}
	e.notify(func(n backend.Notifier) { n.Error(err.Error()) })
}

func (e *Engine) notify(fn func(backend.Notifier)) {
	if e.notifier != nil {
		fn(e.notifier)
	}
}

// Local-history helpers for the ephemeral strategy. The engine owns the
// array; the strategy mutates it only through these.

func (e *Engine) localHistory() []message.Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]message.Message, len(e.local))
	copy(out, e.local)
	return out
}

func (e *Engine) appendLocal(msg message.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.local = append(e.local, msg)
}

func (e *Engine) updateLocal(id string, fn func(*message.Message)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.local {
		if e.local[i].ID == id {
			fn(&e.local[i])
			return true
		}
	}
	return false
}

// truncateLocalAfter drops everything after the anchor message, or from it
// when inclusive. Returns false when the anchor is unknown.
func (e *Engine) truncateLocalAfter(id string, inclusive bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.local {
		if e.local[i].ID == id {
			cut := i + 1
			if inclusive {
				cut = i
			}
			e.local = e.local[:cut]
			return true
		}
	}
	return false
}

func (e *Engine) removeLocal(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.local {
		if e.local[i].ID == id {
			e.local = append(e.local[:i], e.local[i+1:]...)
			return true
		}
	}
	return false
}
