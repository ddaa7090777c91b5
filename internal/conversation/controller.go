// Package conversation implements the controller that owns the active chat
// session and its ordered message list. It is the single writer for that
// state: chat allocation is lazy and happens at most once, edits and
// regenerations mutate messages in place without disturbing order, and every
// remote-backed operation has a documented local fallback so the visible
// transcript stays consistent even when persistence fails.
//
// Failure policy: no operation lets a remote failure escape uncaught to the
// presentation layer. Failures are captured into the LastError state (and
// returned, so programmatic callers can branch); subscribers observe state,
// not exceptions.
//
// Concurrency: operations serialize through the controller's mutex rather
// than relying on caller discipline. The QA round-trip in Ask/Reask/
// EditQuestion deliberately runs outside the lock; a monotonic generation
// counter, advanced on every switch/clear/delete, is captured before the
// round-trip and checked after it so a late answer can never mutate a chat
// the user has already left.
package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"

	"github.com/tbourn/go-docchat-core/internal/domain"
)

// Store is the session store contract required by the controller.
type Store interface {
	CreateChat(ctx context.Context, title, documentID string) (*domain.ChatSession, error)
	GetChat(ctx context.Context, chatID string) (*domain.ChatSession, []domain.Message, error)
	DeleteChat(ctx context.Context, chatID string) error
	AddMessage(ctx context.Context, chatID, role, content string, sources []domain.Source) (*domain.Message, error)
	UpdateMessage(ctx context.Context, chatID, messageID, content string, sources []domain.Source) (*domain.Message, error)
	ClearMessages(ctx context.Context, chatID string) error
}

// Engine is the QA engine contract required by the controller.
type Engine interface {
	AskQuestion(ctx context.Context, question, chatID string, regeneration bool) (*domain.Answer, error)
	AskDocumentQuestion(ctx context.Context, documentID, question, chatID string, regeneration bool) (*domain.Answer, error)
}

// Resetter isolates QA engine memory at chat boundaries
// (see internal/isolation).
type Resetter interface {
	ResetContext(ctx context.Context)
	ResetForSwitch(ctx context.Context, from, to string)
}

// History is the optional local transcript cache (see internal/history).
type History interface {
	SaveTranscript(chatID string, messages []domain.Message) error
	RemoveTranscript(chatID string) error
}

// State is an immutable snapshot of the controller's observable state.
type State struct {
	ActiveChatID string
	Messages     []domain.Message
	Loading      bool
	LastError    error
}

// Listener receives state snapshots after every change.
type Listener func(State)

// Controller owns one conversation's state. Construct with New; the zero
// value is not usable. Safe for concurrent use.
type Controller struct {
	store    Store
	engine   Engine
	resetter Resetter
	log      zerolog.Logger

	// History, when set, receives a best-effort transcript snapshot after
	// every local mutation. Failures are logged only.
	History History

	// DocumentID scopes the conversation (and QA calls) to one uploaded
	// document. Empty means corpus-wide questions.
	DocumentID string
	// DocumentFilename, when known, seeds the default title for chats
	// created without a user prompt. Use SetDocumentFilename to change it
	// once the controller is in use.
	DocumentFilename string

	// TitleMaxRunes caps derived chat titles; <= 0 selects the default.
	TitleMaxRunes int
	// TitleLocale drives filename title casing; Und means English.
	TitleLocale language.Tag

	mu           sync.Mutex
	activeChatID string
	messages     []domain.Message
	loading      bool
	lastErr      error
	generation   uint64
	listeners    map[int]Listener
	nextListener int
}

// New constructs a Controller. resetter and the exported optional fields may
// be customized before first use.
func New(store Store, engine Engine, resetter Resetter, log zerolog.Logger) *Controller {
	return &Controller{
		store:       store,
		engine:      engine,
		resetter:    resetter,
		log:         log.With().Str("component", "conversation").Logger(),
		TitleLocale: language.Und,
		listeners:   map[int]Listener{},
	}
}

// State returns a snapshot of the observable state. The message slice is a
// copy; callers may hold it across controller mutations.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers a listener invoked (with a fresh snapshot) after every
// state change. The returned function unsubscribes.
func (c *Controller) Subscribe(fn Listener) func() {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// SetDocumentFilename updates the filename that seeds default chat titles.
// Unlike direct field assignment, it is safe after the controller is in use;
// the status poller reports the filename asynchronously once ingestion
// finishes.
func (c *Controller) SetDocumentFilename(name string) {
	c.mu.Lock()
	c.DocumentFilename = name
	c.mu.Unlock()
}

// LastQuestion returns the content of the most recent user turn, or "" when
// none exists. Supports retry without callers re-deriving transcript state.
func (c *Controller) LastQuestion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == domain.RoleUser {
			return c.messages[i].Content
		}
	}
	return ""
}

// LoadMessages fetches a chat and its messages, replacing local state
// wholesale. The requested chat becomes the active one even when the fetch
// fails: by this point any context reset for the switch has already been
// issued, so falling back to the previous id would leave later writes aimed
// at a chat whose transcript and engine memory are gone. Failure recovery is
// the new id with an empty message list and LastError set.
func (c *Controller) LoadMessages(ctx context.Context, chatID string) error {
	ctx, span := c.span(ctx, "LoadMessages", chatID)
	defer span.End()
	defer c.publish()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.loading = true
	_, msgs, err := c.store.GetChat(ctx, chatID)
	c.loading = false
	c.activeChatID = chatID
	if err != nil {
		c.messages = nil
		c.lastErr = err
		c.log.Warn().Str("chat_id", chatID).Err(err).Msg("load messages failed")
		return err
	}

	c.messages = msgs
	c.lastErr = nil
	return nil
}

// AddUserMessage writes a user turn, creating a chat first when none is
// active (title derived by truncating content). It returns the message and
// the chat id actually used: callers pairing this with an answer call must
// use the returned id, not the controller's cached one, to stay immune to
// near-simultaneous first messages racing to create a chat.
//
// On remote failure the returned message is a pending one, appended locally
// so the transcript is never silently dropped; the error is also returned
// and captured into LastError.
func (c *Controller) AddUserMessage(ctx context.Context, content string) (domain.Message, string, error) {
	ctx, span := c.span(ctx, "AddUserMessage", "")
	defer span.End()
	defer c.publish()

	c.mu.Lock()
	defer c.mu.Unlock()

	chatID, err := c.ensureChatLocked(ctx, DeriveTitle(content, c.TitleMaxRunes))
	if err != nil {
		pending := domain.NewPendingMessage(chatID, domain.RoleUser, content, nil)
		c.appendLocked(pending)
		c.lastErr = err
		return pending, chatID, err
	}
	msg, err := c.writeMessageLocked(ctx, chatID, domain.RoleUser, content, nil)
	return msg, chatID, err
}

// AddAssistantMessage writes an assistant turn. chatIDHint, when non-empty,
// names the chat to write to (callers supply the id returned by the paired
// AddUserMessage); otherwise the active chat is used, and a chat with a
// default title is created if none exists. Same pending fallback as
// AddUserMessage.
func (c *Controller) AddAssistantMessage(ctx context.Context, content string, sources []domain.Source, chatIDHint string) (domain.Message, error) {
	ctx, span := c.span(ctx, "AddAssistantMessage", chatIDHint)
	defer span.End()
	defer c.publish()

	c.mu.Lock()
	defer c.mu.Unlock()

	chatID := chatIDHint
	if chatID == "" {
		var err error
		chatID, err = c.ensureChatLocked(ctx, c.defaultTitle())
		if err != nil {
			pending := domain.NewPendingMessage(chatID, domain.RoleAssistant, content, sources)
			c.appendLocked(pending)
			c.lastErr = err
			return pending, err
		}
	}
	return c.writeMessageLocked(ctx, chatID, domain.RoleAssistant, content, sources)
}

// UpdateUserMessage rewrites an existing message's content in place,
// preserving id and position. It requires an active chat. On remote failure
// the content change is still applied to the local copy (explicit
// best-effort fallback) and LastError is set.
func (c *Controller) UpdateUserMessage(ctx context.Context, messageID, newContent string) error {
	ctx, span := c.span(ctx, "UpdateUserMessage", "")
	defer span.End()
	defer c.publish()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeChatID == "" {
		c.lastErr = ErrNoActiveConversation
		return ErrNoActiveConversation
	}
	idx := c.indexOfLocked(messageID)
	if idx < 0 {
		c.lastErr = ErrMessageNotFound
		return ErrMessageNotFound
	}
	return c.rewriteAtLocked(ctx, idx, newContent, c.messages[idx].Sources)
}

// RegenerateAnswer replaces the content and sources of the most recent
// assistant turn, stamping UpdatedAt, without changing its position. It fails
// with ErrNoAssistantMessage when the transcript holds no assistant turn. On
// remote failure the same in-place mutation is applied locally only.
func (c *Controller) RegenerateAnswer(ctx context.Context, newContent string, newSources []domain.Source) error {
	ctx, span := c.span(ctx, "RegenerateAnswer", "")
	defer span.End()
	defer c.publish()

	c.mu.Lock()
	defer c.mu.Unlock()

	idx := -1
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == domain.RoleAssistant {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.lastErr = ErrNoAssistantMessage
		return ErrNoAssistantMessage
	}
	return c.rewriteAtLocked(ctx, idx, newContent, newSources)
}

// AddCompleteExchange writes a question/answer pair as two sequential store
// calls, creating a chat first when needed. The pair is not atomic: a failure
// between the two leaves a chat holding only the user turn. That gap is
// accepted and surfaced through the returned error, not hidden.
func (c *Controller) AddCompleteExchange(ctx context.Context, question, answer string, sources []domain.Source) (string, error) {
	ctx, span := c.span(ctx, "AddCompleteExchange", "")
	defer span.End()
	defer c.publish()

	c.mu.Lock()
	defer c.mu.Unlock()

	chatID, err := c.ensureChatLocked(ctx, DeriveTitle(question, c.TitleMaxRunes))
	if err != nil {
		c.lastErr = err
		return "", err
	}
	if _, uerr := c.writeMessageLocked(ctx, chatID, domain.RoleUser, question, nil); uerr != nil {
		return chatID, uerr
	}
	_, aerr := c.writeMessageLocked(ctx, chatID, domain.RoleAssistant, answer, sources)
	return chatID, aerr
}

// ClearConversation requests a QA context reset and, when a chat is active,
// clears its messages remotely and locally. The reset is issued regardless of
// the clear's outcome.
func (c *Controller) ClearConversation(ctx context.Context) error {
	ctx, span := c.span(ctx, "ClearConversation", "")
	defer span.End()
	defer c.publish()

	if c.resetter != nil {
		c.resetter.ResetContext(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeChatID == "" {
		return nil
	}
	c.generation++

	err := c.store.ClearMessages(ctx, c.activeChatID)
	if err != nil {
		c.lastErr = err
		c.log.Warn().Str("chat_id", c.activeChatID).Err(err).Msg("remote clear failed")
	}
	c.messages = nil
	c.saveHistoryLocked()
	return err
}

// LoadChat switches the active conversation. When the requested id differs
// from the current one, a context reset is requested first (best-effort; a
// reset failure never blocks the switch), then the active id is updated by
// loading the chat. Switching to the already-active id is a no-op.
func (c *Controller) LoadChat(ctx context.Context, chatID string) error {
	c.mu.Lock()
	current := c.activeChatID
	if chatID == current {
		c.mu.Unlock()
		return nil
	}
	c.generation++
	c.mu.Unlock()

	// Reset is issued before the active id changes.
	if c.resetter != nil {
		c.resetter.ResetForSwitch(ctx, current, chatID)
	}
	return c.LoadMessages(ctx, chatID)
}

// DeleteChat removes a chat remotely. When it was the active chat, local
// state resets to "no active chat" and a context reset is requested.
func (c *Controller) DeleteChat(ctx context.Context, chatID string) error {
	ctx, span := c.span(ctx, "DeleteChat", chatID)
	defer span.End()
	defer c.publish()

	c.mu.Lock()
	if err := c.store.DeleteChat(ctx, chatID); err != nil {
		c.lastErr = err
		c.mu.Unlock()
		return err
	}
	wasActive := chatID == c.activeChatID
	if wasActive {
		c.activeChatID = ""
		c.messages = nil
		c.generation++
	}
	if c.History != nil {
		if err := c.History.RemoveTranscript(chatID); err != nil {
			c.log.Warn().Err(err).Msg("history removal failed")
		}
	}
	c.mu.Unlock()

	if wasActive && c.resetter != nil {
		c.resetter.ResetContext(ctx)
	}
	return nil
}

// Ask runs one full turn: write the user message (allocating a chat when
// needed), ask the QA engine, then write the answer to the chat id returned
// by the user write. The QA round-trip happens outside the controller lock;
// if the active chat changed meanwhile, the answer is discarded and
// ErrSuperseded returned. A QA failure leaves the user turn in place (retry
// via Reask) and sets LastError.
func (c *Controller) Ask(ctx context.Context, question string) (*domain.Message, error) {
	ctx, span := c.span(ctx, "Ask", "")
	defer span.End()

	c.setLoading(true)
	defer c.setLoading(false)

	_, chatID, _ := c.AddUserMessage(ctx, question)
	gen := c.currentGeneration()

	answer, err := c.ask(ctx, question, chatID, false)
	if err != nil {
		c.setLastError(err)
		return nil, err
	}
	if c.currentGeneration() != gen {
		c.log.Info().Str("chat_id", chatID).Msg("discarding stale answer")
		return nil, ErrSuperseded
	}

	msg, aerr := c.AddAssistantMessage(ctx, answer.Answer, answer.Sources, chatID)
	if aerr != nil {
		return &msg, aerr
	}
	return &msg, nil
}

// Reask re-asks the most recent question and replaces the most recent
// assistant turn with the fresh answer. When the transcript holds a user
// turn but no assistant turn (e.g. the prior ask failed), the answer is
// appended instead.
func (c *Controller) Reask(ctx context.Context) error {
	ctx, span := c.span(ctx, "Reask", "")
	defer span.End()

	question := c.LastQuestion()
	if question == "" {
		c.setLastError(ErrNoQuestion)
		return ErrNoQuestion
	}

	c.setLoading(true)
	defer c.setLoading(false)

	chatID := c.State().ActiveChatID
	gen := c.currentGeneration()

	answer, err := c.ask(ctx, question, chatID, true)
	if err != nil {
		c.setLastError(err)
		return err
	}
	if c.currentGeneration() != gen {
		return ErrSuperseded
	}

	err = c.RegenerateAnswer(ctx, answer.Answer, answer.Sources)
	if errors.Is(err, ErrNoAssistantMessage) {
		_, err = c.AddAssistantMessage(ctx, answer.Answer, answer.Sources, chatID)
	}
	return err
}

// EditQuestion rewrites a past user turn in place, then issues a new answer
// call and updates the immediately following assistant turn (the most recent
// one) in place rather than appending. The edit's local fallback applies
// even when the remote update fails, so the new answer call always reflects
// the edited question.
func (c *Controller) EditQuestion(ctx context.Context, messageID, newContent string) error {
	ctx, span := c.span(ctx, "EditQuestion", "")
	defer span.End()

	if err := c.UpdateUserMessage(ctx, messageID, newContent); err != nil {
		switch {
		case errors.Is(err, ErrNoActiveConversation), errors.Is(err, ErrMessageNotFound):
			return err
		default:
			// Remote write failed but the local copy was edited; the
			// re-ask still proceeds against the edited question.
		}
	}

	c.setLoading(true)
	defer c.setLoading(false)

	chatID := c.State().ActiveChatID
	gen := c.currentGeneration()

	answer, err := c.ask(ctx, newContent, chatID, true)
	if err != nil {
		c.setLastError(err)
		return err
	}
	if c.currentGeneration() != gen {
		return ErrSuperseded
	}
	return c.RegenerateAnswer(ctx, answer.Answer, answer.Sources)
}

// --- internals ---

// ask routes to the document-scoped endpoint when the controller is bound to
// a document.
func (c *Controller) ask(ctx context.Context, question, chatID string, regeneration bool) (*domain.Answer, error) {
	if c.DocumentID != "" {
		return c.engine.AskDocumentQuestion(ctx, c.DocumentID, question, chatID, regeneration)
	}
	return c.engine.AskQuestion(ctx, question, chatID, regeneration)
}

// ensureChatLocked returns the active chat id, creating the chat lazily
// (at most once) when none is active. Caller holds c.mu.
func (c *Controller) ensureChatLocked(ctx context.Context, title string) (string, error) {
	if c.activeChatID != "" {
		return c.activeChatID, nil
	}
	chat, err := c.store.CreateChat(ctx, title, c.DocumentID)
	if err != nil {
		return "", err
	}
	c.activeChatID = chat.ID
	c.log.Info().Str("chat_id", chat.ID).Str("title", chat.Title).Msg("chat created")
	return chat.ID, nil
}

// writeMessageLocked persists one turn and appends it locally; on failure it
// appends a pending message instead. Caller holds c.mu.
func (c *Controller) writeMessageLocked(ctx context.Context, chatID, role, content string, sources []domain.Source) (domain.Message, error) {
	msg, err := c.store.AddMessage(ctx, chatID, role, content, sources)
	if err != nil {
		pending := domain.NewPendingMessage(chatID, role, content, sources)
		c.appendLocked(pending)
		c.lastErr = err
		c.log.Warn().Str("chat_id", chatID).Str("role", role).Err(err).
			Msg("message write failed; keeping pending copy")
		return pending, err
	}
	c.appendLocked(*msg)
	c.lastErr = nil
	return *msg, nil
}

// rewriteAtLocked updates messages[idx] remotely and in place, stamping
// UpdatedAt. Pending messages cannot be addressed remotely, so they are
// re-written as fresh store messages and reconciled in place on success. Any
// remote failure falls back to mutating the local copy only. Caller holds
// c.mu.
func (c *Controller) rewriteAtLocked(ctx context.Context, idx int, content string, sources []domain.Source) error {
	target := c.messages[idx]
	now := time.Now().UTC()

	if target.Pending {
		persisted, err := c.store.AddMessage(ctx, target.ChatID, target.Role, content, sources)
		if err == nil {
			persisted.UpdatedAt = &now
			c.messages[idx] = target.Reconcile(*persisted)
			c.lastErr = nil
			c.saveHistoryLocked()
			return nil
		}
		c.mutateLocalAtLocked(idx, content, sources, now)
		c.lastErr = err
		return err
	}

	updated, err := c.store.UpdateMessage(ctx, target.ChatID, target.ID, content, sources)
	if err != nil {
		c.mutateLocalAtLocked(idx, content, sources, now)
		c.lastErr = err
		return err
	}
	if updated.UpdatedAt == nil {
		updated.UpdatedAt = &now
	}
	updated.ID = target.ID // position and identity are invariant
	c.messages[idx] = *updated
	c.lastErr = nil
	c.saveHistoryLocked()
	return nil
}

// mutateLocalAtLocked applies the best-effort local edit when the remote
// write failed. Caller holds c.mu.
func (c *Controller) mutateLocalAtLocked(idx int, content string, sources []domain.Source, now time.Time) {
	c.messages[idx].Content = content
	if sources != nil {
		c.messages[idx].Sources = sources
	}
	c.messages[idx].UpdatedAt = &now
	c.saveHistoryLocked()
}

// appendLocked adds a message to the transcript and snapshots history.
// Caller holds c.mu.
func (c *Controller) appendLocked(m domain.Message) {
	c.messages = append(c.messages, m)
	c.saveHistoryLocked()
}

// saveHistoryLocked snapshots the transcript into the local cache,
// best-effort. Caller holds c.mu.
func (c *Controller) saveHistoryLocked() {
	if c.History == nil || c.activeChatID == "" {
		return
	}
	if err := c.History.SaveTranscript(c.activeChatID, c.messages); err != nil {
		c.log.Warn().Err(err).Msg("history snapshot failed")
	}
}

func (c *Controller) indexOfLocked(messageID string) int {
	for i := range c.messages {
		if c.messages[i].ID == messageID {
			return i
		}
	}
	return -1
}

func (c *Controller) defaultTitle() string {
	if c.DocumentFilename != "" {
		return TitleFromFilename(c.DocumentFilename, c.TitleLocale)
	}
	return DefaultTitle
}

func (c *Controller) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *Controller) setLoading(v bool) {
	c.mu.Lock()
	c.loading = v
	c.mu.Unlock()
	c.publish()
}

func (c *Controller) setLastError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.publish()
}

func (c *Controller) snapshotLocked() State {
	msgs := make([]domain.Message, len(c.messages))
	copy(msgs, c.messages)
	return State{
		ActiveChatID: c.activeChatID,
		Messages:     msgs,
		Loading:      c.loading,
		LastError:    c.lastErr,
	}
}

// publish delivers a fresh snapshot to all listeners, outside the lock so a
// listener may call back into the controller.
func (c *Controller) publish() {
	c.mu.Lock()
	snap := c.snapshotLocked()
	fns := make([]Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (c *Controller) span(ctx context.Context, op, chatID string) (context.Context, trace.Span) {
	tr := otel.Tracer("conversation/Controller")
	opts := []trace.SpanStartOption{}
	if chatID != "" {
		opts = append(opts, trace.WithAttributes(attribute.String("chat.id", chatID)))
	}
	return tr.Start(ctx, op, opts...)
}
