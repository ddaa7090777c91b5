package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"github.com/tbourn/go-docchat-core/internal/domain"
)

type fakeStore struct {
	mu sync.Mutex

	chats  map[string]*domain.ChatSession
	msgs   map[string][]domain.Message
	nextID int

	failCreate bool
	failAdd    bool
	failUpdate bool
	failClear  bool
	failDelete bool

	createCalls int
	addCalls    int
	updateCalls int
	clearCalls  int
	deleteCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chats: map[string]*domain.ChatSession{},
		msgs:  map[string][]domain.Message{},
	}
}

func (s *fakeStore) CreateChat(_ context.Context, title, documentID string) (*domain.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if s.failCreate {
		return nil, errors.New("create failed")
	}
	s.nextID++
	chat := &domain.ChatSession{ID: fmt.Sprintf("c%d", s.nextID), Title: title, DocumentID: documentID}
	s.chats[chat.ID] = chat
	return chat, nil
}

func (s *fakeStore) GetChat(_ context.Context, chatID string) (*domain.ChatSession, []domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return nil, nil, errors.New("chat not found")
	}
	out := make([]domain.Message, len(s.msgs[chatID]))
	copy(out, s.msgs[chatID])
	return chat, out, nil
}

func (s *fakeStore) DeleteChat(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls++
	if s.failDelete {
		return errors.New("delete failed")
	}
	delete(s.chats, chatID)
	delete(s.msgs, chatID)
	return nil
}

func (s *fakeStore) AddMessage(_ context.Context, chatID, role, content string, sources []domain.Source) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addCalls++
	if s.failAdd {
		return nil, errors.New("add failed")
	}
	s.nextID++
	msg := domain.Message{ID: fmt.Sprintf("m%d", s.nextID), ChatID: chatID, Role: role, Content: content, Sources: sources}
	s.msgs[chatID] = append(s.msgs[chatID], msg)
	return &msg, nil
}

func (s *fakeStore) UpdateMessage(_ context.Context, chatID, messageID, content string, sources []domain.Source) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	if s.failUpdate {
		return nil, errors.New("update failed")
	}
	for i := range s.msgs[chatID] {
		if s.msgs[chatID][i].ID == messageID {
			s.msgs[chatID][i].Content = content
			if sources != nil {
				s.msgs[chatID][i].Sources = sources
			}
			out := s.msgs[chatID][i]
			return &out, nil
		}
	}
	return nil, errors.New("message not found")
}

func (s *fakeStore) ClearMessages(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearCalls++
	if s.failClear {
		return errors.New("clear failed")
	}
	s.msgs[chatID] = nil
	return nil
}

type askCall struct {
	question     string
	chatID       string
	documentID   string
	regeneration bool
}

type fakeEngine struct {
	mu      sync.Mutex
	calls   []askCall
	answer  domain.Answer
	err     error
	onAsk   func()
}

func (e *fakeEngine) record(c askCall) (*domain.Answer, error) {
	e.mu.Lock()
	e.calls = append(e.calls, c)
	hook := e.onAsk
	answer, err := e.answer, e.err
	e.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	out := answer
	return &out, nil
}

func (e *fakeEngine) AskQuestion(_ context.Context, question, chatID string, regeneration bool) (*domain.Answer, error) {
	return e.record(askCall{question: question, chatID: chatID, regeneration: regeneration})
}

func (e *fakeEngine) AskDocumentQuestion(_ context.Context, documentID, question, chatID string, regeneration bool) (*domain.Answer, error) {
	return e.record(askCall{question: question, chatID: chatID, documentID: documentID, regeneration: regeneration})
}

type fakeResetter struct {
	mu    sync.Mutex
	calls []string
}

func (r *fakeResetter) ResetContext(context.Context) {
	r.mu.Lock()
	r.calls = append(r.calls, "reset")
	r.mu.Unlock()
}

func (r *fakeResetter) ResetForSwitch(ctx context.Context, from, to string) {
	r.mu.Lock()
	r.calls = append(r.calls, "switch:"+from+"->"+to)
	r.mu.Unlock()
}

func newController(store Store, engine Engine, resetter Resetter) *Controller {
	return New(store, engine, resetter, zerolog.Nop())
}

func TestAddUserMessage_LazyChatCreationHappensOnce(t *testing.T) {
	store := newFakeStore()
	c := newController(store, &fakeEngine{}, &fakeResetter{})

	msg, chatID, err := c.AddUserMessage(context.Background(), "  What   is X?  ")
	if err != nil {
		t.Fatalf("AddUserMessage: %v", err)
	}
	if chatID != "c1" || msg.ChatID != "c1" {
		t.Fatalf("chat id = %q / %q, want c1", chatID, msg.ChatID)
	}
	if got := store.chats["c1"].Title; got != "What is X?" {
		t.Errorf("derived title = %q", got)
	}

	if _, chatID2, err := c.AddUserMessage(context.Background(), "and Y?"); err != nil || chatID2 != "c1" {
		t.Fatalf("second message = chat %q err %v, want same chat", chatID2, err)
	}
	if store.createCalls != 1 {
		t.Errorf("CreateChat called %d times, want 1", store.createCalls)
	}
}

func TestAddUserMessage_TitleTruncation(t *testing.T) {
	store := newFakeStore()
	c := newController(store, &fakeEngine{}, &fakeResetter{})
	c.TitleMaxRunes = 5

	if _, _, err := c.AddUserMessage(context.Background(), "abcdefghij"); err != nil {
		t.Fatalf("AddUserMessage: %v", err)
	}
	if got := store.chats["c1"].Title; got != "abcde" {
		t.Errorf("title = %q, want abcde", got)
	}
}

func TestAddUserMessage_PendingFallbackOnWriteFailure(t *testing.T) {
	store := newFakeStore()
	store.failAdd = true
	c := newController(store, &fakeEngine{}, &fakeResetter{})

	msg, chatID, err := c.AddUserMessage(context.Background(), "What is X?")
	if err == nil {
		t.Fatalf("expected write error")
	}
	if chatID != "c1" {
		t.Fatalf("chat id = %q; chat creation should have succeeded", chatID)
	}
	if !msg.Pending || !domain.IsPendingID(msg.ID) {
		t.Errorf("message not pending: %+v", msg)
	}

	st := c.State()
	if len(st.Messages) != 1 || st.Messages[0].ID != msg.ID {
		t.Errorf("pending message not kept locally: %+v", st.Messages)
	}
	if st.LastError == nil {
		t.Errorf("LastError not set")
	}
}

func TestAddAssistantMessage_DefaultTitleFromFilename(t *testing.T) {
	store := newFakeStore()
	c := newController(store, &fakeEngine{}, &fakeResetter{})
	c.DocumentFilename = "annual_report-2025.pdf"
	c.TitleLocale = language.English

	if _, err := c.AddAssistantMessage(context.Background(), "Here is a summary.", nil, ""); err != nil {
		t.Fatalf("AddAssistantMessage: %v", err)
	}
	if got := store.chats["c1"].Title; got != "Annual Report 2025" {
		t.Errorf("title = %q", got)
	}
}

func TestSetDocumentFilename_SeedsLaterDefaultTitles(t *testing.T) {
	store := newFakeStore()
	c := newController(store, &fakeEngine{}, &fakeResetter{})
	c.TitleLocale = language.English

	c.SetDocumentFilename("quarterly_results.pdf")
	if _, err := c.AddAssistantMessage(context.Background(), "Here is a summary.", nil, ""); err != nil {
		t.Fatalf("AddAssistantMessage: %v", err)
	}
	if got := store.chats["c1"].Title; got != "Quarterly Results" {
		t.Errorf("title = %q", got)
	}
}

func TestSetDocumentFilename_SafeWhileControllerInUse(t *testing.T) {
	store := newFakeStore()
	c := newController(store, &fakeEngine{}, &fakeResetter{})

	// The status poller reports the filename from its own goroutine while
	// HTTP-driven operations run; exercised under the race detector.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			c.SetDocumentFilename(fmt.Sprintf("doc%d.pdf", i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if _, err := c.AddAssistantMessage(context.Background(), "a", nil, ""); err != nil {
				t.Errorf("AddAssistantMessage: %v", err)
				return
			}
		}
	}()
	wg.Wait()

	if got := c.State().Messages; len(got) != 50 {
		t.Errorf("transcript length = %d, want 50", len(got))
	}
}

func TestAsk_WritesQuestionAndAnswer(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{answer: domain.Answer{
		Answer:  "X is Y",
		Sources: []domain.Source{{Text: "X equals Y", Metadata: map[string]string{"source": "doc1.pdf"}}},
	}}
	c := newController(store, engine, &fakeResetter{})

	msg, err := c.Ask(context.Background(), "What is X?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if msg.Role != domain.RoleAssistant || msg.Content != "X is Y" {
		t.Fatalf("answer message = %+v", msg)
	}

	st := c.State()
	if len(st.Messages) != 2 || st.Messages[0].Role != domain.RoleUser || st.Messages[1].Role != domain.RoleAssistant {
		t.Fatalf("transcript = %+v", st.Messages)
	}
	if st.Messages[1].Sources[0].Metadata["source"] != "doc1.pdf" {
		t.Errorf("sources not carried: %+v", st.Messages[1].Sources)
	}
	if len(engine.calls) != 1 || engine.calls[0].chatID != "c1" || engine.calls[0].regeneration {
		t.Errorf("engine calls = %+v", engine.calls)
	}
	if st.Loading {
		t.Errorf("loading flag stuck")
	}
}

func TestAsk_DocumentScopedRoutesToDocumentEndpoint(t *testing.T) {
	engine := &fakeEngine{answer: domain.Answer{Answer: "ok"}}
	c := newController(newFakeStore(), engine, &fakeResetter{})
	c.DocumentID = "doc-7"

	if _, err := c.Ask(context.Background(), "What is X?"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if engine.calls[0].documentID != "doc-7" {
		t.Errorf("document id not routed: %+v", engine.calls[0])
	}
}

func TestAsk_EngineFailureKeepsQuestionForRetry(t *testing.T) {
	engine := &fakeEngine{err: errors.New("engine down")}
	c := newController(newFakeStore(), engine, &fakeResetter{})

	if _, err := c.Ask(context.Background(), "What is X?"); err == nil {
		t.Fatalf("expected engine error")
	}

	st := c.State()
	if len(st.Messages) != 1 || st.Messages[0].Role != domain.RoleUser {
		t.Fatalf("user turn not preserved: %+v", st.Messages)
	}
	if st.LastError == nil {
		t.Errorf("LastError not set")
	}
	if c.LastQuestion() != "What is X?" {
		t.Errorf("LastQuestion = %q", c.LastQuestion())
	}
}

func TestAsk_SupersededAnswerIsDiscarded(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{answer: domain.Answer{Answer: "late"}}
	resetter := &fakeResetter{}
	c := newController(store, engine, resetter)

	// The conversation is cleared while the answer is in flight.
	engine.onAsk = func() {
		if err := c.ClearConversation(context.Background()); err != nil {
			t.Errorf("ClearConversation: %v", err)
		}
	}

	_, err := c.Ask(context.Background(), "What is X?")
	if !errors.Is(err, ErrSuperseded) {
		t.Fatalf("err = %v, want ErrSuperseded", err)
	}
	if msgs := c.State().Messages; len(msgs) != 0 {
		t.Errorf("stale answer mutated transcript: %+v", msgs)
	}
}

func TestUpdateUserMessage_PreservesIDAndPosition(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{answer: domain.Answer{Answer: "X is Y"}}
	c := newController(store, engine, &fakeResetter{})

	if _, err := c.Ask(context.Background(), "What is X?"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	userID := c.State().Messages[0].ID

	if err := c.UpdateUserMessage(context.Background(), userID, "What is Z?"); err != nil {
		t.Fatalf("UpdateUserMessage: %v", err)
	}

	msgs := c.State().Messages
	if msgs[0].ID != userID || msgs[0].Content != "What is Z?" {
		t.Fatalf("edit lost id or content: %+v", msgs[0])
	}
	if msgs[0].UpdatedAt == nil {
		t.Errorf("UpdatedAt not stamped")
	}
	if msgs[1].Role != domain.RoleAssistant {
		t.Errorf("edit disturbed ordering: %+v", msgs)
	}
}

func TestUpdateUserMessage_NoActiveConversation(t *testing.T) {
	c := newController(newFakeStore(), &fakeEngine{}, &fakeResetter{})
	if err := c.UpdateUserMessage(context.Background(), "m1", "x"); !errors.Is(err, ErrNoActiveConversation) {
		t.Fatalf("err = %v, want ErrNoActiveConversation", err)
	}
}

func TestUpdateUserMessage_UnknownMessage(t *testing.T) {
	c := newController(newFakeStore(), &fakeEngine{}, &fakeResetter{})
	if _, _, err := c.AddUserMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("AddUserMessage: %v", err)
	}
	if err := c.UpdateUserMessage(context.Background(), "nope", "x"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("err = %v, want ErrMessageNotFound", err)
	}
}

func TestUpdateUserMessage_RemoteFailureStillEditsLocally(t *testing.T) {
	store := newFakeStore()
	c := newController(store, &fakeEngine{}, &fakeResetter{})

	msg, _, err := c.AddUserMessage(context.Background(), "What is X?")
	if err != nil {
		t.Fatalf("AddUserMessage: %v", err)
	}

	store.failUpdate = true
	if err := c.UpdateUserMessage(context.Background(), msg.ID, "What is Z?"); err == nil {
		t.Fatalf("expected remote failure")
	}

	got := c.State().Messages[0]
	if got.Content != "What is Z?" || got.ID != msg.ID || got.UpdatedAt == nil {
		t.Fatalf("local fallback edit missing: %+v", got)
	}
	if c.State().LastError == nil {
		t.Errorf("LastError not set")
	}
}

func TestUpdateUserMessage_PendingMessageReconciledInPlace(t *testing.T) {
	store := newFakeStore()
	c := newController(store, &fakeEngine{}, &fakeResetter{})

	store.failAdd = true
	pending, _, _ := c.AddUserMessage(context.Background(), "What is X?")
	if !pending.Pending {
		t.Fatalf("setup: message should be pending")
	}

	store.failAdd = false
	if err := c.UpdateUserMessage(context.Background(), pending.ID, "What is Z?"); err != nil {
		t.Fatalf("UpdateUserMessage: %v", err)
	}

	got := c.State().Messages[0]
	if got.Pending || domain.IsPendingID(got.ID) {
		t.Fatalf("message still pending after reconcile: %+v", got)
	}
	if got.Content != "What is Z?" {
		t.Errorf("content = %q", got.Content)
	}
}

func TestRegenerateAnswer_TargetsMostRecentAssistantTurn(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{answer: domain.Answer{Answer: "first"}}
	c := newController(store, engine, &fakeResetter{})

	if _, err := c.Ask(context.Background(), "q1"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	engine.answer = domain.Answer{Answer: "second"}
	if _, err := c.Ask(context.Background(), "q2"); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	before := c.State().Messages
	if err := c.RegenerateAnswer(context.Background(), "revised", []domain.Source{{Text: "s"}}); err != nil {
		t.Fatalf("RegenerateAnswer: %v", err)
	}

	msgs := c.State().Messages
	if len(msgs) != 4 {
		t.Fatalf("regenerate changed length: %d", len(msgs))
	}
	if msgs[1].Content != "first" {
		t.Errorf("earlier assistant turn touched: %+v", msgs[1])
	}
	if msgs[3].Content != "revised" || msgs[3].ID != before[3].ID || msgs[3].UpdatedAt == nil {
		t.Errorf("last assistant turn not updated in place: %+v", msgs[3])
	}
}

func TestRegenerateAnswer_NoAssistantTurn(t *testing.T) {
	c := newController(newFakeStore(), &fakeEngine{}, &fakeResetter{})
	if _, _, err := c.AddUserMessage(context.Background(), "q"); err != nil {
		t.Fatalf("AddUserMessage: %v", err)
	}
	if err := c.RegenerateAnswer(context.Background(), "a", nil); !errors.Is(err, ErrNoAssistantMessage) {
		t.Fatalf("err = %v, want ErrNoAssistantMessage", err)
	}
}

func TestAddCompleteExchange_WritesBothTurns(t *testing.T) {
	store := newFakeStore()
	c := newController(store, &fakeEngine{}, &fakeResetter{})

	chatID, err := c.AddCompleteExchange(context.Background(), "What is X?", "X is Y", nil)
	if err != nil {
		t.Fatalf("AddCompleteExchange: %v", err)
	}
	if len(store.msgs[chatID]) != 2 {
		t.Fatalf("remote turns = %d, want 2", len(store.msgs[chatID]))
	}
	msgs := c.State().Messages
	if len(msgs) != 2 || msgs[0].Role != domain.RoleUser || msgs[1].Role != domain.RoleAssistant {
		t.Fatalf("transcript = %+v", msgs)
	}
}

func TestClearConversation_OneClearOneReset(t *testing.T) {
	store := newFakeStore()
	resetter := &fakeResetter{}
	engine := &fakeEngine{answer: domain.Answer{Answer: "a"}}
	c := newController(store, engine, resetter)

	if _, err := c.Ask(context.Background(), "q"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if err := c.ClearConversation(context.Background()); err != nil {
		t.Fatalf("ClearConversation: %v", err)
	}

	if store.clearCalls != 1 {
		t.Errorf("ClearMessages calls = %d, want 1", store.clearCalls)
	}
	if got := resetter.calls; len(got) != 1 || got[0] != "reset" {
		t.Errorf("resetter calls = %v, want exactly one reset", got)
	}
	if msgs := c.State().Messages; len(msgs) != 0 {
		t.Errorf("messages survived clear: %+v", msgs)
	}
}

func TestClearConversation_NoActiveChatSkipsRemoteCall(t *testing.T) {
	store := newFakeStore()
	resetter := &fakeResetter{}
	c := newController(store, &fakeEngine{}, resetter)

	if err := c.ClearConversation(context.Background()); err != nil {
		t.Fatalf("ClearConversation: %v", err)
	}
	if store.clearCalls != 0 {
		t.Errorf("ClearMessages called with no active chat")
	}
	if len(resetter.calls) != 1 {
		t.Errorf("reset still expected: %v", resetter.calls)
	}
}

func TestClearConversation_RemoteFailureStillEmptiesLocally(t *testing.T) {
	store := newFakeStore()
	store.failClear = true
	c := newController(store, &fakeEngine{}, &fakeResetter{})

	if _, _, err := c.AddUserMessage(context.Background(), "q"); err != nil {
		t.Fatalf("AddUserMessage: %v", err)
	}
	if err := c.ClearConversation(context.Background()); err == nil {
		t.Fatalf("expected remote clear error")
	}

	st := c.State()
	if len(st.Messages) != 0 {
		t.Errorf("messages survived failed clear: %+v", st.Messages)
	}
	if st.LastError == nil {
		t.Errorf("LastError not set")
	}
}

func TestLoadChat_ResetIsIssuedBeforeSwitch(t *testing.T) {
	store := newFakeStore()
	resetter := &fakeResetter{}
	c := newController(store, &fakeEngine{}, resetter)

	chat, err := store.CreateChat(context.Background(), "Older chat", "")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if _, _, err := c.AddUserMessage(context.Background(), "q"); err != nil {
		t.Fatalf("AddUserMessage: %v", err)
	}
	active := c.State().ActiveChatID

	if err := c.LoadChat(context.Background(), chat.ID); err != nil {
		t.Fatalf("LoadChat: %v", err)
	}
	want := "switch:" + active + "->" + chat.ID
	if len(resetter.calls) != 1 || resetter.calls[0] != want {
		t.Fatalf("resetter calls = %v, want [%s]", resetter.calls, want)
	}
	if c.State().ActiveChatID != chat.ID {
		t.Errorf("active chat = %q", c.State().ActiveChatID)
	}
}

func TestLoadChat_SameChatIsNoOp(t *testing.T) {
	store := newFakeStore()
	resetter := &fakeResetter{}
	c := newController(store, &fakeEngine{}, resetter)

	if _, _, err := c.AddUserMessage(context.Background(), "q"); err != nil {
		t.Fatalf("AddUserMessage: %v", err)
	}
	active := c.State().ActiveChatID

	if err := c.LoadChat(context.Background(), active); err != nil {
		t.Fatalf("LoadChat: %v", err)
	}
	if len(resetter.calls) != 0 {
		t.Errorf("no-op switch issued resets: %v", resetter.calls)
	}
}

func TestLoadMessages_FailureClearsTranscript(t *testing.T) {
	store := newFakeStore()
	c := newController(store, &fakeEngine{}, &fakeResetter{})

	if _, _, err := c.AddUserMessage(context.Background(), "q"); err != nil {
		t.Fatalf("AddUserMessage: %v", err)
	}
	if err := c.LoadMessages(context.Background(), "missing"); err == nil {
		t.Fatalf("expected load failure")
	}

	st := c.State()
	if st.ActiveChatID != "missing" {
		t.Errorf("active chat = %q, want the requested id", st.ActiveChatID)
	}
	if len(st.Messages) != 0 {
		t.Errorf("stale messages kept after failed load: %+v", st.Messages)
	}
	if st.LastError == nil || st.Loading {
		t.Errorf("state after failed load = %+v", st)
	}
}

func TestLoadChat_FailedSwitchAdoptsRequestedChat(t *testing.T) {
	store := newFakeStore()
	resetter := &fakeResetter{}
	c := newController(store, &fakeEngine{}, resetter)

	if _, _, err := c.AddUserMessage(context.Background(), "q"); err != nil {
		t.Fatalf("AddUserMessage: %v", err)
	}
	previous := c.State().ActiveChatID

	// The reset for the switch has fired by the time the fetch fails, so
	// staying on the previous chat would pair it with reset engine memory
	// and an emptied transcript.
	if err := c.LoadChat(context.Background(), "missing-chat"); err == nil {
		t.Fatalf("expected load failure")
	}

	st := c.State()
	if st.ActiveChatID != "missing-chat" {
		t.Fatalf("active chat = %q, want missing-chat", st.ActiveChatID)
	}
	if len(st.Messages) != 0 || st.LastError == nil {
		t.Errorf("state after failed switch = %+v", st)
	}
	want := "switch:" + previous + "->missing-chat"
	if len(resetter.calls) != 1 || resetter.calls[0] != want {
		t.Errorf("resetter calls = %v, want [%s]", resetter.calls, want)
	}

	// Later writes land in the adopted chat, not the abandoned one.
	if _, chatID, err := c.AddUserMessage(context.Background(), "next"); err != nil || chatID != "missing-chat" {
		t.Errorf("follow-up write went to %q (err %v)", chatID, err)
	}
	if n := len(store.msgs[previous]); n != 1 {
		t.Errorf("abandoned chat gained messages: %d", n)
	}
}

func TestDeleteChat_ActiveChatResetsState(t *testing.T) {
	store := newFakeStore()
	resetter := &fakeResetter{}
	c := newController(store, &fakeEngine{}, resetter)

	_, chatID, err := c.AddUserMessage(context.Background(), "q")
	if err != nil {
		t.Fatalf("AddUserMessage: %v", err)
	}
	if err := c.DeleteChat(context.Background(), chatID); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}

	st := c.State()
	if st.ActiveChatID != "" || len(st.Messages) != 0 {
		t.Errorf("state after delete = %+v", st)
	}
	if len(resetter.calls) != 1 || resetter.calls[0] != "reset" {
		t.Errorf("resetter calls = %v", resetter.calls)
	}
}

func TestDeleteChat_InactiveChatLeavesStateAlone(t *testing.T) {
	store := newFakeStore()
	resetter := &fakeResetter{}
	c := newController(store, &fakeEngine{}, resetter)

	other, err := store.CreateChat(context.Background(), "other", "")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if _, _, err := c.AddUserMessage(context.Background(), "q"); err != nil {
		t.Fatalf("AddUserMessage: %v", err)
	}

	if err := c.DeleteChat(context.Background(), other.ID); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	if c.State().ActiveChatID == "" {
		t.Errorf("active chat dropped for unrelated delete")
	}
	if len(resetter.calls) != 0 {
		t.Errorf("reset issued for inactive delete: %v", resetter.calls)
	}
}

func TestReask_ReplacesLastAnswerWithRegenerationFlag(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{answer: domain.Answer{Answer: "first"}}
	c := newController(store, engine, &fakeResetter{})

	if _, err := c.Ask(context.Background(), "What is X?"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	engine.answer = domain.Answer{Answer: "better"}
	if err := c.Reask(context.Background()); err != nil {
		t.Fatalf("Reask: %v", err)
	}

	last := engine.calls[len(engine.calls)-1]
	if last.question != "What is X?" || !last.regeneration {
		t.Errorf("reask call = %+v", last)
	}
	msgs := c.State().Messages
	if len(msgs) != 2 || msgs[1].Content != "better" {
		t.Errorf("transcript = %+v", msgs)
	}
}

func TestReask_AppendsWhenNoAssistantTurn(t *testing.T) {
	engine := &fakeEngine{answer: domain.Answer{Answer: "recovered"}}
	c := newController(newFakeStore(), engine, &fakeResetter{})

	if _, _, err := c.AddUserMessage(context.Background(), "What is X?"); err != nil {
		t.Fatalf("AddUserMessage: %v", err)
	}
	if err := c.Reask(context.Background()); err != nil {
		t.Fatalf("Reask: %v", err)
	}

	msgs := c.State().Messages
	if len(msgs) != 2 || msgs[1].Role != domain.RoleAssistant || msgs[1].Content != "recovered" {
		t.Errorf("transcript = %+v", msgs)
	}
}

func TestReask_NoQuestion(t *testing.T) {
	c := newController(newFakeStore(), &fakeEngine{}, &fakeResetter{})
	if err := c.Reask(context.Background()); !errors.Is(err, ErrNoQuestion) {
		t.Fatalf("err = %v, want ErrNoQuestion", err)
	}
}

func TestEditQuestion_UpdatesAnswerInPlace(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{answer: domain.Answer{Answer: "old answer"}}
	c := newController(store, engine, &fakeResetter{})

	if _, err := c.Ask(context.Background(), "What is X?"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	before := c.State().Messages
	engine.answer = domain.Answer{Answer: "new answer"}

	if err := c.EditQuestion(context.Background(), before[0].ID, "What is Z?"); err != nil {
		t.Fatalf("EditQuestion: %v", err)
	}

	msgs := c.State().Messages
	if len(msgs) != 2 {
		t.Fatalf("edit appended instead of updating: %+v", msgs)
	}
	if msgs[0].Content != "What is Z?" || msgs[0].ID != before[0].ID {
		t.Errorf("question edit = %+v", msgs[0])
	}
	if msgs[1].Content != "new answer" || msgs[1].ID != before[1].ID {
		t.Errorf("answer not regenerated in place: %+v", msgs[1])
	}

	last := engine.calls[len(engine.calls)-1]
	if last.question != "What is Z?" || !last.regeneration {
		t.Errorf("edit ask call = %+v", last)
	}
}

func TestEditQuestion_RemoteEditFailureStillReasks(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{answer: domain.Answer{Answer: "old"}}
	c := newController(store, engine, &fakeResetter{})

	if _, err := c.Ask(context.Background(), "What is X?"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	userID := c.State().Messages[0].ID

	store.failUpdate = true
	engine.answer = domain.Answer{Answer: "new"}
	if err := c.EditQuestion(context.Background(), userID, "What is Z?"); err != nil {
		t.Fatalf("EditQuestion: %v", err)
	}

	msgs := c.State().Messages
	if msgs[0].Content != "What is Z?" {
		t.Errorf("local edit missing: %+v", msgs[0])
	}
	if msgs[1].Content != "new" {
		t.Errorf("answer not refreshed: %+v", msgs[1])
	}
}

func TestEditQuestion_UnknownMessageAbortsBeforeAsk(t *testing.T) {
	engine := &fakeEngine{answer: domain.Answer{Answer: "x"}}
	c := newController(newFakeStore(), engine, &fakeResetter{})

	if _, _, err := c.AddUserMessage(context.Background(), "q"); err != nil {
		t.Fatalf("AddUserMessage: %v", err)
	}
	if err := c.EditQuestion(context.Background(), "nope", "z"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("err = %v, want ErrMessageNotFound", err)
	}
	if len(engine.calls) != 0 {
		t.Errorf("engine called after failed edit lookup")
	}
}

func TestSubscribe_ListenersSeeSnapshots(t *testing.T) {
	c := newController(newFakeStore(), &fakeEngine{}, &fakeResetter{})

	var mu sync.Mutex
	var seen []int
	unsub := c.Subscribe(func(s State) {
		mu.Lock()
		seen = append(seen, len(s.Messages))
		mu.Unlock()
	})

	if _, _, err := c.AddUserMessage(context.Background(), "q"); err != nil {
		t.Fatalf("AddUserMessage: %v", err)
	}
	mu.Lock()
	n := len(seen)
	mu.Unlock()
	if n == 0 {
		t.Fatalf("listener never notified")
	}

	unsub()
	if _, _, err := c.AddUserMessage(context.Background(), "q2"); err != nil {
		t.Fatalf("AddUserMessage: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != n {
		t.Errorf("listener notified after unsubscribe")
	}
}

func TestLastQuestion_ScansBackwards(t *testing.T) {
	engine := &fakeEngine{answer: domain.Answer{Answer: "a"}}
	c := newController(newFakeStore(), engine, &fakeResetter{})

	if c.LastQuestion() != "" {
		t.Fatalf("LastQuestion on empty transcript = %q", c.LastQuestion())
	}
	if _, err := c.Ask(context.Background(), "q1"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if _, err := c.Ask(context.Background(), "q2"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got := c.LastQuestion(); got != "q2" {
		t.Errorf("LastQuestion = %q, want q2", got)
	}
}
