package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/suPer8Hu/gopherchat/internal/ai"
	"github.com/suPer8Hu/gopherchat/internal/auth"
	"github.com/suPer8Hu/gopherchat/internal/i18n"
	"github.com/suPer8Hu/gopherchat/internal/retry"
)

var noDelay = retry.Policy{MaxAttempts: 3, Delay: func(int) time.Duration { return 0 }}

func testModels() *ai.Registry {
	return ai.NewRegistry(
		ai.Model{ID: "m1", SupportsStreaming: true},
		ai.Model{ID: "m2", SupportsStreaming: true, SupportsDeepThinking: true},
		ai.Model{ID: "m3", SupportsStreaming: true, SupportsDeepThinking: true, SupportsThinkingEffort: true},
	)
}

type recordingStreamer struct {
	mu    sync.Mutex
	calls []ai.Request
	fn    func(ctx context.Context, call int, req ai.Request, onUpdate func(ai.Update)) (string, error)
}

func (r *recordingStreamer) Stream(ctx context.Context, req ai.Request, onUpdate func(ai.Update)) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, req)
	n := len(r.calls)
	r.mu.Unlock()
	return r.fn(ctx, n, req, onUpdate)
}

func (r *recordingStreamer) Calls() []ai.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ai.Request(nil), r.calls...)
}

func newTestService(t *testing.T, model string, streamer ai.Streamer, opts ...Option) (*Service, *Store) {
	t.Helper()
	store := NewStore(model, EffortHigh)
	opts = append([]Option{
		WithRetryPolicy(noDelay),
		WithLocalizer(i18n.New("zh-Hans")),
		WithLogger(zaptest.NewLogger(t)),
	}, opts...)
	return NewService(store, streamer, testModels(), opts...), store
}

func sseBackend(t *testing.T, frames ...string) *ai.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return ai.NewClient(srv.URL, auth.Static("test-token"), zaptest.NewLogger(t))
}

func lastMessage(t *testing.T, s *Store) Message {
	t.Helper()
	msgs := s.Messages()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

func TestSendMessage_HappyPath(t *testing.T) {
	client := sseBackend(t, `{"content":"H"}`, `{"content":"Hi"}`, `{"is_last":true}`)
	svc, store := newTestService(t, "m1", client)
	store.SetDraft("hi")

	id, err := svc.SendMessage(context.Background(), SendRequest{Text: "hi"})
	require.NoError(t, err)

	msgs := store.Messages()
	require.Len(t, msgs, 2)
	assert.False(t, msgs[0].IsAI)
	assert.Equal(t, "hi", msgs[0].Text)
	assert.Equal(t, StatusSent, msgs[0].Status)
	assert.Equal(t, TypeText, msgs[0].Type)

	assert.Equal(t, id, msgs[1].ID)
	assert.True(t, msgs[1].IsAI)
	assert.Equal(t, "Hi", msgs[1].Text)
	assert.Equal(t, StatusSent, msgs[1].Status)
	assert.Equal(t, "m1", msgs[1].Metadata.ModelID)

	assert.False(t, store.IsLoading())
	assert.Empty(t, store.Draft(), "the input buffer is cleared after sending")
}

func TestSendMessage_ReasoningThenContent(t *testing.T) {
	client := sseBackend(t,
		`{"reasoning_content":"Step1"}`,
		`{"reasoning_content":" Step2"}`,
		`{"content":"Answer"}`,
		`[DONE]`,
	)
	svc, store := newTestService(t, "m2", client)

	_, err := svc.SendMessage(context.Background(), SendRequest{Text: "think"})
	require.NoError(t, err)

	m := lastMessage(t, store)
	assert.Equal(t, "Answer", m.Text)
	assert.Equal(t, StatusSent, m.Status)
	assert.Equal(t, "Step1 Step2", m.Metadata.ReasoningContent)
	assert.True(t, m.Metadata.ReasonCompleted)
}

func TestSendMessage_ReasoningDeltasConcatenate(t *testing.T) {
	deltas := []string{"a", "b", " c", "d e", "f"}
	streamer := ai.StreamFunc(func(ctx context.Context, req ai.Request, onUpdate func(ai.Update)) (string, error) {
		reasoning := ""
		for _, d := range deltas {
			reasoning += d
			onUpdate(ai.Update{Reasoning: reasoning})
		}
		onUpdate(ai.Update{Content: "x", Reasoning: reasoning, ReasoningCompleted: true})
		onUpdate(ai.Update{Content: "xy", Reasoning: reasoning, ReasoningCompleted: true})
		return "xy", nil
	})
	svc, store := newTestService(t, "m2", streamer)

	_, err := svc.SendMessage(context.Background(), SendRequest{Text: "q"})
	require.NoError(t, err)

	m := lastMessage(t, store)
	assert.Equal(t, strings.Join(deltas, ""), m.Metadata.ReasoningContent)
	assert.True(t, m.Metadata.ReasonCompleted)
	assert.Equal(t, "xy", m.Text)
}

func TestSendMessage_ServerErrorFrame(t *testing.T) {
	client := sseBackend(t, `{"content":"partial"}`, `{"error":"overloaded"}`, `{"content":"never"}`)
	svc, store := newTestService(t, "m1", client)

	var errs []string
	_, err := svc.SendMessage(context.Background(), SendRequest{
		Text: "hi",
		OnStream: func(u ai.Update) {
			if u.Err != "" {
				errs = append(errs, u.Err)
			}
		},
	})
	require.NoError(t, err)

	m := lastMessage(t, store)
	assert.Equal(t, StatusError, m.Status)
	assert.Contains(t, m.Text, "overloaded")
	assert.Equal(t, "overloaded", m.Metadata.Error)
	assert.Equal(t, []string{"overloaded"}, errs)
}

func TestSendMessage_CancelMidStream(t *testing.T) {
	firstChunk := make(chan struct{})
	streamer := &recordingStreamer{fn: func(ctx context.Context, _ int, _ ai.Request, onUpdate func(ai.Update)) (string, error) {
		onUpdate(ai.Update{Content: "partial", ReasoningCompleted: true})
		close(firstChunk)
		<-ctx.Done()
		// a frame that was already queued when the stop landed
		onUpdate(ai.Update{Content: "partial and more", ReasoningCompleted: true})
		return "partial", ctx.Err()
	}}
	svc, store := newTestService(t, "m1", streamer)

	done := make(chan string, 1)
	go func() {
		id, _ := svc.SendMessage(context.Background(), SendRequest{Text: "hi"})
		done <- id
	}()

	<-firstChunk
	assert.True(t, store.IsLoading())
	svc.Stop()

	var id string
	select {
	case id = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("send did not return after stop")
	}

	m, ok := store.Message(id)
	require.True(t, ok)
	assert.Equal(t, StatusSent, m.Status, "cancellation is not an error")
	assert.True(t, strings.HasPrefix(m.Text, "partial\n\n"), "text so far is kept: %q", m.Text)
	assert.Contains(t, m.Text, "回复已中断")
	assert.Empty(t, m.Metadata.Error)
	assert.False(t, store.IsLoading())
	assert.Len(t, streamer.Calls(), 1, "a cancelled stream is not retried")
}

func TestSendMessage_RetryBudgetExhausted(t *testing.T) {
	streamer := &recordingStreamer{fn: func(_ context.Context, n int, _ ai.Request, _ func(ai.Update)) (string, error) {
		return "", fmt.Errorf("boom %d", n)
	}}
	svc, store := newTestService(t, "m1", streamer)

	_, err := svc.SendMessage(context.Background(), SendRequest{Text: "hi"})
	require.NoError(t, err)

	assert.Len(t, streamer.Calls(), 3)
	m := lastMessage(t, store)
	assert.Equal(t, StatusError, m.Status)
	assert.Equal(t, "抱歉，boom 3", m.Text)
	assert.Equal(t, "boom 3", m.Metadata.Error)
}

func TestSendMessage_RetriesTransientFailure(t *testing.T) {
	streamer := &recordingStreamer{fn: func(_ context.Context, n int, _ ai.Request, onUpdate func(ai.Update)) (string, error) {
		if n == 1 {
			onUpdate(ai.Update{Content: "half", ReasoningCompleted: true})
			return "half", errors.New("connection reset")
		}
		onUpdate(ai.Update{Content: "whole", ReasoningCompleted: true})
		return "whole", nil
	}}
	svc, store := newTestService(t, "m1", streamer)

	_, err := svc.SendMessage(context.Background(), SendRequest{Text: "hi"})
	require.NoError(t, err)

	calls := streamer.Calls()
	require.Len(t, calls, 2)
	assert.Len(t, calls[1].Messages, 1, "the placeholder's partial text is not sent back as history")

	m := lastMessage(t, store)
	assert.Equal(t, "whole", m.Text)
	assert.Equal(t, StatusSent, m.Status)
}

func TestSendMessage_LoginRequiredNotRetried(t *testing.T) {
	streamer := &recordingStreamer{fn: func(context.Context, int, ai.Request, func(ai.Update)) (string, error) {
		return "", fmt.Errorf("ai: status 401: expired: %w", auth.ErrLoginRequired)
	}}
	var hooked error
	svc, store := newTestService(t, "m1", streamer, WithLoginRequired(func(err error) { hooked = err }))

	_, err := svc.SendMessage(context.Background(), SendRequest{Text: "hi"})
	require.NoError(t, err)

	assert.Len(t, streamer.Calls(), 1)
	assert.ErrorIs(t, hooked, auth.ErrLoginRequired)
	m := lastMessage(t, store)
	assert.Equal(t, StatusError, m.Status)
	assert.Equal(t, "抱歉，请先登录后再继续对话", m.Text)
}

func TestSendMessage_RejectsEmpty(t *testing.T) {
	streamer := &recordingStreamer{fn: func(context.Context, int, ai.Request, func(ai.Update)) (string, error) {
		return "", nil
	}}
	svc, store := newTestService(t, "m1", streamer)

	_, err := svc.SendMessage(context.Background(), SendRequest{Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, store.Messages())
	assert.Empty(t, streamer.Calls())
}

func TestSendMessage_RequestShape(t *testing.T) {
	streamer := &recordingStreamer{fn: func(_ context.Context, _ int, _ ai.Request, onUpdate func(ai.Update)) (string, error) {
		onUpdate(ai.Update{Content: "ok", ReasoningCompleted: true})
		return "ok", nil
	}}
	svc, store := newTestService(t, "m1", streamer)
	store.AddMessage(Message{Text: "earlier", Status: StatusSent})
	store.AddMessage(Message{Text: "抱歉，boom", IsAI: true, Status: StatusError})
	store.AddMessage(Message{Text: "", IsAI: true, Status: StatusSent})
	store.AddMessage(Message{Text: "answer", IsAI: true, Status: StatusSent})

	_, err := svc.SendMessage(context.Background(), SendRequest{Text: "look", Images: []string{"data:image/png;base64,AAA"}})
	require.NoError(t, err)

	require.NoError(t, svc.SetModel("m3"))
	_, err = svc.SendMessage(context.Background(), SendRequest{Text: "again"})
	require.NoError(t, err)

	calls := streamer.Calls()
	require.Len(t, calls, 2)

	first := calls[0]
	assert.Equal(t, "m1", first.ModelID)
	assert.Empty(t, first.ReasoningEffort, "m1 takes no thinking effort")
	require.Len(t, first.Messages, 3)
	assert.Equal(t, ai.RoleUser, first.Messages[0].Role)
	assert.Equal(t, ai.RoleAssistant, first.Messages[1].Role)
	assert.Equal(t, "answer", first.Messages[1].Text)
	assert.Equal(t, []string{"data:image/png;base64,AAA"}, first.Messages[2].Images())

	second := calls[1]
	assert.Equal(t, "m3", second.ModelID)
	assert.Equal(t, "high", second.ReasoningEffort)

	user := store.Messages()[4]
	assert.Equal(t, TypeImage, user.Type)
	assert.Equal(t, []string{"data:image/png;base64,AAA"}, user.Metadata.ImageURLs)
}

func TestSendMessage_NewGenerationCancelsPrevious(t *testing.T) {
	started := make(chan struct{})
	streamer := &recordingStreamer{fn: func(ctx context.Context, n int, _ ai.Request, onUpdate func(ai.Update)) (string, error) {
		if n == 1 {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		}
		onUpdate(ai.Update{Content: "second", ReasoningCompleted: true})
		return "second", nil
	}}
	svc, store := newTestService(t, "m1", streamer)

	firstDone := make(chan string, 1)
	go func() {
		id, _ := svc.SendMessage(context.Background(), SendRequest{Text: "one"})
		firstDone <- id
	}()
	<-started

	secondID, err := svc.SendMessage(context.Background(), SendRequest{Text: "two"})
	require.NoError(t, err)
	firstID := <-firstDone

	first, _ := store.Message(firstID)
	second, _ := store.Message(secondID)
	assert.Equal(t, StatusSent, first.Status)
	assert.Equal(t, "回复已中断", first.Text)
	assert.Equal(t, "second", second.Text)
	assert.False(t, store.IsLoading())
}

func TestSendMessage_BindsTopicFromStream(t *testing.T) {
	streamer := ai.StreamFunc(func(_ context.Context, req ai.Request, onUpdate func(ai.Update)) (string, error) {
		onUpdate(ai.Update{TopicID: "t-9", TopicTitle: "Greetings"})
		onUpdate(ai.Update{Content: "hello", ReasoningCompleted: true})
		return "hello", nil
	})
	dir := newFakeDirectory(Topic{ID: "t-9", Title: "Greetings", LastActiveAt: time.Now()})
	svc, store := newTestService(t, "m1", streamer, WithTopicDirectory(dir))

	_, err := svc.SendMessage(context.Background(), SendRequest{Text: "hi"})
	require.NoError(t, err)
	svc.Wait()

	id, title := store.CurrentTopic()
	assert.Equal(t, "t-9", id)
	assert.Equal(t, "Greetings", title)
	assert.Len(t, store.Topics(), 1)
	assert.GreaterOrEqual(t, dir.invalidations(), 1)
}

func TestRetryMessage_ReplaysFromUserTurn(t *testing.T) {
	streamer := &recordingStreamer{fn: func(_ context.Context, _ int, _ ai.Request, onUpdate func(ai.Update)) (string, error) {
		onUpdate(ai.Update{Content: "better", ReasoningCompleted: true})
		return "better", nil
	}}
	svc, store := newTestService(t, "m1", streamer)
	store.AddMessage(Message{ID: "u1", Text: "first", Status: StatusSent})
	store.AddMessage(Message{ID: "a1", Text: "reply", IsAI: true, Status: StatusSent})
	store.AddMessage(Message{ID: "u2", Text: "see", Type: TypeImage, Status: StatusSent,
		Metadata: Metadata{ImageURLs: []string{"data:image/png;base64,BBB"}}})
	store.AddMessage(Message{ID: "a2", Text: "抱歉，boom", IsAI: true, Status: StatusError})
	store.AddMessage(Message{ID: "u3", Text: "later", Status: StatusSent})

	newID, err := svc.RetryMessage(context.Background(), "a2")
	require.NoError(t, err)
	require.NotEmpty(t, newID)
	assert.NotEqual(t, "a2", newID)

	msgs := store.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, []string{"u1", "a1", "u2", newID}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID, msgs[3].ID})
	assert.Equal(t, "better", msgs[3].Text)
	assert.Equal(t, StatusSent, msgs[3].Status)

	calls := streamer.Calls()
	require.Len(t, calls, 1)
	req := calls[0]
	require.Len(t, req.Messages, 3)
	assert.Equal(t, []string{"data:image/png;base64,BBB"}, req.Messages[2].Images())
}

func TestRetryMessage_UsesFixedBudget(t *testing.T) {
	streamer := &recordingStreamer{fn: func(context.Context, int, ai.Request, func(ai.Update)) (string, error) {
		return "", errors.New("down")
	}}
	svc, store := newTestService(t, "m1", streamer,
		WithRetryPolicy(retry.Policy{MaxAttempts: 7, Delay: func(int) time.Duration { return 0 }}))
	store.AddMessage(Message{ID: "u1", Text: "q", Status: StatusSent})
	store.AddMessage(Message{ID: "a1", IsAI: true, Status: StatusError})

	_, err := svc.RetryMessage(context.Background(), "a1")
	require.NoError(t, err)
	assert.Len(t, streamer.Calls(), 3)
}

func TestRetryMessage_NoOps(t *testing.T) {
	streamer := &recordingStreamer{fn: func(context.Context, int, ai.Request, func(ai.Update)) (string, error) {
		return "", nil
	}}
	svc, store := newTestService(t, "m1", streamer)
	store.AddMessage(Message{ID: "a0", Text: "greeting", IsAI: true, Status: StatusSent})
	store.AddMessage(Message{ID: "a1", Text: "more", IsAI: true, Status: StatusSent})

	id, err := svc.RetryMessage(context.Background(), "a1")
	require.NoError(t, err)
	assert.Empty(t, id, "no user message before a1")

	id, err = svc.RetryMessage(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, id)

	assert.Len(t, store.Messages(), 2)
	assert.Empty(t, streamer.Calls())
}

func TestRetryMessage_AfterStop(t *testing.T) {
	var svc *Service
	streamer := &recordingStreamer{fn: func(ctx context.Context, n int, _ ai.Request, onUpdate func(ai.Update)) (string, error) {
		if n == 1 {
			svc.Stop()
			return "", ctx.Err()
		}
		onUpdate(ai.Update{Content: "done", ReasoningCompleted: true})
		return "done", nil
	}}
	svc, store := newTestService(t, "m1", streamer)

	id, err := svc.SendMessage(context.Background(), SendRequest{Text: "hi"})
	require.NoError(t, err)
	m, _ := store.Message(id)
	assert.Equal(t, "回复已中断", m.Text)

	newID, err := svc.RetryMessage(context.Background(), id)
	require.NoError(t, err)
	m, _ = store.Message(newID)
	assert.Equal(t, "done", m.Text)
	assert.Len(t, store.Messages(), 2)
}

type fakeDirectory struct {
	mu          sync.Mutex
	topics      []Topic
	history     map[string][]Message
	deleted     []string
	invalidated int
	block       chan struct{}
}

func newFakeDirectory(topics ...Topic) *fakeDirectory {
	return &fakeDirectory{topics: topics, history: make(map[string][]Message)}
}

func (d *fakeDirectory) List(_ context.Context, f TopicFilter) ([]Topic, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Topic
	for _, t := range d.topics {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (d *fakeDirectory) Invalidate(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.invalidated++
	return nil
}

func (d *fakeDirectory) invalidations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.invalidated
}

func (d *fakeDirectory) Create(_ context.Context, title string) (Topic, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := Topic{ID: fmt.Sprintf("t-%d", len(d.topics)+1), Title: title, LastActiveAt: time.Now()}
	d.topics = append(d.topics, t)
	return t, nil
}

func (d *fakeDirectory) Messages(ctx context.Context, topicID string) ([]Message, error) {
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.history[topicID]
	if !ok {
		return nil, errors.New("topics: not found")
	}
	return h, nil
}

func (d *fakeDirectory) Delete(_ context.Context, topicID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleted = append(d.deleted, topicID)
	kept := d.topics[:0]
	for _, t := range d.topics {
		if t.ID != topicID {
			kept = append(kept, t)
		}
	}
	d.topics = kept
	return nil
}

func TestSwitchTopic_LoadsHistory(t *testing.T) {
	dir := newFakeDirectory(Topic{ID: "t1", Title: "Cooking"}, Topic{ID: "t2", Title: "Travel"})
	dir.history["t2"] = []Message{
		{ID: "h1", Text: "where to?", Status: StatusSent, Type: TypeText},
		{ID: "h2", Text: "Kyoto", IsAI: true, Status: StatusSent, Type: TypeText},
	}
	svc, store := newTestService(t, "m1", nil, WithTopicDirectory(dir))
	require.NoError(t, svc.RefreshTopics(context.Background()))
	store.AddMessage(Message{Text: "unsaved", Status: StatusSent})

	require.NoError(t, svc.SwitchTopic(context.Background(), "t2"))

	id, title := store.CurrentTopic()
	assert.Equal(t, "t2", id)
	assert.Equal(t, "Travel", title)
	msgs := store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Kyoto", msgs[1].Text)
}

func TestSwitchTopic_DropsHistoryOfAbandonedSwitch(t *testing.T) {
	dir := newFakeDirectory(Topic{ID: "t1", Title: "Slow"})
	dir.history["t1"] = []Message{{ID: "h1", Text: "old", Status: StatusSent}}
	dir.block = make(chan struct{})
	svc, store := newTestService(t, "m1", nil, WithTopicDirectory(dir))

	done := make(chan error, 1)
	go func() { done <- svc.SwitchTopic(context.Background(), "t1") }()

	require.Eventually(t, func() bool {
		id, _ := store.CurrentTopic()
		return id == "t1"
	}, time.Second, 5*time.Millisecond)
	svc.NewChat()
	close(dir.block)

	require.NoError(t, <-done)
	assert.Empty(t, store.Messages())
	id, _ := store.CurrentTopic()
	assert.Empty(t, id)
}

func TestSwitchTopic_DirectoryErrorLeavesEmptyConversation(t *testing.T) {
	dir := newFakeDirectory()
	svc, store := newTestService(t, "m1", nil, WithTopicDirectory(dir))

	err := svc.SwitchTopic(context.Background(), "nope")
	assert.Error(t, err)
	assert.Empty(t, store.Messages())
}

func TestDeleteTopic(t *testing.T) {
	dir := newFakeDirectory(Topic{ID: "t1", Title: "Keep"}, Topic{ID: "t2", Title: "Drop"})
	svc, store := newTestService(t, "m1", nil, WithTopicDirectory(dir))
	require.NoError(t, svc.RefreshTopics(context.Background()))
	store.SetCurrentTopic("t2", "Drop")
	store.AddMessage(Message{Text: "in t2", Status: StatusSent})

	var prompt string
	ok, err := svc.DeleteTopic(context.Background(), "t2", ConfirmFunc(func(_ context.Context, p string) bool {
		prompt = p
		return false
	}))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "确定要删除此对话吗？此操作不可撤销。", prompt)
	assert.Empty(t, dir.deleted)

	ok, err = svc.DeleteTopic(context.Background(), "t2", Confirmed(true))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"t2"}, dir.deleted)

	id, _ := store.CurrentTopic()
	assert.Empty(t, id, "deleting the current topic starts a new chat")
	assert.Empty(t, store.Messages())
	topics := store.Topics()
	require.Len(t, topics, 1)
	assert.Equal(t, "t1", topics[0].ID)
}

func TestDeleteTopic_OtherTopicKeepsConversation(t *testing.T) {
	dir := newFakeDirectory(Topic{ID: "t1"}, Topic{ID: "t2"})
	svc, store := newTestService(t, "m1", nil, WithTopicDirectory(dir))
	store.SetCurrentTopic("t1", "")
	store.AddMessage(Message{Text: "still here", Status: StatusSent})

	ok, err := svc.DeleteTopic(context.Background(), "t2", Confirmed(true))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, store.Messages(), 1)
}

func TestCreateTopic(t *testing.T) {
	dir := newFakeDirectory()
	svc, store := newTestService(t, "m1", nil, WithTopicDirectory(dir))

	topic, err := svc.CreateTopic(context.Background(), "Plans")
	require.NoError(t, err)
	id, title := store.CurrentTopic()
	assert.Equal(t, topic.ID, id)
	assert.Equal(t, "Plans", title)
	assert.Len(t, store.Topics(), 1)
}

func TestService_Settings(t *testing.T) {
	svc, store := newTestService(t, "m1", nil)

	assert.ErrorIs(t, svc.SetModel("gpt-unknown"), ErrUnknownModel)
	require.NoError(t, svc.SetModel("m2"))
	assert.Equal(t, "m2", store.CurrentModel())

	assert.ErrorIs(t, svc.SetReasoningEffort("max"), ErrInvalidEffort)
	require.NoError(t, svc.SetReasoningEffort(EffortLow))
	assert.Equal(t, EffortLow, store.ReasoningEffort())

	assert.ErrorIs(t, svc.RefreshTopics(context.Background()), ErrNoTopicDirectory)
}
