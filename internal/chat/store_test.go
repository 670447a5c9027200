package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AddMessageRoundTrip(t *testing.T) {
	s := NewStore("m1", EffortMedium)
	in := Message{
		Text:     "hello",
		Status:   StatusSent,
		Type:     TypeImage,
		Metadata: Metadata{ImageURLs: []string{"data:a"}, ModelID: "m1"},
	}

	added := s.AddMessage(in)
	require.NotEmpty(t, added.ID)
	require.False(t, added.Timestamp.IsZero())

	got, ok := s.Message(added.ID)
	require.True(t, ok)
	assert.Equal(t, added, got)
	assert.Equal(t, in.Text, got.Text)
	assert.Equal(t, in.Status, got.Status)
	assert.Equal(t, in.Metadata, got.Metadata)

	// callers cannot reach into the store through returned slices
	got.Metadata.ImageURLs[0] = "changed"
	again, _ := s.Message(added.ID)
	assert.Equal(t, "data:a", again.Metadata.ImageURLs[0])
}

func TestStore_AddMessageKeepsGivenIDAndTimestamp(t *testing.T) {
	s := NewStore("m1", EffortMedium)
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m := s.AddMessage(Message{ID: "fixed", Timestamp: ts})
	assert.Equal(t, "fixed", m.ID)
	assert.Equal(t, ts, m.Timestamp)
	assert.Equal(t, TypeText, m.Type)
}

func TestStore_UpdateMessageMergesMetadata(t *testing.T) {
	s := NewStore("m1", EffortMedium)
	m := s.AddMessage(Message{IsAI: true, Status: StatusSending, Metadata: Metadata{ModelID: "m2"}})

	require.True(t, s.UpdateMessage(m.ID, MetadataPatch{ReasoningContent: ptr("thinking")}))
	require.True(t, s.UpdateMessage(m.ID, TextPatch{Text: "answer"}, StatusPatch{Status: StatusSending}))

	got, _ := s.Message(m.ID)
	assert.Equal(t, "answer", got.Text)
	assert.Equal(t, "thinking", got.Metadata.ReasoningContent, "a text patch leaves metadata alone")
	assert.Equal(t, "m2", got.Metadata.ModelID, "a reasoning patch leaves other metadata alone")

	assert.False(t, s.UpdateMessage("missing", TextPatch{Text: "x"}))
}

func TestStore_TruncateMessagesFrom(t *testing.T) {
	s := NewStore("m1", EffortMedium)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, s.AddMessage(Message{Text: fmt.Sprint(i)}).ID)
	}

	assert.False(t, s.TruncateMessagesFrom("missing"))
	assert.Len(t, s.Messages(), 5)

	assert.True(t, s.TruncateMessagesFrom(ids[2]))
	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, ids[:2], []string{msgs[0].ID, msgs[1].ID})
}

func TestStore_RemoveMessage(t *testing.T) {
	s := NewStore("m1", EffortMedium)
	a := s.AddMessage(Message{Text: "a"})
	b := s.AddMessage(Message{Text: "b"})

	assert.True(t, s.RemoveMessage(a.ID))
	assert.False(t, s.RemoveMessage(a.ID))
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, b.ID, msgs[0].ID)
}

func TestStore_StopGeneratingIsIdempotent(t *testing.T) {
	s := NewStore("m1", EffortMedium)
	s.StopGenerating()
	assert.False(t, s.IsLoading())

	ctx, _ := s.BeginGeneration(context.Background())
	assert.True(t, s.IsLoading())

	s.StopGenerating()
	s.StopGenerating()
	assert.False(t, s.IsLoading())
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestStore_BeginGenerationCancelsPrevious(t *testing.T) {
	s := NewStore("m1", EffortMedium)
	first, tok1 := s.BeginGeneration(context.Background())
	second, tok2 := s.BeginGeneration(context.Background())

	assert.ErrorIs(t, first.Err(), context.Canceled)
	assert.NoError(t, second.Err())

	assert.False(t, s.EndGeneration(tok1), "a replaced generation no longer owns the slot")
	assert.True(t, s.IsLoading())
	assert.True(t, s.EndGeneration(tok2))
	assert.False(t, s.IsLoading())
}

func TestStore_ClearMessagesResetsConversation(t *testing.T) {
	s := NewStore("m1", EffortMedium)
	s.AddMessage(Message{Text: "a"})
	s.SetCurrentTopic("t1", "Topic")
	s.LoadMoreMessages()
	ctx, _ := s.BeginGeneration(context.Background())

	s.ClearMessages()

	assert.Empty(t, s.Messages())
	id, title := s.CurrentTopic()
	assert.Empty(t, id)
	assert.Empty(t, title)
	assert.False(t, s.IsLoading())
	assert.Error(t, ctx.Err())
	assert.Equal(t, 1, s.Snapshot().CurrentPage)
	assert.Equal(t, "m1", s.CurrentModel(), "settings survive a new chat")
}

func TestStore_BindTopicRequiresMessage(t *testing.T) {
	s := NewStore("m1", EffortMedium)
	m := s.AddMessage(Message{IsAI: true})

	assert.True(t, s.BindTopic(m.ID, "t1", "First"))
	id, _ := s.CurrentTopic()
	assert.Equal(t, "t1", id)

	s.ClearMessages()
	assert.False(t, s.BindTopic(m.ID, "t1", "First"))
	id, _ = s.CurrentTopic()
	assert.Empty(t, id)
}

func TestStore_LoadHistory(t *testing.T) {
	s := NewStore("m1", EffortMedium)
	s.SetCurrentTopic("t1", "")
	s.AddMessage(Message{ID: "new", Text: "typed during load"})

	assert.False(t, s.LoadHistory("t2", []Message{{ID: "x"}}))
	assert.True(t, s.LoadHistory("t1", []Message{{ID: "h1"}, {ID: "h2"}}))

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "h1", msgs[0].ID)
	assert.Equal(t, "new", msgs[2].ID)
}

func TestStore_VisibleMessagesPaging(t *testing.T) {
	s := NewStore("m1", EffortMedium)
	for i := 0; i < PageSize*2+10; i++ {
		s.AddMessage(Message{Text: fmt.Sprint(i)})
	}

	visible := s.VisibleMessages()
	require.Len(t, visible, PageSize)
	assert.Equal(t, fmt.Sprint(PageSize*2+9), visible[len(visible)-1].Text)

	s.LoadMoreMessages()
	assert.Len(t, s.VisibleMessages(), PageSize*2)
	s.LoadMoreMessages()
	assert.Len(t, s.VisibleMessages(), PageSize*2+10)
	assert.Len(t, s.Messages(), PageSize*2+10, "paging never trims the live buffer")
}

func TestStore_Subscribe(t *testing.T) {
	s := NewStore("m1", EffortMedium)
	events, cancel := s.Subscribe(8)

	m := s.AddMessage(Message{Text: "a"})
	s.UpdateMessage(m.ID, TextPatch{Text: "b"})
	s.SetCurrentTopic("t", "T")

	assert.Equal(t, Event{Kind: EventMessages}, <-events)
	assert.Equal(t, Event{Kind: EventMessage, MessageID: m.ID}, <-events)
	assert.Equal(t, Event{Kind: EventTopic}, <-events)

	cancel()
	cancel()
	_, open := <-events
	assert.False(t, open)
	s.AddMessage(Message{Text: "after unsubscribe"})
}

func TestStore_SlowSubscriberDoesNotBlock(t *testing.T) {
	s := NewStore("m1", EffortMedium)
	_, cancel := s.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.AddMessage(Message{Text: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("store blocked on a full subscriber")
	}
}

func TestStore_SnapshotRestore(t *testing.T) {
	s := NewStore("m1", EffortMedium)
	s.AddMessage(Message{ID: "a", Text: "hi"})
	s.SetCurrentModel("m2")
	s.SetReasoningEffort(EffortLow)
	s.SetTopics([]Topic{{ID: "old", LastActiveAt: time.Unix(1, 0)}, {ID: "new", LastActiveAt: time.Unix(2, 0)}})
	s.BeginGeneration(context.Background())

	snap := s.Snapshot()
	assert.True(t, snap.IsLoading)
	assert.Equal(t, []string{"new", "old"}, []string{snap.Topics[0].ID, snap.Topics[1].ID})

	restored := NewStore("default", EffortMedium)
	restored.Restore(snap)
	assert.Equal(t, "m2", restored.CurrentModel())
	assert.Equal(t, EffortLow, restored.ReasoningEffort())
	assert.Len(t, restored.Messages(), 1)
	assert.False(t, restored.IsLoading(), "generation state is never restored")
	assert.Empty(t, restored.Topics())
}

func TestStore_DraftAndError(t *testing.T) {
	s := NewStore("m1", "bogus")
	assert.Equal(t, EffortMedium, s.ReasoningEffort())

	s.SetDraft("typing")
	assert.Equal(t, "typing", s.Draft())
	s.SetError("offline")
	assert.Equal(t, "offline", s.Err())
}
