package chat

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/suPer8Hu/gopherchat/internal/common"
)

// PageSize is the number of messages per visible page.
const PageSize = 50

type EventKind string

const (
	EventMessages   EventKind = "messages"
	EventMessage    EventKind = "message"
	EventTopic      EventKind = "topic"
	EventTopics     EventKind = "topics"
	EventLoading    EventKind = "loading"
	EventSettings   EventKind = "settings"
	EventDraft      EventKind = "draft"
	EventError      EventKind = "error"
	EventPagination EventKind = "pagination"
)

// Event tells subscribers that part of the state changed. MessageID is set
// for EventMessage.
type Event struct {
	Kind      EventKind `json:"kind"`
	MessageID string    `json:"message_id,omitempty"`
}

// Snapshot is a copy of the store state.
type Snapshot struct {
	Messages          []Message       `json:"messages"`
	Topics            []Topic         `json:"topics"`
	CurrentTopicID    string          `json:"current_topic_id"`
	CurrentTopicTitle string          `json:"current_topic_title"`
	CurrentModel      string          `json:"current_model"`
	ReasoningEffort   ReasoningEffort `json:"reasoning_effort"`
	IsLoading         bool            `json:"is_loading"`
	Draft             string          `json:"draft"`
	Error             string          `json:"error,omitempty"`
	CurrentPage       int             `json:"current_page"`
}

// GenerationToken identifies one generation installed in the store.
type GenerationToken uint64

type generation struct {
	token  GenerationToken
	cancel context.CancelFunc
}

// Store is the in-memory conversation state. Every method is one atomic step;
// the store is safe for use from stream goroutines and request handlers at
// the same time.
type Store struct {
	mu sync.Mutex

	messages          []Message
	topics            map[string]Topic
	currentTopicID    string
	currentTopicTitle string
	currentModel      string
	reasoningEffort   ReasoningEffort
	draft             string
	err               string
	page              int

	gen     *generation
	lastGen GenerationToken

	subs    map[int]chan Event
	nextSub int

	now func() time.Time
}

func NewStore(model string, effort ReasoningEffort) *Store {
	if !effort.Valid() {
		effort = EffortMedium
	}
	return &Store{
		topics:          make(map[string]Topic),
		currentModel:    model,
		reasoningEffort: effort,
		page:            1,
		subs:            make(map[int]chan Event),
		now:             time.Now,
	}
}

// Subscribe returns a channel of change events. Delivery never blocks the
// store: when the buffer is full the event is dropped, so subscribers should
// treat an event as "re-read the state". Call cancel to unsubscribe.
func (s *Store) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// emit must be called with s.mu held.
func (s *Store) emit(ev Event) {
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// AddMessage appends m, assigning an id and timestamp when they are unset,
// and returns the stored message.
func (s *Store) AddMessage(m Message) Message {
	m = m.clone()
	if m.ID == "" {
		m.ID = common.MustULID()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	if m.Type == "" {
		m.Type = TypeText
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	s.emit(Event{Kind: EventMessages})
	return m.clone()
}

// UpdateMessage applies patches to the message with id. It reports false,
// changing nothing, when no such message exists.
func (s *Store) UpdateMessage(id string, patches ...Patch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.messages[i] = Apply(s.messages[i], patches...)
	s.emit(Event{Kind: EventMessage, MessageID: id})
	return true
}

// RemoveMessage deletes one message.
func (s *Store) RemoveMessage(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.messages = slices.Delete(s.messages, i, i+1)
	s.emit(Event{Kind: EventMessages})
	return true
}

// TruncateMessagesFrom removes the message with id and every message after
// it. An unknown id changes nothing.
func (s *Store) TruncateMessagesFrom(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	clear(s.messages[i:])
	s.messages = s.messages[:i]
	s.emit(Event{Kind: EventMessages})
	return true
}

// ClearMessages empties the buffer for a new or different conversation. Any
// running generation is cancelled and the topic binding is dropped.
func (s *Store) ClearMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.page = 1
	s.err = ""
	s.currentTopicID, s.currentTopicTitle = "", ""
	s.stopLocked()
	s.emit(Event{Kind: EventMessages})
	s.emit(Event{Kind: EventTopic})
}

// SetMessages replaces the whole buffer.
func (s *Store) SetMessages(msgs []Message) {
	cp := make([]Message, len(msgs))
	for i, m := range msgs {
		cp[i] = m.clone()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = cp
	s.page = 1
	s.emit(Event{Kind: EventMessages})
}

// LoadHistory puts a topic's stored history in front of the buffer, keeping
// anything added since the switch. It does nothing and reports false when
// topicID is no longer the current topic.
func (s *Store) LoadHistory(topicID string, history []Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentTopicID != topicID {
		return false
	}
	msgs := make([]Message, 0, len(history)+len(s.messages))
	for _, m := range history {
		msgs = append(msgs, m.clone())
	}
	s.messages = append(msgs, s.messages...)
	s.page = 1
	s.emit(Event{Kind: EventMessages})
	return true
}

func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyMessages(s.messages)
}

// Message returns a copy of the message with id.
func (s *Store) Message(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return Message{}, false
	}
	return s.messages[i].clone(), true
}

// VisibleMessages returns the newest CurrentPage*PageSize messages.
func (s *Store) VisibleMessages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.page * PageSize
	msgs := s.messages
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return s.copyMessages(msgs)
}

// LoadMoreMessages widens the visible window by one page.
func (s *Store) LoadMoreMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page++
	s.emit(Event{Kind: EventPagination})
}

func (s *Store) indexOf(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(s.messages, func(m Message) bool { return m.ID == id })
}

func (s *Store) copyMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.clone()
	}
	return out
}

// BeginGeneration installs a new cancellable context derived from parent as
// the one running generation. A generation that is still running is
// cancelled first; its late updates must not reach the new turn.
func (s *Store) BeginGeneration(parent context.Context) (context.Context, GenerationToken) {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.lastGen++
	s.gen = &generation{token: s.lastGen, cancel: cancel}
	s.emit(Event{Kind: EventLoading})
	return ctx, s.lastGen
}

// EndGeneration clears the generation slot if tok still owns it. It reports
// whether it did; a generation that was stopped or replaced has nothing left
// to clear.
func (s *Store) EndGeneration(tok GenerationToken) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == nil || s.gen.token != tok {
		return false
	}
	s.gen.cancel()
	s.gen = nil
	s.emit(Event{Kind: EventLoading})
	return true
}

// StopGenerating cancels the running generation, if any, and marks the store
// idle. Calling it again is harmless.
func (s *Store) StopGenerating() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopLocked() {
		s.emit(Event{Kind: EventLoading})
	}
}

func (s *Store) stopLocked() bool {
	if s.gen == nil {
		return false
	}
	s.gen.cancel()
	s.gen = nil
	return true
}

// IsLoading reports whether a generation is running.
func (s *Store) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != nil
}

func (s *Store) SetCurrentTopic(id, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTopicID, s.currentTopicTitle = id, title
	s.emit(Event{Kind: EventTopic})
}

// BindTopic sets the current topic for the conversation that messageID
// belongs to. It does nothing and reports false once messageID has left the
// buffer, i.e. the user moved to another conversation.
func (s *Store) BindTopic(messageID, id, title string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(messageID) < 0 {
		return false
	}
	s.currentTopicID, s.currentTopicTitle = id, title
	s.emit(Event{Kind: EventTopic})
	return true
}

func (s *Store) CurrentTopic() (id, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTopicID, s.currentTopicTitle
}

func (s *Store) SetTopics(topics []Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = make(map[string]Topic, len(topics))
	for _, t := range topics {
		s.topics[t.ID] = t
	}
	s.emit(Event{Kind: EventTopics})
}

func (s *Store) RemoveTopic(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[id]; !ok {
		return
	}
	delete(s.topics, id)
	s.emit(Event{Kind: EventTopics})
}

func (s *Store) Topic(id string) (Topic, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[id]
	return t, ok
}

// Topics returns the cached topics sorted for display.
func (s *Store) Topics() []Topic {
	s.mu.Lock()
	out := make([]Topic, 0, len(s.topics))
	for _, t := range s.topics {
		out = append(out, t)
	}
	s.mu.Unlock()
	SortTopics(out)
	return out
}

func (s *Store) SetCurrentModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentModel = model
	s.emit(Event{Kind: EventSettings})
}

func (s *Store) CurrentModel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentModel
}

func (s *Store) SetReasoningEffort(e ReasoningEffort) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasoningEffort = e
	s.emit(Event{Kind: EventSettings})
}

func (s *Store) ReasoningEffort() ReasoningEffort {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reasoningEffort
}

// SetDraft holds the text being composed.
func (s *Store) SetDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = text
	s.emit(Event{Kind: EventDraft})
}

func (s *Store) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

func (s *Store) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = msg
	s.emit(Event{Kind: EventError})
}

func (s *Store) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Messages:          s.copyMessages(s.messages),
		CurrentTopicID:    s.currentTopicID,
		CurrentTopicTitle: s.currentTopicTitle,
		CurrentModel:      s.currentModel,
		ReasoningEffort:   s.reasoningEffort,
		IsLoading:         s.gen != nil,
		Draft:             s.draft,
		Error:             s.err,
		CurrentPage:       s.page,
	}
	s.mu.Unlock()
	snap.Topics = s.Topics()
	return snap
}

// Restore loads the persisted part of a snapshot: messages, model and
// reasoning effort. Generation state is never restored.
func (s *Store) Restore(snap Snapshot) {
	msgs := s.copyMessages(snap.Messages)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = msgs
	s.page = 1
	if snap.CurrentModel != "" {
		s.currentModel = snap.CurrentModel
	}
	if snap.ReasoningEffort.Valid() {
		s.reasoningEffort = snap.ReasoningEffort
	}
	s.emit(Event{Kind: EventMessages})
	s.emit(Event{Kind: EventSettings})
}
