package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/gopherchat/internal/ai"
	"github.com/suPer8Hu/gopherchat/internal/auth"
	"github.com/suPer8Hu/gopherchat/internal/common"
	"github.com/suPer8Hu/gopherchat/internal/i18n"
	"github.com/suPer8Hu/gopherchat/internal/metrics"
	"github.com/suPer8Hu/gopherchat/internal/retry"
)

var (
	ErrEmptyMessage     = errors.New("chat: message has no text and no images")
	ErrUnknownModel     = errors.New("chat: unknown model")
	ErrInvalidEffort    = errors.New("chat: reasoning effort must be low, medium or high")
	ErrNoTopicDirectory = errors.New("chat: no topic directory configured")
)

// TopicDirectory is the backend's list of conversations.
type TopicDirectory interface {
	List(ctx context.Context, f TopicFilter) ([]Topic, error)
	Invalidate(ctx context.Context) error
	Create(ctx context.Context, title string) (Topic, error)
	Messages(ctx context.Context, topicID string) ([]Message, error)
	Delete(ctx context.Context, topicID string) error
}

// Confirmer asks the user to approve a destructive action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) bool
}

type ConfirmFunc func(ctx context.Context, prompt string) bool

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) bool { return f(ctx, prompt) }

// Confirmed is a Confirmer with a fixed answer, for callers that asked the
// user already.
type Confirmed bool

func (c Confirmed) Confirm(context.Context, string) bool { return bool(c) }

// retryBudget is the fixed attempt budget of RetryMessage.
const retryBudget = 3

// Service sequences chat turns against the store: it appends the turns,
// drives the stream and settles every assistant message in a final status.
type Service struct {
	store   *Store
	stream  ai.Streamer
	models  *ai.Registry
	topics  TopicDirectory
	turns   TurnPublisher
	policy  retry.Policy
	loc     *i18n.Localizer
	log     *zap.Logger
	onLogin func(error)

	bg sync.WaitGroup
}

type Option func(*Service)

func WithTopicDirectory(d TopicDirectory) Option { return func(s *Service) { s.topics = d } }
func WithTurnPublisher(p TurnPublisher) Option   { return func(s *Service) { s.turns = p } }
func WithRetryPolicy(p retry.Policy) Option      { return func(s *Service) { s.policy = p } }
func WithLocalizer(l *i18n.Localizer) Option     { return func(s *Service) { s.loc = l } }
func WithLogger(l *zap.Logger) Option            { return func(s *Service) { s.log = l } }

// WithLoginRequired sets a hook run when a turn fails because the user must
// log in again, e.g. to redirect to a login page.
func WithLoginRequired(fn func(error)) Option { return func(s *Service) { s.onLogin = fn } }

func NewService(store *Store, streamer ai.Streamer, models *ai.Registry, opts ...Option) *Service {
	s := &Service{
		store:  store,
		stream: streamer,
		models: models,
		policy: retry.DefaultPolicy,
		loc:    i18n.New(""),
		log:    zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.models == nil {
		s.models = ai.NewRegistry()
	}
	return s
}

func (s *Service) Store() *Store { return s.store }

// Wait blocks until background topic refreshes have finished.
func (s *Service) Wait() { s.bg.Wait() }

type SendRequest struct {
	Text   string
	Images []string
	// OnStream, when set, sees every update of the stream.
	OnStream func(ai.Update)
}

// SendMessage appends the user turn and an assistant placeholder, then
// streams the reply into the placeholder. It blocks until the assistant
// message is settled and returns its id. Stream failures do not surface as
// errors: they end up in the message.
func (s *Service) SendMessage(ctx context.Context, req SendRequest) (string, error) {
	if strings.TrimSpace(req.Text) == "" && len(req.Images) == 0 {
		return "", ErrEmptyMessage
	}
	defer s.store.SetDraft("")

	user := Message{
		Text:   req.Text,
		Type:   TypeText,
		Status: StatusSent,
	}
	if len(req.Images) > 0 {
		user.Type = TypeImage
		user.Metadata.ImageURLs = slices.Clone(req.Images)
	}
	s.store.AddMessage(user)

	return s.generate(ctx, req.Text, s.policy, req.OnStream), nil
}

// RetryMessage discards the assistant message id and everything after it and
// generates a new reply to the nearest user message before it. It returns the
// new assistant message id, or "" when there is nothing to retry.
func (s *Service) RetryMessage(ctx context.Context, id string) (string, error) {
	msgs := s.store.Messages()
	idx := slices.IndexFunc(msgs, func(m Message) bool { return m.ID == id })
	if idx < 0 {
		s.log.Warn("retry: message not found", zap.String("message_id", id))
		return "", nil
	}
	u := idx - 1
	for u >= 0 && msgs[u].IsAI {
		u--
	}
	if u < 0 {
		s.log.Warn("retry: no user message before assistant message", zap.String("message_id", id))
		return "", nil
	}
	if !s.store.TruncateMessagesFrom(id) {
		s.log.Warn("retry: message vanished before truncation", zap.String("message_id", id))
		return "", nil
	}

	policy := retry.Policy{MaxAttempts: retryBudget, Delay: s.policy.Delay}
	return s.generate(ctx, msgs[u].Text, policy, nil), nil
}

// Stop cancels the running generation.
func (s *Service) Stop() { s.store.StopGenerating() }

func (s *Service) generate(ctx context.Context, userText string, policy retry.Policy, onStream func(ai.Update)) string {
	model := s.store.CurrentModel()
	placeholder := s.store.AddMessage(Message{
		ID:       common.MustULID(),
		IsAI:     true,
		Type:     TypeText,
		Status:   StatusSending,
		Metadata: Metadata{ModelID: model},
	})
	id := placeholder.ID
	log := s.log.With(zap.String("message_id", id), zap.String("model", model))

	genCtx, tok := s.store.BeginGeneration(ctx)
	defer s.store.EndGeneration(tok)

	attempts := 0
	_, err := retry.Do(genCtx, policy, func(ctx context.Context) (string, error) {
		attempts++
		return s.stream.Stream(ctx, s.buildRequest(id, model), func(u ai.Update) {
			s.applyUpdate(genCtx, id, u, onStream)
		})
	})

	s.settle(genCtx, id, err, log)

	if final, ok := s.store.Message(id); ok {
		metrics.Turns.WithLabelValues(string(final.Status)).Inc()
		s.publish(ctx, TurnEvent{
			MessageID:  id,
			ModelID:    model,
			Status:     final.Status,
			UserText:   userText,
			Text:       final.Text,
			Reasoning:  final.Metadata.ReasoningContent,
			Error:      final.Metadata.Error,
			Attempts:   attempts,
			StartedAt:  placeholder.Timestamp,
			FinishedAt: time.Now(),
		}, log)
	}
	return id
}

// buildRequest reads the store at call time, so every attempt sends the
// history as it is now.
func (s *Service) buildRequest(assistantID, model string) ai.Request {
	msgs := s.store.Messages()
	wire := make([]ai.WireMessage, 0, len(msgs))
	for _, m := range msgs {
		switch {
		case m.ID == assistantID:
			continue
		case m.IsAI:
			if m.Text == "" || m.Status == StatusError {
				continue
			}
			wire = append(wire, ai.AssistantMessage(m.Text))
		default:
			wire = append(wire, ai.UserMessage(m.Text, m.Metadata.ImageURLs))
		}
	}

	req := ai.Request{Messages: wire, ModelID: model}
	if s.models.SupportsThinkingEffort(model) {
		req.ReasoningEffort = string(s.store.ReasoningEffort())
	}
	req.TopicID, _ = s.store.CurrentTopic()
	return req
}

func (s *Service) applyUpdate(genCtx context.Context, id string, u ai.Update, onStream func(ai.Update)) {
	// A stopped or replaced generation may still deliver a queued frame.
	if genCtx.Err() != nil {
		return
	}
	if onStream != nil {
		onStream(u)
	}

	if u.Err != "" {
		s.store.UpdateMessage(id,
			TextPatch{Text: u.Err},
			StatusPatch{Status: StatusError},
			MetadataPatch{Error: ptr(u.Err)},
		)
		return
	}

	if u.HasTopic() && s.store.BindTopic(id, u.TopicID, u.TopicTitle) {
		s.refreshTopicsAsync(genCtx)
	}

	if u.Reasoning != "" && !u.ReasoningCompleted {
		s.store.UpdateMessage(id, MetadataPatch{ReasoningContent: ptr(u.Reasoning)})
	}

	if u.Content != "" {
		md := MetadataPatch{ReasonCompleted: ptr(true)}
		if u.Reasoning != "" {
			md.ReasoningContent = ptr(u.Reasoning)
		}
		s.store.UpdateMessage(id,
			TextPatch{Text: u.Content},
			StatusPatch{Status: StatusSending},
			md,
		)
	}
}

// settle moves the message into its final status.
func (s *Service) settle(genCtx context.Context, id string, err error, log *zap.Logger) {
	switch {
	case err == nil:
		if m, ok := s.store.Message(id); ok && m.Status != StatusError {
			s.store.UpdateMessage(id, StatusPatch{Status: StatusSent})
		}

	case genCtx.Err() != nil || errors.Is(err, context.Canceled):
		// Stopped by the user: keep what arrived and mark it as cut short.
		log.Info("generation interrupted")
		text := s.loc.Interrupted()
		if m, ok := s.store.Message(id); ok && m.Text != "" {
			text = m.Text + "\n\n" + text
		}
		s.store.UpdateMessage(id, TextPatch{Text: text}, StatusPatch{Status: StatusSent})

	case auth.IsLoginRequired(err):
		log.Warn("generation needs login", zap.Error(err))
		s.store.UpdateMessage(id,
			TextPatch{Text: s.loc.Sorry(s.loc.LoginRequired())},
			StatusPatch{Status: StatusError},
			MetadataPatch{Error: ptr(err.Error())},
		)
		if s.onLogin != nil {
			s.onLogin(err)
		}

	default:
		log.Error("generation failed", zap.Error(err))
		s.store.UpdateMessage(id,
			TextPatch{Text: s.loc.Sorry(err.Error())},
			StatusPatch{Status: StatusError},
			MetadataPatch{Error: ptr(err.Error())},
		)
	}
}

func (s *Service) publish(ctx context.Context, ev TurnEvent, log *zap.Logger) {
	if s.turns == nil {
		return
	}
	ev.TopicID, _ = s.store.CurrentTopic()
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.turns.PublishTurn(pctx, ev); err != nil {
		log.Warn("publish turn failed", zap.Error(err))
	}
}

// SetModel selects the model for the next turns.
func (s *Service) SetModel(id string) error {
	if _, ok := s.models.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	s.store.SetCurrentModel(id)
	return nil
}

func (s *Service) SetReasoningEffort(e ReasoningEffort) error {
	if !e.Valid() {
		return ErrInvalidEffort
	}
	s.store.SetReasoningEffort(e)
	return nil
}

// NewChat starts an empty, unsaved conversation.
func (s *Service) NewChat() {
	s.store.ClearMessages()
	s.store.SetCurrentTopic("", "")
}

// RefreshTopics reloads the topic list into the store. On failure the cached
// list stays in place.
func (s *Service) RefreshTopics(ctx context.Context) error {
	if s.topics == nil {
		return ErrNoTopicDirectory
	}
	topics, err := s.topics.List(ctx, TopicFilter{})
	if err != nil {
		s.log.Warn("refresh topics failed", zap.Error(err))
		return fmt.Errorf("chat: refresh topics: %w", err)
	}
	s.store.SetTopics(topics)
	return nil
}

func (s *Service) refreshTopicsAsync(ctx context.Context) {
	if s.topics == nil {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := s.topics.Invalidate(ctx); err != nil {
			s.log.Warn("invalidate topics failed", zap.Error(err))
		}
		_ = s.RefreshTopics(ctx)
	}()
}

// SwitchTopic shows the conversation topicID. The buffer is cleared at once
// and the title is taken from the cached list while the history loads. If
// the user switched elsewhere before the history arrived, it is dropped.
func (s *Service) SwitchTopic(ctx context.Context, topicID string) error {
	if s.topics == nil {
		return ErrNoTopicDirectory
	}
	s.store.ClearMessages()
	title := ""
	if t, ok := s.store.Topic(topicID); ok {
		title = t.Title
	}
	s.store.SetCurrentTopic(topicID, title)

	history, err := s.topics.Messages(ctx, topicID)
	if err != nil {
		s.log.Warn("load topic messages failed", zap.String("topic_id", topicID), zap.Error(err))
		return fmt.Errorf("chat: switch topic: %w", err)
	}
	if !s.store.LoadHistory(topicID, history) {
		s.log.Debug("discarding history of abandoned topic", zap.String("topic_id", topicID))
		return nil
	}

	// the backend bumps last_active_at on read
	if err := s.topics.Invalidate(ctx); err != nil {
		s.log.Warn("invalidate topics failed", zap.Error(err))
	}
	_ = s.RefreshTopics(ctx)
	return nil
}

// CreateTopic creates an empty topic and makes it current.
func (s *Service) CreateTopic(ctx context.Context, title string) (Topic, error) {
	if s.topics == nil {
		return Topic{}, ErrNoTopicDirectory
	}
	t, err := s.topics.Create(ctx, title)
	if err != nil {
		return Topic{}, fmt.Errorf("chat: create topic: %w", err)
	}
	s.store.ClearMessages()
	s.store.SetCurrentTopic(t.ID, t.Title)
	if err := s.topics.Invalidate(ctx); err != nil {
		s.log.Warn("invalidate topics failed", zap.Error(err))
	}
	_ = s.RefreshTopics(ctx)
	return t, nil
}

// DeleteTopic deletes a topic after confirm approves. Deleting the current
// topic starts a new chat. It reports whether the topic was deleted.
func (s *Service) DeleteTopic(ctx context.Context, topicID string, confirm Confirmer) (bool, error) {
	if s.topics == nil {
		return false, ErrNoTopicDirectory
	}
	if confirm == nil || !confirm.Confirm(ctx, s.loc.ConfirmDelete()) {
		return false, nil
	}
	if err := s.topics.Delete(ctx, topicID); err != nil {
		s.log.Warn("delete topic failed", zap.String("topic_id", topicID), zap.Error(err))
		return false, fmt.Errorf("chat: delete topic: %w", err)
	}
	s.store.RemoveTopic(topicID)
	if err := s.topics.Invalidate(ctx); err != nil {
		s.log.Warn("invalidate topics failed", zap.Error(err))
	}
	_ = s.RefreshTopics(ctx)

	if current, _ := s.store.CurrentTopic(); current == topicID {
		s.NewChat()
	}
	return true, nil
}
