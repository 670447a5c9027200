package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/suPer8Hu/gopherchat/internal/auth"
	"github.com/suPer8Hu/gopherchat/internal/metrics"
)

const DefaultChatPath = "/api/v1/chat/messages"

// Client streams chat completions from the backend API.
type Client struct {
	BaseURL string
	Path    string
	Tokens  auth.TokenSource
	HTTP    *http.Client
	Log     *zap.Logger
}

func NewClient(baseURL string, tokens auth.TokenSource, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		BaseURL: baseURL,
		Path:    DefaultChatPath,
		Tokens:  tokens,
		// no overall timeout: a stream lives as long as the reply
		HTTP: &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 90 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		}},
		Log: log,
	}
}

// Stream posts req and consumes the event stream. See Streamer.
//
// Cancelling ctx aborts the read; the context error is returned together with
// the content accumulated so far.
func (c *Client) Stream(ctx context.Context, req Request, onUpdate func(Update)) (string, error) {
	if c.HTTP == nil {
		return "", errors.New("ai: http client is nil")
	}
	if c.Tokens == nil {
		return "", auth.ErrLoginRequired
	}
	if strings.TrimSpace(req.ModelID) == "" {
		return "", errors.New("ai: model is required")
	}
	if onUpdate == nil {
		onUpdate = func(Update) {}
	}

	token, err := c.Tokens.Token(ctx)
	if err != nil {
		return "", err
	}

	b, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	path := c.Path
	if path == "" {
		path = DefaultChatPath
	}
	url := strings.TrimRight(c.BaseURL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	reqID := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("X-Request-ID", reqID)

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		metrics.Streams.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("ai: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.Streams.WithLabelValues("failed").Inc()
		return "", statusError(resp)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		metrics.Streams.WithLabelValues("failed").Inc()
		return "", errors.New("ai: response body is empty")
	}

	log := c.Log.With(zap.String("request_id", reqID), zap.String("model", req.ModelID))
	st := &streamState{onUpdate: onUpdate, log: log}
	content, err := st.consume(ctx, NewDecoder(resp.Body))
	switch {
	case err == nil:
		metrics.Streams.WithLabelValues("completed").Inc()
	case ctx.Err() != nil:
		metrics.Streams.WithLabelValues("cancelled").Inc()
	default:
		metrics.Streams.WithLabelValues("failed").Inc()
	}
	return content, err
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	msg := strings.TrimSpace(string(body))
	if detail := gjson.Get(msg, "message"); detail.Exists() && detail.String() != "" {
		msg = detail.String()
	} else if detail := gjson.Get(msg, "detail"); detail.Type == gjson.String {
		msg = detail.String()
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("ai: status %d: %s: %w", resp.StatusCode, msg, auth.ErrLoginRequired)
	}
	return fmt.Errorf("ai: status %d: %s", resp.StatusCode, msg)
}

type streamState struct {
	onUpdate  func(Update)
	log       *zap.Logger
	content   string
	reasoning string
}

func (s *streamState) consume(ctx context.Context, dec *Decoder) (string, error) {
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return s.content, nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return s.content, ctxErr
			}
			return s.content, fmt.Errorf("ai: read stream: %w", err)
		}
		if stop := s.handle(ev.Data); stop {
			return s.content, nil
		}
	}
}

// handle applies one frame and reports whether the stream is over.
func (s *streamState) handle(data []byte) bool {
	if string(data) == "[DONE]" {
		metrics.StreamFrames.WithLabelValues("done").Inc()
		return true
	}
	if !gjson.ValidBytes(data) {
		metrics.StreamFrames.WithLabelValues("invalid").Inc()
		s.log.Warn("skipping unparsable stream frame", zap.ByteString("data", truncate(data, 256)))
		return false
	}
	frame := gjson.ParseBytes(data)
	if !frame.IsObject() {
		metrics.StreamFrames.WithLabelValues("invalid").Inc()
		s.log.Warn("skipping non-object stream frame", zap.ByteString("data", truncate(data, 256)))
		return false
	}

	if e := frame.Get("error"); e.Exists() && e.Type != gjson.Null && e.Type != gjson.False {
		msg := e.String()
		if e.IsObject() {
			msg = e.Get("message").String()
		}
		if msg == "" {
			msg = "unknown error"
		}
		metrics.StreamFrames.WithLabelValues("error").Inc()
		s.onUpdate(Update{Err: msg})
		return true
	}

	if id, title := frame.Get("topic_id"), frame.Get("topic_title"); id.Exists() && title.Exists() {
		metrics.StreamFrames.WithLabelValues("topic").Inc()
		s.onUpdate(Update{TopicID: id.String(), TopicTitle: title.String()})
	}

	if r := frame.Get("reasoning_content").String(); r != "" {
		metrics.StreamFrames.WithLabelValues("reasoning").Inc()
		s.reasoning += r
		s.onUpdate(Update{Reasoning: s.reasoning})
	}

	if c := frame.Get("content").String(); c != "" {
		metrics.StreamFrames.WithLabelValues("content").Inc()
		s.content = accumulate(s.content, c)
		s.onUpdate(Update{Content: s.content, Reasoning: s.reasoning, ReasoningCompleted: true})
	}

	return frame.Get("is_last").Bool()
}

// accumulate folds a content frame into the running total. Servers differ on
// whether content frames carry deltas or the text so far; a value that
// extends acc is taken as the text so far, anything else is appended.
// Reasoning frames are always deltas and never go through here.
func accumulate(acc, v string) string {
	if acc != "" && strings.HasPrefix(v, acc) {
		return v
	}
	return acc + v
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
