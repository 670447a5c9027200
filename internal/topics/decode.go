package topics

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/suPer8Hu/gopherchat/internal/ai"
	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/common"
)

// unwrap returns the payload of a response. The backend answers either with
// the bare value or inside a {code, message, data} envelope; a non-zero code
// is an error.
func unwrap(body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("topics: invalid json response")
	}
	res := gjson.ParseBytes(body)
	if !res.IsObject() {
		return res, nil
	}
	code := res.Get("code")
	if !code.Exists() || !(res.Get("data").Exists() || res.Get("message").Exists()) {
		return res, nil
	}
	if code.Int() != 0 {
		return gjson.Result{}, fmt.Errorf("topics: backend error %d: %s", code.Int(), res.Get("message").String())
	}
	return res.Get("data"), nil
}

// listOf finds the array in a payload that is either the array itself or an
// object holding it under one of keys.
func listOf(res gjson.Result, keys ...string) gjson.Result {
	if res.IsArray() {
		return res
	}
	for _, k := range keys {
		if v := res.Get(k); v.IsArray() {
			return v
		}
	}
	return gjson.Result{}
}

func parseTopics(res gjson.Result) ([]chat.Topic, error) {
	list := listOf(res, "topics", "items", "list")
	if !list.Exists() {
		if res.Type == gjson.Null {
			return nil, nil
		}
		return nil, fmt.Errorf("topics: unexpected list payload")
	}
	var out []chat.Topic
	for _, r := range list.Array() {
		t := parseTopic(r)
		if t.ID == "" {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func parseTopic(r gjson.Result) chat.Topic {
	if t := r.Get("topic"); t.IsObject() {
		r = t
	}
	t := chat.Topic{
		ID:         r.Get("id").String(),
		Title:      r.Get("title").String(),
		CreatedAt:  parseTime(r.Get("created_at").String()),
		UpdatedAt:  parseTime(r.Get("updated_at").String()),
		IsArchived: r.Get("is_archived").Bool(),
	}
	t.LastActiveAt = parseTime(r.Get("last_active_at").String())
	if t.LastActiveAt.IsZero() {
		t.LastActiveAt = t.UpdatedAt
	}
	if t.LastActiveAt.IsZero() {
		t.LastActiveAt = t.CreatedAt
	}
	return t
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// parseTime accepts RFC 3339 and the naive ISO-8601 forms Python backends
// emit; naive times are taken as UTC. Anything else is the zero time.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// parseMessages converts a topic's stored history into chat messages.
// Historical messages are final, so the status defaults to sent.
func parseMessages(res gjson.Result, now time.Time) ([]chat.Message, error) {
	list := listOf(res, "messages", "items", "list")
	if !list.Exists() {
		if res.Type == gjson.Null {
			return nil, nil
		}
		return nil, fmt.Errorf("topics: unexpected messages payload")
	}
	var out []chat.Message
	for _, r := range list.Array() {
		m, ok, err := parseMessage(r, now)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func parseMessage(r gjson.Result, now time.Time) (chat.Message, bool, error) {
	var wm ai.WireMessage
	if err := json.Unmarshal([]byte(r.Raw), &wm); err != nil {
		return chat.Message{}, false, fmt.Errorf("topics: decode message: %w", err)
	}
	isAI := wm.Role == ai.RoleAssistant
	if wm.Role != ai.RoleUser && !isAI {
		return chat.Message{}, false, nil
	}

	m := chat.Message{
		ID:        r.Get("id").String(),
		Text:      wm.PartsText(),
		IsAI:      isAI,
		Timestamp: parseTime(r.Get("created_at").String()),
		Status:    chat.StatusSent,
		Type:      chat.TypeText,
		Metadata: chat.Metadata{
			ModelID:          r.Get("model_id").String(),
			ReasoningContent: r.Get("reasoning_content").String(),
		},
	}
	if m.ID == "" {
		m.ID = common.MustULID()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	switch s := chat.Status(r.Get("status").String()); s {
	case chat.StatusSent, chat.StatusError:
		m.Status = s
	}
	if images := wm.Images(); len(images) > 0 {
		m.Type = chat.TypeImage
		m.Metadata.ImageURLs = images
	}
	m.Metadata.ReasonCompleted = m.Metadata.ReasoningContent != ""
	return m, true, nil
}
