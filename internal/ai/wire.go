package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	PartText     = "text"
	PartImageURL = "image_url"
)

type ImageURL struct {
	URL string `json:"url"`
}

// ContentPart is one element of a multimodal message, OpenAI style.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// WireMessage is a chat turn as the API expects it. Content is sent as a
// plain string unless Parts is set.
type WireMessage struct {
	Role  string
	Text  string
	Parts []ContentPart
}

// UserMessage builds a user turn. With images it becomes a multimodal array
// holding the text first and then one image_url part per image.
func UserMessage(text string, images []string) WireMessage {
	if len(images) == 0 {
		return WireMessage{Role: RoleUser, Text: text}
	}
	parts := make([]ContentPart, 0, len(images)+1)
	parts = append(parts, ContentPart{Type: PartText, Text: text})
	for _, u := range images {
		parts = append(parts, ContentPart{Type: PartImageURL, ImageURL: &ImageURL{URL: u}})
	}
	return WireMessage{Role: RoleUser, Text: text, Parts: parts}
}

func AssistantMessage(text string) WireMessage {
	return WireMessage{Role: RoleAssistant, Text: text}
}

type wireMessageJSON struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

func (m WireMessage) MarshalJSON() ([]byte, error) {
	var (
		content []byte
		err     error
	)
	if m.Parts != nil {
		content, err = json.Marshal(m.Parts)
	} else {
		content, err = json.Marshal(m.Text)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessageJSON{Role: m.Role, Content: content})
}

func (m *WireMessage) UnmarshalJSON(b []byte) error {
	var raw wireMessageJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	m.Text, m.Parts = "", nil

	content := bytes.TrimSpace(raw.Content)
	switch {
	case len(content) == 0 || bytes.Equal(content, []byte("null")):
	case content[0] == '"':
		return json.Unmarshal(content, &m.Text)
	case content[0] == '[':
		if err := json.Unmarshal(content, &m.Parts); err != nil {
			return err
		}
		m.Text = m.PartsText()
	default:
		return fmt.Errorf("ai: unsupported message content %s", content)
	}
	return nil
}

// PartsText joins the text parts of a multimodal message.
func (m WireMessage) PartsText() string {
	if m.Parts == nil {
		return m.Text
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Type == PartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Images returns the image urls of a multimodal message.
func (m WireMessage) Images() []string {
	var out []string
	for _, p := range m.Parts {
		if p.Type == PartImageURL && p.ImageURL != nil && p.ImageURL.URL != "" {
			out = append(out, p.ImageURL.URL)
		}
	}
	return out
}

// Request is the body of a chat submission.
type Request struct {
	Messages        []WireMessage `json:"messages"`
	ModelID         string        `json:"model_id"`
	ReasoningEffort string        `json:"reasoning_effort,omitempty"`
	TopicID         string        `json:"topic_id,omitempty"`
}

// Update is one partial result of a stream. Content and Reasoning are the
// running totals for the stream, never deltas.
type Update struct {
	Content            string
	Reasoning          string
	ReasoningCompleted bool

	TopicID    string
	TopicTitle string

	// Err is set when the server sent an error frame. It is the last update
	// of the stream.
	Err string
}

func (u Update) HasTopic() bool { return u.TopicID != "" && u.TopicTitle != "" }
