package chat

import "slices"

// Patch is one field-level change to a message. Patches passed together are
// applied in order.
type Patch interface {
	apply(m *Message)
}

// TextPatch replaces the visible text.
type TextPatch struct {
	Text string
}

func (p TextPatch) apply(m *Message) { m.Text = p.Text }

// StatusPatch replaces the status. A message in a terminal status keeps it:
// a later attempt for the same turn gets a new message id instead.
type StatusPatch struct {
	Status Status
}

func (p StatusPatch) apply(m *Message) {
	if m.Status.Terminal() {
		return
	}
	m.Status = p.Status
}

// MetadataPatch merges the non-nil fields into the metadata and leaves the
// others alone.
//
// ReasonCompleted only ever moves to true. Once it is true, reasoning text is
// accepted only from a patch that also carries ReasonCompleted, so a stray
// reasoning-only update cannot overwrite the final reasoning.
type MetadataPatch struct {
	ModelID          *string
	ReasoningContent *string
	ReasonCompleted  *bool
	ImageURLs        []string
	Error            *string
}

func (p MetadataPatch) apply(m *Message) {
	md := &m.Metadata
	if p.ModelID != nil {
		md.ModelID = *p.ModelID
	}
	if p.ReasoningContent != nil && (!md.ReasonCompleted || p.ReasonCompleted != nil) {
		md.ReasoningContent = *p.ReasoningContent
	}
	if p.ReasonCompleted != nil && *p.ReasonCompleted {
		md.ReasonCompleted = true
	}
	if p.ImageURLs != nil {
		md.ImageURLs = slices.Clone(p.ImageURLs)
	}
	if p.Error != nil {
		md.Error = *p.Error
	}
}

// Apply returns m with patches applied in order. Id, role and timestamp are
// never changed.
func Apply(m Message, patches ...Patch) Message {
	m = m.clone()
	for _, p := range patches {
		if p != nil {
			p.apply(&m)
		}
	}
	return m
}

func ptr[T any](v T) *T { return &v }
