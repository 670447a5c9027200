// Package i18n holds the user-facing strings the chat engine writes into
// messages.
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Message keys. The English text doubles as the key and the fallback.
const (
	KeyInterrupted   = "Reply interrupted"
	KeySorry         = "Sorry, %s"
	KeyLoginRequired = "Please log in before continuing the conversation"
	KeySendFailed    = "Send failed"
	KeyConfirmDelete = "Delete this conversation? This cannot be undone."
)

var supported = []language.Tag{language.SimplifiedChinese, language.English}

func init() {
	zh := language.SimplifiedChinese
	for key, msg := range map[string]string{
		KeyInterrupted:   "回复已中断",
		KeySorry:         "抱歉，%s",
		KeyLoginRequired: "请先登录后再继续对话",
		KeySendFailed:    "发送失败",
		KeyConfirmDelete: "确定要删除此对话吗？此操作不可撤销。",
	} {
		if err := message.SetString(zh, key, msg); err != nil {
			panic(err)
		}
	}
	for _, key := range []string{KeyInterrupted, KeySorry, KeyLoginRequired, KeySendFailed, KeyConfirmDelete} {
		if err := message.SetString(language.English, key, key); err != nil {
			panic(err)
		}
	}
}

// Localizer formats catalog strings for one locale.
type Localizer struct {
	p *message.Printer
}

// New returns a Localizer for locale ("zh-Hans", "zh-CN", "en", ...).
// Unknown or unparsable locales fall back to Simplified Chinese.
func New(locale string) *Localizer {
	tag := language.SimplifiedChinese
	if t, err := language.Parse(locale); err == nil {
		_, idx, _ := language.NewMatcher(supported).Match(t)
		tag = supported[idx]
	}
	return &Localizer{p: message.NewPrinter(tag)}
}

func (l *Localizer) Interrupted() string   { return l.p.Sprintf(KeyInterrupted) }
func (l *Localizer) LoginRequired() string { return l.p.Sprintf(KeyLoginRequired) }
func (l *Localizer) SendFailed() string    { return l.p.Sprintf(KeySendFailed) }
func (l *Localizer) ConfirmDelete() string { return l.p.Sprintf(KeyConfirmDelete) }

func (l *Localizer) Sorry(reason string) string {
	return l.p.Sprintf(KeySorry, reason)
}
