package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocalizer_Chinese(t *testing.T) {
	l := New("zh-CN")
	assert.Equal(t, "回复已中断", l.Interrupted())
	assert.Equal(t, "抱歉，overloaded", l.Sorry("overloaded"))
	assert.Equal(t, "请先登录后再继续对话", l.LoginRequired())
}

func TestLocalizer_English(t *testing.T) {
	l := New("en-US")
	assert.Equal(t, "Reply interrupted", l.Interrupted())
	assert.Equal(t, "Sorry, overloaded", l.Sorry("overloaded"))
}

func TestLocalizer_FallbackIsChinese(t *testing.T) {
	assert.Equal(t, "发送失败", New("not a locale!").SendFailed())
}
