package format

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stupiduntilnot/chatrelay/internal/conversation"
	"github.com/stupiduntilnot/chatrelay/internal/model"
)

func TestHistory_Empty(t *testing.T) {
	assert.Equal(t, "История диалога пуста.", History(nil))
}

func TestHistory_WithEntries(t *testing.T) {
	got := History([]conversation.Entry{
		{Role: model.RoleUser, Content: "Hello"},
		{Role: model.RoleAssistant, Content: "Hi there!"},
	})
	assert.Contains(t, got, "История диалога")
	assert.Contains(t, got, "1. 👤 Вы: Hello")
	assert.Contains(t, got, "2. 🤖 Бот: Hi there!")
}

func TestHistory_TruncatesLongEntries(t *testing.T) {
	long := strings.Repeat("A", 150)
	got := History([]conversation.Entry{{Role: model.RoleUser, Content: long}})

	assert.NotContains(t, got, long)
	assert.Contains(t, got, strings.Repeat("A", 100)+"...")
	assert.NotContains(t, got, strings.Repeat("A", 101))
}

func TestHistory_TruncatesByCharacters(t *testing.T) {
	got := History([]conversation.Entry{{Role: model.RoleUser, Content: strings.Repeat("ж", 101)}})
	assert.Contains(t, got, strings.Repeat("ж", 100)+"...")
}

func TestHistory_Deterministic(t *testing.T) {
	entries := []conversation.Entry{{Role: model.RoleUser, Content: "x"}}
	assert.Equal(t, History(entries), History(entries))
}

func TestError(t *testing.T) {
	cases := []struct {
		class model.ErrorClass
		want  string
	}{
		{model.ClassAuth, "Ошибка аутентификации"},
		{model.ClassRateLimit, "Превышено ограничение"},
		{model.ClassConnection, "Ошибка подключения"},
		{model.ErrorClass("bogus"), "Неизвестная ошибка"},
	}
	for _, c := range cases {
		assert.Contains(t, Error(c.class, "ignored"), c.want, "class=%s", c.class)
	}

	got := Error(model.ClassUnknown, "boom 500")
	assert.Contains(t, got, "Произошла ошибка")
	assert.Contains(t, got, "boom 500")
}

func TestWelcomeAndHelp(t *testing.T) {
	welcome := Welcome()
	for _, want := range []string{"Привет", "/start", "/help", "/history"} {
		assert.Contains(t, welcome, want)
	}
	help := Help()
	for _, want := range []string{"Справка", "/start", "/history", ResetButton} {
		assert.Contains(t, help, want)
	}
}
