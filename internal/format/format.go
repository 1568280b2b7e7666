// Package format renders the fixed texts the relay sends to users.
package format

import (
	"fmt"
	"strings"

	"github.com/stupiduntilnot/chatrelay/internal/conversation"
	"github.com/stupiduntilnot/chatrelay/internal/model"
)

// ResetButton is the reply-keyboard label that resets the conversation.
const ResetButton = "🔄 Новый запрос"

// PreviewChars is how much of each entry the history listing shows.
const PreviewChars = 100

// History renders a numbered, role-labeled listing of entries.
func History(entries []conversation.Entry) string {
	if len(entries) == 0 {
		return "История диалога пуста."
	}
	lines := make([]string, 0, len(entries)+1)
	lines = append(lines, "📋 История диалога:\n")
	for i, e := range entries {
		lines = append(lines, fmt.Sprintf("%d. %s: %s", i+1, roleLabel(e.Role), preview(e.Content)))
	}
	return strings.Join(lines, "\n")
}

func roleLabel(role model.Role) string {
	if role == model.RoleUser {
		return "👤 Вы"
	}
	return "🤖 Бот"
}

func preview(s string) string {
	runes := []rune(s)
	if len(runes) <= PreviewChars {
		return s
	}
	return string(runes[:PreviewChars]) + "..."
}

// Welcome is the /start greeting.
func Welcome() string {
	return "Привет! 👋\n\n" +
		"Я бот, который использует нейросеть для ответов на ваши вопросы.\n\n" +
		"Команды:\n" +
		"/start - начать новый диалог\n" +
		"/help - получить помощь\n" +
		"/history - показать историю диалога\n" +
		"/reset - сбросить контекст диалога\n\n" +
		"Просто напишите мне вопрос, и я помогу вам! 🚀"
}

// Help is the /help text.
func Help() string {
	return "📚 Справка по использованию бота:\n\n" +
		"1️⃣ Просто напишите ваш вопрос или сообщение\n" +
		"2️⃣ Бот обратится к нейросети и предоставит ответ\n" +
		"3️⃣ Ваша история диалога сохраняется для лучшего контекста\n" +
		"4️⃣ Нажмите '" + ResetButton + "' чтобы начать новый диалог\n" +
		"5️⃣ Используйте /start для перезагрузки бота\n" +
		"6️⃣ Используйте /history для просмотра истории\n\n" +
		"💡 Советы:\n" +
		"• Чем более подробный вопрос, тем лучше ответ\n" +
		"• Бот помнит контекст предыдущих сообщений\n" +
		"• Используйте '" + ResetButton + "' для смены темы"
}

// ResetDone confirms a conversation reset.
func ResetDone() string {
	return "🔄 Контекст диалога сброшен. Напишите новый вопрос!"
}

// Error maps a failure class to its user-facing text. detail is only shown
// for unclassified failures.
func Error(class model.ErrorClass, detail string) string {
	switch class {
	case model.ClassAuth:
		return "❌ Ошибка аутентификации. Проверьте API ключ."
	case model.ClassRateLimit:
		return "⏳ Превышено ограничение на количество запросов. Попробуйте позже."
	case model.ClassConnection:
		return "🌐 Ошибка подключения или время ожидания истекло. Попробуйте еще раз."
	case model.ClassUnknown:
		return "❌ Произошла ошибка: " + detail
	default:
		return "❌ Неизвестная ошибка."
	}
}
