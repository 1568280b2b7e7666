// Package relay turns inbound chat messages into completion requests and
// sends the replies back.
package relay

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	cmdpkg "github.com/stupiduntilnot/chatrelay/internal/commander"
	"github.com/stupiduntilnot/chatrelay/internal/conversation"
	"github.com/stupiduntilnot/chatrelay/internal/db"
	"github.com/stupiduntilnot/chatrelay/internal/format"
	"github.com/stupiduntilnot/chatrelay/internal/model"
	"github.com/stupiduntilnot/chatrelay/internal/observability"
	"github.com/stupiduntilnot/chatrelay/internal/validate"
)

// Options configures a Relay. Zero values fall back to defaults.
type Options struct {
	// SystemPrompt, when set, is sent ahead of the history. It is never
	// stored.
	SystemPrompt      string
	Params            model.Params
	MaxLength         int
	CompletionTimeout time.Duration
	// ProviderName labels provider error metrics.
	ProviderName string

	Logger  *slog.Logger
	Journal *db.Journal
	Metrics *observability.Metrics
	// ParentEventID is the journal event new message events hang off.
	ParentEventID int64
}

// Relay handles one inbound message at a time per user. Distinct users are
// handled in parallel.
type Relay struct {
	store     *conversation.Store
	provider  model.Provider
	commander cmdpkg.Commander
	opts      Options
	log       *slog.Logger

	locks userLocks
}

// userLocks hands out one mutex per user id. Entries live only while some
// goroutine holds or waits on them.
type userLocks struct {
	mu    sync.Mutex
	locks map[int64]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func (l *userLocks) lock(userID int64) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = map[int64]*userLock{}
	}
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
}

func (l *userLocks) unlock(userID int64) {
	l.mu.Lock()
	ul := l.locks[userID]
	ul.refs--
	if ul.refs == 0 {
		delete(l.locks, userID)
	}
	l.mu.Unlock()

	ul.mu.Unlock()
}

// held returns the number of user ids with a live lock entry.
func (l *userLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func New(store *conversation.Store, provider model.Provider, commander cmdpkg.Commander, opts Options) *Relay {
	if opts.Params.MaxTokens <= 0 {
		opts.Params = model.DefaultParams()
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = validate.DefaultMaxLength
	}
	if opts.CompletionTimeout <= 0 {
		opts.CompletionTimeout = 60 * time.Second
	}
	if opts.ProviderName == "" {
		opts.ProviderName = "unknown"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		store:     store,
		provider:  provider,
		commander: commander,
		opts:      opts,
		log:       logger,
	}
}

// Handle processes one message. Every branch ends by replying, or by
// staying silent for blank input.
func (r *Relay) Handle(ctx context.Context, msg *cmdpkg.Message) {
	if msg == nil || msg.Text == nil {
		return
	}
	userID := msg.SenderID()
	chatID := msg.Chat.ID
	raw := *msg.Text

	r.locks.lock(userID)
	defer r.locks.unlock(userID)

	requestID := uuid.NewString()
	log := r.log.With("request_id", requestID, "user_id", userID, "chat_id", chatID)

	if cmd, ok := parseCommand(raw); ok {
		if r.handleCommand(ctx, log, cmd, userID, chatID) {
			r.opts.Metrics.ObserveMessage(observability.OutcomeCommand)
			return
		}
	}

	if strings.TrimSpace(raw) == "" {
		log.Debug("ignoring blank message")
		r.opts.Metrics.ObserveMessage(observability.OutcomeIgnored)
		return
	}

	if reason := validate.Error(raw, r.opts.MaxLength); reason != "" {
		log.Info("message rejected", "length", len([]rune(raw)))
		r.journal(nil, db.EventMessageRejected, map[string]any{
			"request_id": requestID,
			"user_id":    userID,
			"reason":     reason,
		})
		r.opts.Metrics.ObserveMessage(observability.OutcomeRejected)
		r.send(ctx, log, chatID, reason, nil)
		return
	}

	text := strings.TrimSpace(raw)
	receivedID := r.journal(nil, db.EventMessageReceived, map[string]any{
		"request_id": requestID,
		"user_id":    userID,
		"chat_id":    chatID,
		"chars":      len([]rune(text)),
	})

	r.store.AddMessage(userID, model.RoleUser, text)

	reply, err := r.complete(ctx, userID)
	if err != nil {
		class := model.Classify(err)
		log.Error("completion failed", "error_class", class, "error", err)
		r.journal(&receivedID, db.EventCompletionFailed, map[string]any{
			"request_id":  requestID,
			"error_class": string(class),
			"error":       truncate(err.Error(), 1000),
		})
		r.opts.Metrics.ObserveProviderError(r.opts.ProviderName, string(class))
		r.opts.Metrics.ObserveMessage(observability.OutcomeFailed)
		r.send(ctx, log, chatID, format.Error(class, err.Error()), nil)
		return
	}

	r.store.AddMessage(userID, model.RoleAssistant, reply.Content)
	r.journal(&receivedID, db.EventCompletionDone, map[string]any{
		"request_id":    requestID,
		"input_tokens":  reply.InputTokens,
		"output_tokens": reply.OutputTokens,
	})
	r.opts.Metrics.ObserveMessage(observability.OutcomeReplied)
	if r.send(ctx, log, chatID, reply.Content, nil) {
		r.journal(&receivedID, db.EventReplySent, map[string]any{
			"request_id": requestID,
			"chars":      len([]rune(reply.Content)),
		})
	}
}

func (r *Relay) complete(ctx context.Context, userID int64) (model.CompletionResponse, error) {
	messages := r.buildMessages(r.store.History(userID))

	callCtx, cancel := context.WithTimeout(ctx, r.opts.CompletionTimeout)
	defer cancel()

	start := time.Now()
	resp, err := r.provider.ChatCompletion(callCtx, messages, r.opts.Params)
	r.opts.Metrics.ObserveCompletion(time.Since(start))
	return resp, err
}

// buildMessages assembles the prompt: optional system prompt, then the
// history verbatim.
func (r *Relay) buildMessages(history []conversation.Entry) []model.Message {
	messages := make([]model.Message, 0, len(history)+1)
	if r.opts.SystemPrompt != "" {
		messages = append(messages, model.Message{Role: model.RoleSystem, Content: r.opts.SystemPrompt})
	}
	for _, e := range history {
		messages = append(messages, model.Message{Role: e.Role, Content: e.Content})
	}
	return messages
}

// handleCommand runs a recognised command and reports whether it did.
func (r *Relay) handleCommand(ctx context.Context, log *slog.Logger, cmd string, userID, chatID int64) bool {
	keyboard := []string{format.ResetButton}
	switch cmd {
	case "/start":
		r.reset(log, userID, cmd)
		r.send(ctx, log, chatID, format.Welcome(), keyboard)
	case "/help":
		r.send(ctx, log, chatID, format.Help(), keyboard)
	case "/history":
		r.send(ctx, log, chatID, format.History(r.store.History(userID)), nil)
	case "/reset", format.ResetButton:
		r.reset(log, userID, cmd)
		r.send(ctx, log, chatID, format.ResetDone(), keyboard)
	default:
		return false
	}
	log.Debug("command handled", "command", cmd)
	return true
}

func (r *Relay) reset(log *slog.Logger, userID int64, trigger string) {
	entries := r.store.Len(userID)
	r.store.Clear(userID)
	log.Info("history reset", "entries", entries, "trigger", trigger)
	r.journal(nil, db.EventHistoryReset, map[string]any{
		"user_id": userID,
		"entries": entries,
		"trigger": trigger,
	})
}

func (r *Relay) send(ctx context.Context, log *slog.Logger, chatID int64, text string, keyboard []string) bool {
	var err error
	if len(keyboard) > 0 {
		err = r.commander.SendWithKeyboard(ctx, chatID, text, keyboard)
	} else {
		err = r.commander.SendMessage(ctx, chatID, text)
	}
	if err != nil {
		log.Error("send failed", "error", err)
		r.journal(nil, db.EventReplyFailed, map[string]any{
			"chat_id": chatID,
			"error":   truncate(err.Error(), 1000),
		})
		return false
	}
	return true
}

func (r *Relay) journal(parentID *int64, eventType string, payload map[string]any) int64 {
	if parentID == nil || *parentID == 0 {
		parentID = &r.opts.ParentEventID
	}
	id, err := r.opts.Journal.Log(parentID, eventType, payload)
	if err != nil {
		r.log.Warn("journal write failed", "event", eventType, "error", err)
	}
	return id
}

// parseCommand recognises "/cmd", "/cmd@bot" and the reset button label.
func parseCommand(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == format.ResetButton {
		return trimmed, true
	}
	if !strings.HasPrefix(trimmed, "/") {
		return "", false
	}
	cmd := strings.Fields(trimmed)[0]
	if at := strings.IndexByte(cmd, '@'); at > 0 {
		cmd = cmd[:at]
	}
	return cmd, true
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + "..."
}
