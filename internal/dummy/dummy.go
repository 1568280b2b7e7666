// Package dummy provides scripted Commander and Provider implementations for
// local runs without credentials and for tests.
//
// A script is a comma-separated list of actions consumed one per call; the
// last action repeats once the script is exhausted. Actions:
//
//	ok            succeed (provider replies "dummy-ok", commander returns nothing)
//	msg:<text>    reply / deliver <text>
//	msgb64:<b64>  same as msg with base64 text
//	err:<class>   fail; for the provider <class> is a model.ErrorClass
//	sleep:<ms>    wait, honoring context cancellation
package dummy

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	cmdpkg "github.com/stupiduntilnot/chatrelay/internal/commander"
	"github.com/stupiduntilnot/chatrelay/internal/model"
)

// UserID is the sender id of every update produced by Commander.
const UserID int64 = 1

type action struct {
	kind string
	arg  string
}

func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" {
			actions = append(actions, action{kind: "ok"})
			continue
		}
		matched := false
		for _, kind := range []string{"err", "sleep", "msg", "msgb64"} {
			if strings.HasPrefix(token, kind+":") {
				actions = append(actions, action{kind: kind, arg: strings.TrimPrefix(token, kind+":")})
				matched = true
				break
			}
		}
		if !matched {
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

type scriptRunner struct {
	actions []action
	index   int
}

func newRunner(script string) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions}, nil
}

func (r *scriptRunner) next() action {
	if len(r.actions) == 0 {
		return action{kind: "ok"}
	}
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

func sleep(ctx context.Context, arg string) error {
	ms, _ := strconv.Atoi(arg)
	if ms <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func decodeText(a action) (string, error) {
	if a.kind != "msgb64" {
		return a.arg, nil
	}
	raw, err := base64.StdEncoding.DecodeString(a.arg)
	if err != nil {
		return "", fmt.Errorf("dummy msgb64 decode failed: %w", err)
	}
	return string(raw), nil
}

// Sent is a message delivered through Commander.
type Sent struct {
	ChatID   int64
	Text     string
	Keyboard []string
}

type Commander struct {
	mu       sync.Mutex
	poll     *scriptRunner
	send     *scriptRunner
	updateID int64
	sent     []Sent
}

func NewCommander(pollScript, sendScript string) (*Commander, error) {
	poll, err := newRunner(pollScript)
	if err != nil {
		return nil, err
	}
	send, err := newRunner(sendScript)
	if err != nil {
		return nil, err
	}
	return &Commander{poll: poll, send: send, updateID: 1}, nil
}

func (c *Commander) GetUpdates(ctx context.Context, offset int64, timeout int) ([]cmdpkg.Update, error) {
	c.mu.Lock()
	a := c.poll.next()
	c.mu.Unlock()

	switch a.kind {
	case "err":
		return nil, fmt.Errorf("dummy commander error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		return nil, sleep(ctx, a.arg)
	case "msg", "msgb64":
		text, err := decodeText(a)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.updateID++
		id := c.updateID
		c.mu.Unlock()
		return []cmdpkg.Update{
			{
				UpdateID: id,
				Message: &cmdpkg.Message{
					MessageID: id,
					From:      &cmdpkg.User{ID: UserID},
					Chat:      cmdpkg.Chat{ID: UserID},
					Text:      &text,
					Date:      time.Now().Unix(),
				},
			},
		}, nil
	default:
		return nil, nil
	}
}

func (c *Commander) SendMessage(ctx context.Context, chatID int64, text string) error {
	return c.SendWithKeyboard(ctx, chatID, text, nil)
}

func (c *Commander) SendWithKeyboard(ctx context.Context, chatID int64, text string, buttons []string) error {
	c.mu.Lock()
	a := c.send.next()
	c.mu.Unlock()

	switch a.kind {
	case "err":
		return fmt.Errorf("dummy commander send error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		if err := sleep(ctx, a.arg); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, Sent{ChatID: chatID, Text: text, Keyboard: append([]string(nil), buttons...)})
	return nil
}

// Sent returns every message delivered so far, in order.
func (c *Commander) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

type Provider struct {
	mu     sync.Mutex
	model  string
	script *scriptRunner
	calls  [][]model.Message
}

func NewProvider(modelName, script string) (*Provider, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Provider{model: modelName, script: runner}, nil
}

func (p *Provider) ChatCompletion(ctx context.Context, messages []model.Message, params model.Params) (model.CompletionResponse, error) {
	p.mu.Lock()
	a := p.script.next()
	p.calls = append(p.calls, append([]model.Message(nil), messages...))
	p.mu.Unlock()

	switch a.kind {
	case "err":
		class := model.ErrorClass(emptyAs(a.arg, string(model.ClassUnknown)))
		return model.CompletionResponse{}, &model.ClassError{
			Class: class,
			Err:   fmt.Errorf("dummy provider error class=%s", class),
		}
	case "sleep":
		if err := sleep(ctx, a.arg); err != nil {
			return model.CompletionResponse{}, fmt.Errorf("dummy provider: %w", err)
		}
		return model.CompletionResponse{Content: "dummy-after-sleep", InputTokens: 1, OutputTokens: 1}, nil
	case "msg", "msgb64":
		text, err := decodeText(a)
		if err != nil {
			return model.CompletionResponse{}, err
		}
		return model.CompletionResponse{Content: text, InputTokens: 1, OutputTokens: 1}, nil
	default:
		return model.CompletionResponse{Content: "dummy-ok", InputTokens: 1, OutputTokens: 1}, nil
	}
}

// Calls returns the message lists of every completion request, in order.
func (p *Provider) Calls() [][]model.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]model.Message(nil), p.calls...)
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
