package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGetUpdates_MapsSenderAndText(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/getUpdates" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.RawQuery
		_, _ = io.WriteString(w, `{"ok":true,"result":[{"update_id":11,"message":{"message_id":5,"from":{"id":42,"username":"ann"},"chat":{"id":123},"date":1700000000,"text":"Hello"}}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	updates, err := c.GetUpdates(context.Background(), 7, 0)
	if err != nil {
		t.Fatalf("GetUpdates failed: %v", err)
	}
	if !strings.Contains(gotQuery, "offset=7") {
		t.Fatalf("expected offset in query, got %q", gotQuery)
	}
	if len(updates) != 1 || updates[0].Message == nil || updates[0].Message.Text == nil {
		t.Fatalf("unexpected updates: %#v", updates)
	}
	msg := updates[0].Message
	if *msg.Text != "Hello" {
		t.Fatalf("unexpected text: %q", *msg.Text)
	}
	if msg.SenderID() != 42 || msg.Chat.ID != 123 {
		t.Fatalf("unexpected ids: sender=%d chat=%d", msg.SenderID(), msg.Chat.ID)
	}
}

func TestGetUpdates_NotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	_, err := c.GetUpdates(context.Background(), 0, 0)
	if err == nil {
		t.Fatal("expected error for ok=false response")
	}
	if !strings.Contains(err.Error(), "Unauthorized") {
		t.Fatalf("expected description in error, got %v", err)
	}
}

func TestSendMessage_PostsJSON(t *testing.T) {
	var got sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sendMessage" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	if err := c.SendMessage(context.Background(), 123, "Hi there!"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if got.ChatID != 123 || got.Text != "Hi there!" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if got.ReplyMarkup != nil {
		t.Fatalf("expected no keyboard, got %+v", got.ReplyMarkup)
	}
}

func TestSendMessage_TruncatesLongText(t *testing.T) {
	var got sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	if err := c.SendMessage(context.Background(), 1, strings.Repeat("я", MaxMessageChars+10)); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if n := len([]rune(got.Text)); n != MaxMessageChars {
		t.Fatalf("expected %d chars, got %d", MaxMessageChars, n)
	}
}

func TestSendWithKeyboard_SendsReplyKeyboard(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	if err := c.SendWithKeyboard(context.Background(), 123, "Привет!", []string{"🔄 Новый запрос"}); err != nil {
		t.Fatalf("SendWithKeyboard failed: %v", err)
	}
	if !strings.Contains(gotBody, `"keyboard":[[{"text":"🔄 Новый запрос"}]]`) {
		t.Fatalf("expected reply keyboard payload, got: %s", gotBody)
	}
	if !strings.Contains(gotBody, `"resize_keyboard":true`) {
		t.Fatalf("expected resize_keyboard, got: %s", gotBody)
	}
}

func TestGetUpdates_HonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewClient(srv.URL, 5*time.Second)
	if _, err := c.GetUpdates(ctx, 0, 30); err == nil {
		t.Fatal("expected error after context deadline")
	}
}
