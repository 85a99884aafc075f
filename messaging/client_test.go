// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{
		BaseURL: server.URL,
		Token:   "test-token",
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestNewClientRequiresBaseURLAndToken(t *testing.T) {
	if _, err := NewClient(ClientConfig{Token: "t"}); err == nil {
		t.Error("NewClient accepted empty BaseURL")
	}
	if _, err := NewClient(ClientConfig{BaseURL: "http://chat.example.com"}); err == nil {
		t.Error("NewClient accepted empty Token")
	}
}

func TestSendMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/channels/42/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bot test-token" {
			t.Errorf("auth header = %q", got)
		}
		var outgoing Outgoing
		if err := json.NewDecoder(r.Body).Decode(&outgoing); err != nil {
			t.Fatal(err)
		}
		if outgoing.Content != "pong" {
			t.Errorf("content = %q, want pong", outgoing.Content)
		}
		json.NewEncoder(w).Encode(Message{ID: 1001, ChannelID: 42, Content: "pong"})
	})

	message, err := client.SendMessage(context.Background(), 42, "pong")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if message.ID != 1001 {
		t.Errorf("message id = %v, want 1001", message.ID)
	}
}

func TestCreateMessageWithFileUsesMultipart(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("not multipart: %v", err)
		}
		payload := r.FormValue("payload_json")
		var outgoing Outgoing
		if err := json.Unmarshal([]byte(payload), &outgoing); err != nil {
			t.Fatalf("bad payload_json: %v", err)
		}
		if outgoing.Content != "1/2/senddb/" {
			t.Errorf("payload content = %q", outgoing.Content)
		}
		file, header, err := r.FormFile("files[0]")
		if err != nil {
			t.Fatalf("missing file part: %v", err)
		}
		defer file.Close()
		if header.Filename != "state.bin" {
			t.Errorf("filename = %q", header.Filename)
		}
		json.NewEncoder(w).Encode(Message{ID: 1002})
	})

	_, err := client.CreateMessage(context.Background(), 42,
		Outgoing{Content: "1/2/senddb/"},
		[]FileUpload{{Name: "state.bin", Data: []byte{1, 2, 3}}})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
}

func TestMessagesAfterReversesToOldestFirst(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("after"); got != "100" {
			t.Errorf("after = %q, want 100", got)
		}
		// Platform order: newest first.
		json.NewEncoder(w).Encode([]Message{{ID: 103}, {ID: 102}, {ID: 101}})
	})

	messages, err := client.MessagesAfter(context.Background(), 42, 100, 50)
	if err != nil {
		t.Fatalf("MessagesAfter: %v", err)
	}
	if len(messages) != 3 || messages[0].ID != 101 || messages[2].ID != 103 {
		t.Errorf("messages = %+v, want ids 101..103 ascending", messages)
	}
}

func TestErrorResponseMapsToAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"code": 10008, "message": "Unknown Message"})
	})

	_, err := client.EditMessage(context.Background(), 42, 7, Outgoing{Content: "x"})
	if err == nil {
		t.Fatal("error response reported success")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %v is not *APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != 10008 {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if !IsNotFound(err) {
		t.Error("IsNotFound = false")
	}
}

func TestRateLimitDetection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{"code": 0, "message": "rate limited", "retry_after": 1.5})
	})

	_, err := client.SendMessage(context.Background(), 42, "x")
	if !IsRateLimited(err) {
		t.Fatalf("IsRateLimited = false for %v", err)
	}
	var apiErr *APIError
	errors.As(err, &apiErr)
	if apiErr.RetryAfter != 1.5 {
		t.Errorf("RetryAfter = %v, want 1.5", apiErr.RetryAfter)
	}
}

func TestIDJSONRoundTrip(t *testing.T) {
	var message Message
	if err := json.Unmarshal([]byte(`{"id":"779000111222333444","channel_id":42}`), &message); err != nil {
		t.Fatal(err)
	}
	if message.ID != 779000111222333444 {
		t.Errorf("id = %d", message.ID)
	}
	if message.ChannelID != 42 {
		t.Errorf("channel id from bare int = %d", message.ChannelID)
	}

	out, err := json.Marshal(message.ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `"779000111222333444"` {
		t.Errorf("marshalled id = %s", out)
	}
}

func TestMemberHasRole(t *testing.T) {
	member := Member{Roles: []ID{1, 2, 3}}
	if !member.HasRole(2) {
		t.Error("HasRole(2) = false")
	}
	if member.HasRole(9) {
		t.Error("HasRole(9) = true")
	}
}

func TestReactions(t *testing.T) {
	var method, path string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.EscapedPath()
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.AddReaction(context.Background(), 42, 1001, "🔔"); err != nil {
		t.Fatalf("AddReaction: %v", err)
	}
	if method != http.MethodPut {
		t.Errorf("method = %s, want PUT", method)
	}
	if path != "/channels/42/messages/1001/reactions/%F0%9F%94%94/@me" {
		t.Errorf("path = %s", path)
	}

	if err := client.RemoveOwnReaction(context.Background(), 42, 1001, "🔔"); err != nil {
		t.Fatalf("RemoveOwnReaction: %v", err)
	}
	if method != http.MethodDelete {
		t.Errorf("method = %s, want DELETE", method)
	}
}

// An edit without embeds must not serialize an embeds field at all:
// the platform would treat an explicit empty array as "clear them".
func TestEditWithoutEmbedsOmitsField(t *testing.T) {
	var raw map[string]json.RawMessage
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Fatal(err)
		}
		json.NewEncoder(w).Encode(Message{ID: 1001, ChannelID: 42})
	})

	_, err := client.EditMessage(context.Background(), 42, 1001, Outgoing{Content: "updated"})
	if err != nil {
		t.Fatalf("EditMessage: %v", err)
	}
	if _, present := raw["embeds"]; present {
		t.Errorf("content-only edit sent embeds: %s", raw["embeds"])
	}
}
