// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/chorus-foundation/chorus/coord"
)

func TestChannelTransportSendsEnvelopeText(t *testing.T) {
	var gotContent string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var outgoing Outgoing
		if err := json.NewDecoder(r.Body).Decode(&outgoing); err != nil {
			t.Fatal(err)
		}
		gotContent = outgoing.Content
		json.NewEncoder(w).Encode(Message{ID: 1})
	})

	transport := NewChannelTransport(client, 42)
	err := transport.Send(context.Background(), coord.Envelope{
		From: 1, To: coord.Broadcast, Kind: coord.KindConnect, Payload: "5",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotContent != "1/-1/connect/5" {
		t.Errorf("posted content = %q", gotContent)
	}
}

func TestChannelTransportSendsBlobAsAttachment(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("blob send was not multipart: %v", err)
		}
		file, header, err := r.FormFile("files[0]")
		if err != nil {
			t.Fatal(err)
		}
		defer file.Close()
		if header.Filename != blobFilename {
			t.Errorf("filename = %q", header.Filename)
		}
		json.NewEncoder(w).Encode(Message{ID: 1})
	})

	transport := NewChannelTransport(client, 42)
	err := transport.Send(context.Background(), coord.Envelope{
		From: 1, To: 2, Kind: coord.KindSendDB, Blob: []byte("snapshot"),
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestChannelTransportRejectsBadPayload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("malformed envelope reached the platform")
	})

	transport := NewChannelTransport(client, 42)
	err := transport.Send(context.Background(), coord.Envelope{
		From: 1, To: coord.Broadcast, Kind: coord.KindEnsureDisplay, Payload: "a/b",
	})
	if err == nil {
		t.Fatal("payload with separator accepted")
	}
}

// recordingSink collects envelopes handed over by EnvelopeHandler.
type recordingSink struct {
	mu        sync.Mutex
	envelopes []coord.Envelope
}

func (s *recordingSink) HandleEnvelope(_ context.Context, env coord.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes = append(s.envelopes, env)
	return nil
}

func TestEnvelopeHandlerDecodesAndForwards(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	sink := &recordingSink{}
	handle := EnvelopeHandler(client, sink, slog.New(slog.DiscardHandler))

	handle(context.Background(), Message{ID: 1, Content: "1/-1/connect/5"})

	if len(sink.envelopes) != 1 {
		t.Fatalf("forwarded %d envelopes, want 1", len(sink.envelopes))
	}
	env := sink.envelopes[0]
	if env.From != 1 || env.Kind != coord.KindConnect || env.Payload != "5" {
		t.Errorf("envelope = %+v", env)
	}
}

func TestEnvelopeHandlerDropsChatter(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	sink := &recordingSink{}
	handle := EnvelopeHandler(client, sink, slog.New(slog.DiscardHandler))

	handle(context.Background(), Message{ID: 1, Content: "is the bot down again?"})
	handle(context.Background(), Message{ID: 2, Content: "1/-1/gossip/x"})

	if len(sink.envelopes) != 0 {
		t.Errorf("chatter forwarded as envelopes: %+v", sink.envelopes)
	}
}

func TestEnvelopeHandlerDownloadsAttachment(t *testing.T) {
	blobServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("snapshot-bytes"))
	}))
	t.Cleanup(blobServer.Close)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	sink := &recordingSink{}
	handle := EnvelopeHandler(client, sink, slog.New(slog.DiscardHandler))

	handle(context.Background(), Message{
		ID:      1,
		Content: "1/2/sendws/",
		Attachments: []Attachment{{
			Filename: blobFilename,
			URL:      blobServer.URL + "/state.bin",
		}},
	})

	if len(sink.envelopes) != 1 {
		t.Fatalf("forwarded %d envelopes, want 1", len(sink.envelopes))
	}
	if string(sink.envelopes[0].Blob) != "snapshot-bytes" {
		t.Errorf("blob = %q", sink.envelopes[0].Blob)
	}
}
