// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chorus-foundation/chorus/coord"
)

// blobFilename is the attachment name for envelope blobs. The content
// is opaque to the platform; the receiver only cares that exactly one
// attachment is present.
const blobFilename = "state.bin"

// ChannelTransport posts coordination envelopes into the shared
// coordination channel. It implements coord.Transport.
type ChannelTransport struct {
	client    *Client
	channelID ID
}

// NewChannelTransport returns a transport bound to one channel.
func NewChannelTransport(client *Client, channelID ID) *ChannelTransport {
	return &ChannelTransport{client: client, channelID: channelID}
}

// Send encodes the envelope and posts it. A blob rides as a file
// attachment next to the four-field text.
func (t *ChannelTransport) Send(ctx context.Context, env coord.Envelope) error {
	text, err := env.EncodeText()
	if err != nil {
		return err
	}

	var files []FileUpload
	if env.Blob != nil {
		files = []FileUpload{{Name: blobFilename, Data: env.Blob}}
	}
	if _, err := t.client.CreateMessage(ctx, t.channelID, Outgoing{Content: text}, files); err != nil {
		return fmt.Errorf("messaging: posting %s envelope: %w", env.Kind, err)
	}
	return nil
}

// EnvelopeSink receives decoded coordination envelopes. Implemented by
// coord.Coordinator.
type EnvelopeSink interface {
	HandleEnvelope(ctx context.Context, env coord.Envelope) error
}

// EnvelopeHandler adapts an EnvelopeSink to a watcher's message
// callback: each channel message is decoded as an envelope, the blob
// attachment downloaded when present, and the result handed to the
// sink. Messages that do not parse are logged and dropped — the
// coordination channel legitimately sees operator chatter, and a
// malformed envelope must never take the instance down.
func EnvelopeHandler(client *Client, sink EnvelopeSink, logger *slog.Logger) func(ctx context.Context, message Message) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, message Message) {
		env, err := coord.DecodeText(message.Content)
		if err != nil {
			logger.Warn("undecodable coordination message",
				"message_id", message.ID, "content", message.Content, "error", err)
			return
		}

		if len(message.Attachments) > 0 {
			blob, err := client.DownloadAttachment(ctx, message.Attachments[0])
			if err != nil {
				logger.Error("envelope attachment download failed",
					"message_id", message.ID, "kind", env.Kind, "error", err)
				return
			}
			env.Blob = blob
		}

		if err := sink.HandleEnvelope(ctx, env); err != nil {
			logger.Error("envelope handling failed",
				"from", env.From, "kind", env.Kind, "error", err)
		}
	}
}
