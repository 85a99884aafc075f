// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"

	"github.com/chorus-foundation/chorus/coord"
	"github.com/chorus-foundation/chorus/messaging"
	"github.com/chorus-foundation/chorus/replay"
)

// handleReplay uploads a posted .w3g file to the stats service and
// announces the result. The whole pipeline runs inside one
// ensure-display with a long window: download, upload, and parse can
// take most of a minute, and only one instance should do it. The
// attachment id names the result binding, so a redelivered message
// does not re-announce.
func (b *Bot) handleReplay(ctx context.Context, message messaging.Message, attachment messaging.Attachment) {
	b.logger.Info("replay posted",
		"file", attachment.Filename, "bytes", attachment.Size, "author", message.Author.ID)

	err := b.coordinator.EnsureDisplay(ctx, func(ctx context.Context) (any, error) {
		data, err := b.chat.DownloadAttachment(ctx, attachment)
		if err != nil {
			return nil, err
		}

		parsed, body, err := b.uploader.Upload(ctx, attachment.Filename, data)
		var outgoing messaging.Outgoing
		switch {
		case err == nil:
			embed := replay.RenderEmbed(parsed, b.uploader.ViewURL(parsed.ID))
			outgoing = messaging.Outgoing{Embeds: []messaging.Embed{embed}}
		case body != nil:
			// Upload went through but the game data was unreadable;
			// a plain link beats silence.
			b.logger.Warn("replay parse failed", "file", attachment.Filename, "error", err)
			if id, ok := replay.GameID(body); ok {
				outgoing = messaging.Outgoing{Content: replay.FallbackContent(b.uploader.ViewURL(id))}
			} else {
				outgoing = messaging.Outgoing{Content: "Replay uploaded, but the stats service choked on it."}
			}
		default:
			b.logger.Error("replay upload failed", "file", attachment.Filename, "error", err)
			outgoing = messaging.Outgoing{Content: "Replay upload failed, try again later."}
		}

		created, err := b.chat.CreateMessage(ctx, message.ChannelID, outgoing, nil)
		if err != nil {
			return nil, err
		}
		return int64(created.ID), nil
	}, coord.DisplayOptions{
		Window:     b.replayWin,
		ReturnName: "replaymsg" + attachment.ID.String(),
	})
	if err != nil {
		b.logger.Error("replay announcement failed", "file", attachment.Filename, "error", err)
	}
}
