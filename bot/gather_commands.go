// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/chorus-foundation/chorus/coord"
	"github.com/chorus-foundation/chorus/messaging"
)

// handleOkib joins (or opens) the gather session. "okib later" answers
// tentatively; "okib retrieve" reposts the list message when it has
// scrolled out of sight.
func (b *Bot) handleOkib(ctx context.Context, message messaging.Message, args []string) {
	author := int64(message.Author.ID)

	if len(args) > 0 && strings.EqualFold(args[0], "retrieve") {
		b.retrieveGatherList(ctx, message)
		return
	}

	status := statusOK
	if len(args) > 0 && strings.EqualFold(args[0], "later") {
		status = statusLater
	}

	if !b.hasRole(ctx, message.Author.ID, b.roles.Member) {
		b.reply(ctx, message.ChannelID, "Gathering is for members.")
		return
	}

	b.mu.Lock()
	if b.gather == nil {
		// Opening a session takes the host tier; joining one takes
		// only membership.
		if !b.hasRole(ctx, message.Author.ID, b.roles.Host) {
			b.mu.Unlock()
			b.reply(ctx, message.ChannelID, "Starting a gather needs the host role.")
			return
		}
		b.gather = &gatherSession{Gatherer: author, StartedAt: b.clk.Now()}
		b.logger.Info("gather opened", "gatherer", author)
	}
	b.gather.setStatus(author, status)

	justGathered := false
	if !b.gather.Gathered && b.gather.ready() {
		b.gather.Gathered = true
		justGathered = true
	}
	content := b.gather.render()
	okList := append([]int64(nil), b.gather.OK...)
	b.mu.Unlock()

	b.postGatherList(ctx, message.ChannelID, content)
	if justGathered {
		b.announceGathered(ctx, message.ChannelID, okList)
	}
}

// handleNoib declines the gather. The gatherer declining dissolves the
// whole session.
func (b *Bot) handleNoib(ctx context.Context, message messaging.Message) {
	author := int64(message.Author.ID)

	b.mu.Lock()
	if b.gather == nil {
		b.mu.Unlock()
		return
	}
	if b.gather.Gatherer == author {
		b.gather = nil
		b.mu.Unlock()
		b.dissolveGatherList(ctx, message.ChannelID)
		b.reply(ctx, message.ChannelID, "Gather called off.")
		return
	}
	b.gather.setStatus(author, statusNo)
	content := b.gather.render()
	b.mu.Unlock()

	b.postGatherList(ctx, message.ChannelID, content)
}

// retrieveGatherList reposts the list as a fresh message and rebinds
// the shared message id to it.
func (b *Bot) retrieveGatherList(ctx context.Context, message messaging.Message) {
	b.mu.Lock()
	if b.gather == nil {
		b.mu.Unlock()
		b.reply(ctx, message.ChannelID, "No gather running.")
		return
	}
	content := b.gather.render()
	b.mu.Unlock()

	b.coordinator.Unbind(gatherMessageKey)
	b.postGatherList(ctx, message.ChannelID, content)
}

// postGatherList creates or edits the shared list message. The create
// path binds the message id so every instance, and any successor
// master, edits the same message.
func (b *Bot) postGatherList(ctx context.Context, channelID messaging.ID, content string) {
	if value, ok := b.coordinator.Binding(gatherMessageKey); ok {
		messageID, _ := value.(int64)
		err := b.coordinator.EnsureDisplay(ctx, func(ctx context.Context) (any, error) {
			_, err := b.chat.EditMessage(ctx, channelID, messaging.ID(messageID), messaging.Outgoing{Content: content})
			if messaging.IsNotFound(err) {
				return nil, nil
			}
			return nil, err
		}, coord.DisplayOptions{})
		if err != nil {
			b.logger.Error("gather list edit failed", "error", err)
		}
		return
	}

	err := b.coordinator.EnsureDisplay(ctx, func(ctx context.Context) (any, error) {
		created, err := b.chat.SendMessage(ctx, channelID, content)
		if err != nil {
			return nil, err
		}
		// The bell invites the one-click answer; losing it is cosmetic.
		if err := b.chat.AddReaction(ctx, channelID, created.ID, "🔔"); err != nil {
			b.logger.Warn("gather bell reaction failed", "error", err)
		}
		return int64(created.ID), nil
	}, coord.DisplayOptions{ReturnName: gatherMessageKey})
	if err != nil {
		b.logger.Error("gather list post failed", "error", err)
	}
}

// dissolveGatherList removes the list message when a session ends.
func (b *Bot) dissolveGatherList(ctx context.Context, channelID messaging.ID) {
	value, ok := b.coordinator.Binding(gatherMessageKey)
	if !ok {
		return
	}
	messageID, _ := value.(int64)
	err := b.coordinator.EnsureDisplay(ctx, func(ctx context.Context) (any, error) {
		err := b.chat.DeleteMessage(ctx, channelID, messaging.ID(messageID))
		if err != nil && !messaging.IsNotFound(err) {
			return nil, err
		}
		return nil, nil
	}, coord.DisplayOptions{})
	if err != nil {
		b.logger.Error("gather list cleanup failed", "error", err)
		return
	}
	b.coordinator.Unbind(gatherMessageKey)
}

// announceGathered pings the gathered players plus everyone on the
// bell list.
func (b *Bot) announceGathered(ctx context.Context, channelID messaging.ID, okList []int64) {
	subscribers, err := b.store.Subscribers(ctx)
	if err != nil {
		b.logger.Error("subscriber list failed", "error", err)
	}
	pings := append([]int64(nil), okList...)
	for _, sub := range subscribers {
		if !containsMember(pings, sub) {
			pings = append(pings, sub)
		}
	}
	b.reply(ctx, channelID,
		fmt.Sprintf("**Game gathered!** Get in: %s", mentionList(pings)))
}

func containsMember(list []int64, member int64) bool {
	for _, m := range list {
		if m == member {
			return true
		}
	}
	return false
}
