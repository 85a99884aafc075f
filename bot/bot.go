// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

// Package bot is the Chorus application: user commands, gather
// sessions, replay announcements, and the replicated workspace, all
// tied to the coordination core so any number of instances present one
// voice.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chorus-foundation/chorus/coord"
	"github.com/chorus-foundation/chorus/lib/clock"
	"github.com/chorus-foundation/chorus/lobby"
	"github.com/chorus-foundation/chorus/messaging"
	"github.com/chorus-foundation/chorus/replay"
	"github.com/chorus-foundation/chorus/warnstore"
)

// Coordinator is the slice of the coordination core the bot drives.
type Coordinator interface {
	EnsureDisplay(ctx context.Context, action coord.Action, opts coord.DisplayOptions) error
	Bind(name string, value any)
	Unbind(name string)
	Binding(name string) (any, bool)
	BindingsWithPrefix(prefix string) map[string]any
	EvictInstance(ctx context.Context, id coord.InstanceID)
	Self() coord.InstanceID
	Initialized() bool
}

// Roles maps permission tiers and region subscriptions to guild role
// ids. A zero id leaves that tier unenforced.
type Roles struct {
	Member   messaging.ID
	Host     messaging.ID
	Officer  messaging.ID
	RegionEU messaging.ID
	RegionKR messaging.ID
	RegionNA messaging.ID
}

// Config configures a Bot. Chat, Store, Uploader, and GuildID are
// required. The coordinator and tracker are injected after
// construction; see SetCoordinator.
type Config struct {
	Chat     *messaging.Client
	Store    *warnstore.Store
	Uploader *replay.Uploader

	GuildID messaging.ID
	Roles   Roles

	// CommandPrefix introduces commands. Defaults to "!".
	CommandPrefix string

	// ReplayWindow is the ensure-display window for replay results.
	// Long, because an upload plus stats parse can take most of a
	// minute. Defaults to 60s.
	ReplayWindow time.Duration

	// Restart is the self-update hook: fetch the current build and
	// restart the process. Called for "update" aimed at this instance
	// and when a peer advertises a newer build.
	Restart func(ctx context.Context) error

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Bot handles every message from the public channel. Construct it,
// build the coordinator with its WorkspaceStore, then SetCoordinator
// before the first message arrives.
type Bot struct {
	chat        *messaging.Client
	tracker     *lobby.Tracker
	store       *warnstore.Store
	uploader    *replay.Uploader
	coordinator Coordinator
	guildID     messaging.ID
	roles       Roles
	prefix      string
	replayWin   time.Duration
	restart     func(ctx context.Context) error
	clk         clock.Clock
	logger      *slog.Logger

	mu     sync.Mutex
	gather *gatherSession
}

// New validates the configuration and returns a Bot.
func New(config Config) (*Bot, error) {
	if config.Chat == nil {
		return nil, fmt.Errorf("bot: Chat is required")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("bot: Store is required")
	}
	if config.Uploader == nil {
		return nil, fmt.Errorf("bot: Uploader is required")
	}
	if config.GuildID == 0 {
		return nil, fmt.Errorf("bot: GuildID is required")
	}

	prefix := config.CommandPrefix
	if prefix == "" {
		prefix = "!"
	}
	replayWin := config.ReplayWindow
	if replayWin <= 0 {
		replayWin = 60 * time.Second
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Bot{
		chat:      config.Chat,
		store:     config.Store,
		uploader:  config.Uploader,
		guildID:   config.GuildID,
		roles:     config.Roles,
		prefix:    prefix,
		replayWin: replayWin,
		restart:   config.Restart,
		clk:       clk,
		logger:    logger,
	}, nil
}

// SetCoordinator wires the coordination core in. Must be called before
// the first HandleMessage; the split exists because the coordinator's
// construction needs the bot's WorkspaceStore.
func (b *Bot) SetCoordinator(c Coordinator) {
	b.coordinator = c
}

// SetTracker wires the lobby tracker in. Must be called before the
// first HandleMessage; the tracker itself is built against the
// coordinator, which is built against this bot.
func (b *Bot) SetTracker(t *lobby.Tracker) {
	b.tracker = t
}

// HandleMessage processes one public-channel message: replay
// attachments first, then commands. Everything that writes to chat
// flows through the coordinator so the deployment answers once.
func (b *Bot) HandleMessage(ctx context.Context, message messaging.Message) {
	if message.Author.Bot {
		return
	}
	if !b.coordinator.Initialized() {
		// No replicated state yet; acting now would desync us from
		// the deployment.
		b.logger.Debug("message ignored while uninitialized", "message", message.ID)
		return
	}

	for _, attachment := range message.Attachments {
		if strings.HasSuffix(strings.ToLower(attachment.Filename), ".w3g") {
			b.handleReplay(ctx, message, attachment)
		}
	}

	if !strings.HasPrefix(message.Content, b.prefix) {
		return
	}
	fields := strings.Fields(strings.TrimPrefix(message.Content, b.prefix))
	if len(fields) == 0 {
		return
	}
	command, args := strings.ToLower(fields[0]), fields[1:]
	author := int64(message.Author.ID)

	b.logger.Info("command", "command", command, "author", author)

	switch command {
	case "ping":
		b.reply(ctx, message.ChannelID, "pong")
	case "warn":
		b.handleWarn(ctx, message, args)
	case "pedigree":
		b.handlePedigree(ctx, message, args)
	case "update":
		b.handleUpdate(ctx, message, args)
	case "getgames":
		b.handleGetGames(ctx, message)
	case "sub":
		b.handleRegion(ctx, message, args, true)
	case "unsub":
		b.handleRegion(ctx, message, args, false)
	case "bell":
		b.handleBell(ctx, message, true)
	case "nobell":
		b.handleBell(ctx, message, false)
	case "okib":
		b.handleOkib(ctx, message, args)
	case "noib":
		b.handleNoib(ctx, message)
	}
}

// reply sends a plain answer through the coordination choke point.
func (b *Bot) reply(ctx context.Context, channelID messaging.ID, content string) {
	err := b.coordinator.EnsureDisplay(ctx, func(ctx context.Context) (any, error) {
		_, err := b.chat.SendMessage(ctx, channelID, content)
		return nil, err
	}, coord.DisplayOptions{})
	if err != nil {
		b.logger.Error("reply failed", "error", err)
	}
}

// hasRole checks a permission tier. A zero role id means the tier is
// not enforced in this deployment.
func (b *Bot) hasRole(ctx context.Context, userID messaging.ID, role messaging.ID) bool {
	if role == 0 {
		return true
	}
	member, err := b.chat.GuildMember(ctx, b.guildID, userID)
	if err != nil {
		b.logger.Error("member lookup failed", "user", userID, "error", err)
		return false
	}
	return member.HasRole(role)
}

func (b *Bot) requireOfficer(ctx context.Context, message messaging.Message) bool {
	if b.hasRole(ctx, message.Author.ID, b.roles.Officer) {
		return true
	}
	b.reply(ctx, message.ChannelID, "That command needs the officer role.")
	return false
}

func (b *Bot) handleWarn(ctx context.Context, message messaging.Message, args []string) {
	if !b.requireOfficer(ctx, message) {
		return
	}
	if len(args) < 2 {
		b.reply(ctx, message.ChannelID, "Usage: "+b.prefix+"warn <user> <reason>")
		return
	}
	target, ok := parseUserRef(args[0])
	if !ok {
		b.reply(ctx, message.ChannelID, "I don't know who "+args[0]+" is.")
		return
	}
	reason := strings.Join(args[1:], " ")

	id, err := b.store.AddWarning(ctx, target, int64(message.Author.ID), reason, b.clk.Now())
	if err != nil {
		b.logger.Error("warn failed", "target", target, "error", err)
		b.reply(ctx, message.ChannelID, "Could not record the warning.")
		return
	}
	b.reply(ctx, message.ChannelID,
		fmt.Sprintf("Warning #%d recorded against %s: %s", id, mention(target), reason))
}

func (b *Bot) handlePedigree(ctx context.Context, message messaging.Message, args []string) {
	if len(args) != 1 {
		b.reply(ctx, message.ChannelID, "Usage: "+b.prefix+"pedigree <user>")
		return
	}
	target, ok := parseUserRef(args[0])
	if !ok {
		b.reply(ctx, message.ChannelID, "I don't know who "+args[0]+" is.")
		return
	}

	warnings, err := b.store.Warnings(ctx, target)
	if err != nil {
		b.logger.Error("pedigree failed", "target", target, "error", err)
		b.reply(ctx, message.ChannelID, "Could not read the record.")
		return
	}
	if len(warnings) == 0 {
		b.reply(ctx, message.ChannelID, mention(target)+" has a clean record.")
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s has %d warning(s):\n", mention(target), len(warnings))
	for i, w := range warnings {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, w.CreatedAt.Format("2006-01-02"), w.Reason)
	}
	b.reply(ctx, message.ChannelID, strings.TrimRight(sb.String(), "\n"))
}

// handleUpdate restarts this instance onto the current build, or
// evicts a peer so the protocol routes around it. The self case is
// deliberately not a distributed action: the instance is about to
// leave the deployment either way.
func (b *Bot) handleUpdate(ctx context.Context, message messaging.Message, args []string) {
	if !b.requireOfficer(ctx, message) {
		return
	}

	self := b.coordinator.Self()
	target := self
	if len(args) > 0 {
		parsed, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			b.reply(ctx, message.ChannelID, "Usage: "+b.prefix+"update [instance]")
			return
		}
		target = coord.InstanceID(parsed)
	}

	if target == self {
		if b.restart == nil {
			b.logger.Warn("update requested but no restart hook installed")
			return
		}
		b.logger.Info("restarting for update", "requested_by", message.Author.ID)
		if err := b.restart(ctx); err != nil {
			b.logger.Error("self update failed", "error", err)
		}
		return
	}

	b.coordinator.EvictInstance(ctx, target)
	b.reply(ctx, message.ChannelID, fmt.Sprintf("Instance %d evicted for update.", target))
}

func (b *Bot) handleGetGames(ctx context.Context, message messaging.Message) {
	if err := b.tracker.Refresh(ctx); err != nil {
		b.logger.Error("manual refresh failed", "error", err)
		b.reply(ctx, message.ChannelID, "Could not reach the game list.")
		return
	}
	open := b.tracker.Open()
	if len(open) == 0 {
		b.reply(ctx, message.ChannelID, "No open lobbies right now.")
		return
	}
	names := make([]string, len(open))
	for i, l := range open {
		names[i] = l.String()
	}
	b.reply(ctx, message.ChannelID,
		fmt.Sprintf("%d open lobby(ies): %s", len(open), strings.Join(names, "; ")))
}

// regionRoles maps the sub/unsub argument to the configured role.
func (b *Bot) regionRole(name string) (messaging.ID, bool) {
	switch strings.ToLower(name) {
	case "eu":
		return b.roles.RegionEU, b.roles.RegionEU != 0
	case "kr":
		return b.roles.RegionKR, b.roles.RegionKR != 0
	case "na":
		return b.roles.RegionNA, b.roles.RegionNA != 0
	default:
		return 0, false
	}
}

func (b *Bot) handleRegion(ctx context.Context, message messaging.Message, args []string, subscribe bool) {
	if len(args) != 1 {
		b.reply(ctx, message.ChannelID, "Usage: "+b.prefix+"sub <eu|kr|na>")
		return
	}
	role, ok := b.regionRole(args[0])
	if !ok {
		b.reply(ctx, message.ChannelID, "Unknown region "+args[0]+".")
		return
	}

	// Role changes are idempotent on the platform side, so they ride
	// through the choke point without a return name.
	verb := "subscribed to"
	err := b.coordinator.EnsureDisplay(ctx, func(ctx context.Context) (any, error) {
		if subscribe {
			return nil, b.chat.AddRole(ctx, b.guildID, message.Author.ID, role)
		}
		return nil, b.chat.RemoveRole(ctx, b.guildID, message.Author.ID, role)
	}, coord.DisplayOptions{})
	if !subscribe {
		verb = "unsubscribed from"
	}
	if err != nil {
		b.logger.Error("region role change failed", "user", message.Author.ID, "error", err)
		return
	}
	b.reply(ctx, message.ChannelID,
		fmt.Sprintf("%s %s %s games.", mention(int64(message.Author.ID)), verb, strings.ToUpper(args[0])))
}

func (b *Bot) handleBell(ctx context.Context, message messaging.Message, subscribe bool) {
	author := int64(message.Author.ID)
	var err error
	if subscribe {
		err = b.store.Subscribe(ctx, author)
	} else {
		err = b.store.Unsubscribe(ctx, author)
	}
	if err != nil {
		b.logger.Error("bell change failed", "user", author, "error", err)
		b.reply(ctx, message.ChannelID, "Could not update your notification setting.")
		return
	}
	if subscribe {
		b.reply(ctx, message.ChannelID, mention(author)+" will be pinged when a game gathers.")
	} else {
		b.reply(ctx, message.ChannelID, mention(author)+" will no longer be pinged.")
	}
}

// parseUserRef accepts a platform mention ("<@123>", "<@!123>") or a
// bare decimal id.
func parseUserRef(s string) (int64, bool) {
	s = strings.TrimPrefix(s, "<@")
	s = strings.TrimPrefix(s, "!")
	s = strings.TrimSuffix(s, ">")
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
