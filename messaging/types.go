// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"fmt"
	"strconv"
	"time"
)

// ID is a platform snowflake. The wire representation is a decimal
// string (JavaScript clients cannot hold 64-bit integers); internally
// it is an int64 so message ids can ride in coordination payloads.
type ID int64

// String returns the decimal form.
func (id ID) String() string { return strconv.FormatInt(int64(id), 10) }

// MarshalJSON renders the id as a quoted decimal string.
func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON accepts both quoted and bare decimal forms.
func (id *ID) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" || s == "" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("messaging: bad id %q: %w", string(data), err)
	}
	*id = ID(n)
	return nil
}

// User is a platform account.
type User struct {
	ID   ID     `json:"id"`
	Name string `json:"username"`
	Bot  bool   `json:"bot,omitempty"`
}

// Member is a user's guild-scoped profile, including role membership.
type Member struct {
	User     User      `json:"user"`
	Nick     string    `json:"nick,omitempty"`
	Roles    []ID      `json:"roles"`
	JoinedAt time.Time `json:"joined_at"`
}

// HasRole reports whether the member holds the given role.
func (m Member) HasRole(role ID) bool {
	for _, r := range m.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// DisplayName returns the guild nickname, falling back to the account
// name.
func (m Member) DisplayName() string {
	if m.Nick != "" {
		return m.Nick
	}
	return m.User.Name
}

// Attachment is a file hung off a message.
type Attachment struct {
	ID       ID     `json:"id"`
	Filename string `json:"filename"`
	Size     int    `json:"size"`
	URL      string `json:"url"`
}

// EmbedField is one name/value pair in an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedFooter is the small line under an embed.
type EmbedFooter struct {
	Text string `json:"text"`
}

// Embed is a rich message card.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

// Message is a channel message as the platform returns it.
type Message struct {
	ID          ID           `json:"id"`
	ChannelID   ID           `json:"channel_id"`
	Author      User         `json:"author"`
	Content     string       `json:"content"`
	Embeds      []Embed      `json:"embeds,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Outgoing is a message to send or an edit to apply. Embeds are
// dropped from the request body when empty, so an edit carrying only
// content leaves a message's existing embeds in place; to change them,
// send the full replacement set.
type Outgoing struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// FileUpload attaches a file to an outgoing message.
type FileUpload struct {
	Name string
	Data []byte
}
