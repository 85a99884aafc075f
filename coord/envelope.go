// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package coord

import (
	"fmt"
	"strconv"
	"strings"
)

// InstanceID is a bot instance's protocol identity: a non-negative
// integer unique per deployed instance, fixed at process start.
type InstanceID int

// Broadcast is the envelope recipient meaning "every instance".
const Broadcast InstanceID = -1

// String implements fmt.Stringer.
func (id InstanceID) String() string { return strconv.Itoa(int(id)) }

// Kind identifies a protocol message.
type Kind string

// The eight protocol message kinds. The string values are the wire
// representation and must never change while any older instance is
// deployed.
const (
	KindConnect          Kind = "connect"
	KindConnectAck       Kind = "connectack"
	KindLetMaster        Kind = "letmaster"
	KindEnsureDisplay    Kind = "ensure"
	KindSendDB           Kind = "senddb"
	KindSendDBAck        Kind = "senddback"
	KindSendWorkspace    Kind = "sendws"
	KindSendWorkspaceAck Kind = "sendwsack"
)

// Kinds lists every protocol kind, in wire-name order of introduction.
// The hub sizes its queues from this.
var Kinds = []Kind{
	KindConnect, KindConnectAck, KindLetMaster, KindEnsureDisplay,
	KindSendDB, KindSendDBAck, KindSendWorkspace, KindSendWorkspaceAck,
}

func validKind(k Kind) bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Envelope is one unit of inter-instance communication: a sender, a
// recipient (or Broadcast), a kind, a free-text payload, and an
// optional binary blob for the database and workspace transfers.
type Envelope struct {
	From    InstanceID
	To      InstanceID
	Kind    Kind
	Payload string
	Blob    []byte
}

// EncodeText renders the envelope's textual part: four slash-separated
// fields. The payload must not contain the separator — there is no
// escaping on this wire, so a slash would corrupt the framing for
// every deployed instance. Callers that embed free text in payloads
// must guarantee this.
func (e Envelope) EncodeText() (string, error) {
	if !validKind(e.Kind) {
		return "", fmt.Errorf("coord: unknown message kind %q", e.Kind)
	}
	if strings.ContainsRune(e.Payload, '/') {
		return "", fmt.Errorf("coord: payload contains %q separator: %q", "/", e.Payload)
	}
	return e.From.String() + "/" + e.To.String() + "/" + string(e.Kind) + "/" + e.Payload, nil
}

// DecodeText parses the textual part of an envelope. Anything that
// does not split into exactly four fields with a known kind and
// numeric ids is an error; the transport logs and drops such messages
// rather than failing.
func DecodeText(text string) (Envelope, error) {
	fields := strings.Split(text, "/")
	if len(fields) != 4 {
		return Envelope{}, fmt.Errorf("coord: envelope has %d fields, want 4: %q", len(fields), text)
	}

	from, err := strconv.Atoi(fields[0])
	if err != nil {
		return Envelope{}, fmt.Errorf("coord: bad sender id %q: %w", fields[0], err)
	}
	to, err := strconv.Atoi(fields[1])
	if err != nil {
		return Envelope{}, fmt.Errorf("coord: bad recipient id %q: %w", fields[1], err)
	}
	kind := Kind(fields[2])
	if !validKind(kind) {
		return Envelope{}, fmt.Errorf("coord: unknown message kind %q", fields[2])
	}

	return Envelope{
		From:    InstanceID(from),
		To:      InstanceID(to),
		Kind:    kind,
		Payload: fields[3],
	}, nil
}
