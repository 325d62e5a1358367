// Package replication implements peer-to-peer eventually-consistent
// replication over TLS1.3 with OIDC bearer-token peer authentication
// (the server does not request client certificates), ported from
// _examples/original_source/src/sync/agent.rs.
package replication

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cuemby/vigil/pkg/graph"
	"github.com/cuemby/vigil/pkg/vigilerr"
)

// MaxFrameSize bounds a single wire message, matching the original's
// MAX_ENTRY_SIZE (10 MiB) — applies to both the length prefix a peer
// claims and the bytes actually read.
const MaxFrameSize = 10 * 1024 * 1024

// MessageType discriminates a Message's purpose. The original protocol
// models this as a serde internally-tagged enum (SyncMessage); Go has no
// tagged-union type, so this is represented as one flat Message struct
// with a Type discriminator and omitempty fields, the idiomatic
// equivalent for a small fixed protocol.
type MessageType string

const (
	TypeAuth         MessageType = "auth"
	TypeAuthOK       MessageType = "auth_ok"
	TypeAuthFailed   MessageType = "auth_failed"
	TypePush         MessageType = "push"
	TypePushAck      MessageType = "push_ack"
	TypePull         MessageType = "pull"
	TypePullResponse MessageType = "pull_response"
	TypePing         MessageType = "ping"
	TypePong         MessageType = "pong"
	TypeError        MessageType = "error"
)

// Message is the single wire envelope for every replication protocol
// exchange.
type Message struct {
	Type MessageType `json:"type"`

	Token  string `json:"token,omitempty"`
	Reason string `json:"reason,omitempty"`

	Entries []graph.ChangeLogEntry `json:"entries,omitempty"`
	Count   int                    `json:"count,omitempty"`

	SinceTimestampUnix int64 `json:"since_timestamp,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// WriteMessage frames msg as a 4-byte big-endian length prefix followed by
// its JSON encoding, and flushes w.
func WriteMessage(w *bufio.Writer, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return vigilerr.Wrap(vigilerr.KindMalformedFrame, "failed to encode replication message", err)
	}
	if len(body) > MaxFrameSize {
		return vigilerr.New(vigilerr.KindFrameTooLarge, fmt.Sprintf("message size %d exceeds maximum %d", len(body), MaxFrameSize))
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body)))

	if _, err := w.Write(lenPrefix[:]); err != nil {
		return vigilerr.Wrap(vigilerr.KindMalformedFrame, "failed to write message length", err)
	}
	if _, err := w.Write(body); err != nil {
		return vigilerr.Wrap(vigilerr.KindMalformedFrame, "failed to write message body", err)
	}
	return w.Flush()
}

// ReadMessage reads one length-prefixed JSON message from r, rejecting a
// claimed or actual size over MaxFrameSize.
func ReadMessage(r io.Reader) (Message, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return Message{}, vigilerr.Wrap(vigilerr.KindMalformedFrame, "failed to read message length", err)
	}

	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > MaxFrameSize {
		return Message{}, vigilerr.New(vigilerr.KindFrameTooLarge, fmt.Sprintf("message size %d exceeds maximum %d", n, MaxFrameSize))
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, vigilerr.Wrap(vigilerr.KindMalformedFrame, "failed to read message body", err)
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, vigilerr.Wrap(vigilerr.KindMalformedFrame, "failed to decode replication message", err)
	}
	return msg, nil
}
