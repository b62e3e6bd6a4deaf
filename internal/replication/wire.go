// Wire framing for OutMessage/InMessage: newline-delimited JSON over an
// io.ReadWriter, the same shape internal/rpc/protocol.go uses for daemon RPC
// (bufio.Reader.ReadBytes('\n') / json.Marshal + a trailing '\n'). Any
// io.ReadWriteCloser session can carry it; this package never assumes a
// socket or a particular transport.
package replication

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/weftdb/weft/internal/replication/logheight"
)

// InMessage is one inbound protocol message, decoded off the wire. It
// mirrors OutMessage's payload shape plus the sender-supplied identifiers
// HandleSyncRequest/HandleHave/HandleEntry/HandleSyncDone need.
type InMessage struct {
	SessionId  uint64
	Kind       MessageKind
	RemotePeer PeerId

	SyncRequest *SyncRequestPayload
	Have        *HavePayload
	Entry       *EntryWire
	SyncDone    *SyncDonePayload
}

// EntryWire is the wire form of logheight.EntryMessage: byte slices travel
// as base64 inside JSON, which encoding/json already does for []byte.
type EntryWire struct {
	EncodedEntry     []byte `json:"encoded_entry"`
	EncodedOperation []byte `json:"encoded_operation,omitempty"`
}

// wireEnvelope is the on-the-wire JSON shape. CorrelationId is a
// github.com/google/uuid value stamped on every outbound frame purely for
// log correlation; the protocol's own session identity is SessionId, a
// small integer, same split as the teacher's Request.RequestID versus its
// operation/session semantics.
type wireEnvelope struct {
	CorrelationId string              `json:"correlation_id"`
	SessionId     uint64              `json:"session_id"`
	Kind          MessageKind         `json:"kind"`
	RemotePeer    PeerId              `json:"remote_peer,omitempty"`
	SyncRequest   *SyncRequestPayload `json:"sync_request,omitempty"`
	Have          *HavePayload        `json:"have,omitempty"`
	Entry         *EntryWire          `json:"entry,omitempty"`
	SyncDone      *SyncDonePayload    `json:"sync_done,omitempty"`
}

// Conn frames OutMessage/InMessage values over an io.ReadWriter as
// newline-delimited JSON, matching internal/rpc's wire idiom exactly.
type Conn struct {
	r *bufio.Reader
	w *bufio.Writer
}

// NewConn wraps rw for framed replication message exchange.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{r: bufio.NewReader(rw), w: bufio.NewWriter(rw)}
}

// WriteMessage encodes msg as one newline-terminated JSON line.
func (c *Conn) WriteMessage(msg *OutMessage) error {
	env := wireEnvelope{
		CorrelationId: uuid.NewString(),
		SessionId:     msg.SessionId,
		Kind:          msg.Kind,
		SyncRequest:   msg.SyncRequest,
		Have:          msg.Have,
		SyncDone:      msg.SyncDone,
	}
	if msg.Entry != nil {
		env.Entry = &EntryWire{EncodedEntry: msg.Entry.EncodedEntry, EncodedOperation: msg.Entry.EncodedOperation}
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("replication: marshal message: %w", err)
	}
	if _, err := c.w.Write(data); err != nil {
		return fmt.Errorf("replication: write message: %w", err)
	}
	if err := c.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("replication: write newline: %w", err)
	}
	return c.w.Flush()
}

// ReadMessage blocks for the next newline-delimited frame and decodes it.
// remotePeer is stamped onto the result since the wire form itself carries
// no peer identity; the transport layer (not this package) knows who it's
// talking to.
func (c *Conn) ReadMessage(remotePeer PeerId) (*InMessage, error) {
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("replication: read message: %w", err)
	}

	var env wireEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("replication: unmarshal message: %w", err)
	}

	in := &InMessage{
		SessionId:   env.SessionId,
		Kind:        env.Kind,
		RemotePeer:  remotePeer,
		SyncRequest: env.SyncRequest,
		Have:        env.Have,
		SyncDone:    env.SyncDone,
	}
	if env.Entry != nil {
		in.Entry = env.Entry
	}
	return in, nil
}

// entryWireToMessage converts a decoded wire entry back to the in-process
// logheight.EntryMessage shape, so callers of Conn never need to know about
// EntryWire themselves.
func entryWireToMessage(e *EntryWire) *logheight.EntryMessage {
	if e == nil {
		return nil
	}
	return &logheight.EntryMessage{EncodedEntry: e.EncodedEntry, EncodedOperation: e.EncodedOperation}
}

// EntryMessage returns the decoded entry payload, or nil if this frame
// carries a different Kind.
func (in *InMessage) EntryMessage() *logheight.EntryMessage {
	return entryWireToMessage(in.Entry)
}
