// Package discord speaks the Discord IPC protocol over a local socket:
// a binary-framed JSON exchange used for rich-presence updates. Only the
// small subset needed here is implemented (handshake, SET_ACTIVITY).
package discord

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vkdesk/presenced/internal/domain"
	"go.uber.org/zap"
)

// DefaultClientID identifies the application to the presence service
const DefaultClientID = "1437127619069087814"

// ErrNotRunning indicates the presence service socket could not be found
// or dialed. Callers treat this as expected, not as a fault.
var ErrNotRunning = errors.New("discord: service not running")

// ErrClosed is returned by commands after the connection went away
var ErrClosed = errors.New("discord: connection closed")

// IPC opcodes
const (
	opHandshake uint32 = 0
	opFrame     uint32 = 1
	opClose     uint32 = 2
	opPing      uint32 = 3
	opPong      uint32 = 4
)

// maxFrameSize bounds inbound payloads; the service never sends frames
// anywhere near this large
const maxFrameSize = 1 << 20

// Client is a single connection to the presence service. One instance
// corresponds to one connection attempt; after a disconnect it is
// discarded, not reused.
type Client struct {
	logger   *zap.Logger
	clientID string

	// dial is a seam for tests; defaults to the platform transport
	dial func(ctx context.Context) (net.Conn, error)

	mu   sync.Mutex // serializes commands; one in flight at a time
	conn net.Conn

	replies      chan json.RawMessage
	disconnected chan struct{}
	discOnce     sync.Once
	closeOnce    sync.Once
}

// NewClient creates an unconnected client for the given application id
func NewClient(logger *zap.Logger, clientID string) *Client {
	return &Client{
		logger:       logger,
		clientID:     clientID,
		dial:         dialTransport,
		replies:      make(chan json.RawMessage, 8),
		disconnected: make(chan struct{}),
	}
}

type handshake struct {
	V        int    `json:"v"`
	ClientID string `json:"client_id"`
}

type commandFrame struct {
	Cmd   string `json:"cmd"`
	Args  any    `json:"args,omitempty"`
	Nonce string `json:"nonce"`
}

type responseFrame struct {
	Cmd   string          `json:"cmd"`
	Evt   string          `json:"evt"`
	Nonce string          `json:"nonce"`
	Data  json.RawMessage `json:"data"`
}

type activityArgs struct {
	Pid      int              `json:"pid"`
	Activity *domain.Activity `json:"activity"`
}

// Connect dials the service and performs the version/client-id handshake,
// honoring the context deadline. On success a read loop takes over the
// connection and Disconnected() reports its end of life.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := writeFrame(conn, opHandshake, handshake{V: 1, ClientID: c.clientID}); err != nil {
		conn.Close()
		return fmt.Errorf("handshake write: %w", err)
	}

	op, payload, err := readFrame(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("handshake read: %w", err)
	}
	if op == opClose {
		conn.Close()
		return fmt.Errorf("handshake rejected: %s", closeMessage(payload))
	}

	var resp responseFrame
	if err := json.Unmarshal(payload, &resp); err != nil {
		conn.Close()
		return fmt.Errorf("handshake decode: %w", err)
	}
	if resp.Evt != "READY" {
		conn.Close()
		return fmt.Errorf("unexpected handshake event %q", resp.Evt)
	}

	conn.SetDeadline(time.Time{})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)

	c.logger.Debug("Presence IPC handshake complete")
	return nil
}

// SetActivity publishes an activity record and waits for the ack
func (c *Client) SetActivity(ctx context.Context, activity domain.Activity) error {
	return c.command(ctx, "SET_ACTIVITY", activityArgs{Pid: os.Getpid(), Activity: &activity})
}

// ClearActivity removes the displayed activity
func (c *Client) ClearActivity(ctx context.Context) error {
	return c.command(ctx, "SET_ACTIVITY", activityArgs{Pid: os.Getpid()})
}

// Disconnected is closed when the service drops the connection
func (c *Client) Disconnected() <-chan struct{} {
	return c.disconnected
}

// Close releases the connection. Idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	})
	return nil
}

// command sends one frame and waits for the nonce-matched reply
func (c *Client) command(ctx context.Context, cmd string, args any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrClosed
	}

	nonce := uuid.NewString()
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
	}
	err := writeFrame(c.conn, opFrame, commandFrame{Cmd: cmd, Args: args, Nonce: nonce})
	c.conn.SetWriteDeadline(time.Time{})
	if err != nil {
		return fmt.Errorf("command write: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.disconnected:
			return ErrClosed
		case raw := <-c.replies:
			var resp responseFrame
			if err := json.Unmarshal(raw, &resp); err != nil {
				continue
			}
			if resp.Nonce != nonce {
				// Unsolicited dispatch event; not ours
				continue
			}
			if resp.Evt == "ERROR" {
				return fmt.Errorf("command rejected: %s", closeMessage(resp.Data))
			}
			return nil
		}
	}
}

// readLoop owns all reads after the handshake: it answers pings, queues
// command replies and signals the disconnect on any read failure.
func (c *Client) readLoop(conn net.Conn) {
	defer c.discOnce.Do(func() { close(c.disconnected) })

	for {
		op, payload, err := readFrame(conn)
		if err != nil {
			return
		}
		switch op {
		case opPing:
			if err := writeFrame(conn, opPong, json.RawMessage(payload)); err != nil {
				return
			}
		case opClose:
			c.logger.Debug("Presence service closed the connection",
				zap.String("reason", closeMessage(payload)))
			return
		case opFrame:
			select {
			case c.replies <- json.RawMessage(payload):
			default:
				// Nobody waiting; drop the stale reply
			}
		}
	}
}

// closeMessage extracts a human-readable reason from a close/error payload
func closeMessage(payload []byte) string {
	var body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.Message == "" {
		return string(payload)
	}
	return fmt.Sprintf("%s (code %d)", body.Message, body.Code)
}

// writeFrame encodes op + length (little endian) followed by the JSON
// payload in a single write
func writeFrame(w io.Writer, op uint32, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], op)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[8:], payload)
	_, err = w.Write(buf)
	return err
}

// readFrame decodes one opcode-prefixed frame
func readFrame(r io.Reader) (uint32, []byte, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	op := binary.LittleEndian.Uint32(header[0:4])
	size := binary.LittleEndian.Uint32(header[4:8])
	if size > maxFrameSize {
		return 0, nil, fmt.Errorf("frame too large: %d bytes", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return op, payload, nil
}
