package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/vkdesk/presenced/internal/domain"
	"go.uber.org/zap"
)

func TestFrameCodec_RoundTrip(t *testing.T) {
	var buf bytes.Buffer

	in := handshake{V: 1, ClientID: "12345"}
	if err := writeFrame(&buf, opHandshake, in); err != nil {
		t.Fatalf("writeFrame failed: %v", err)
	}

	op, payload, err := readFrame(&buf)
	if err != nil {
		t.Fatalf("readFrame failed: %v", err)
	}
	if op != opHandshake {
		t.Errorf("Opcode: want %d, got %d", opHandshake, op)
	}

	var out handshake
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("Payload is not valid JSON: %v", err)
	}
	if out != in {
		t.Errorf("Roundtrip mismatch: want %+v, got %+v", in, out)
	}
}

func TestReadFrame_RejectsOversizedFrames(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{1, 0, 0, 0, 0, 0, 0, 0xFF}) // ~4GB length

	if _, _, err := readFrame(&buf); err == nil {
		t.Fatal("Expected error for oversized frame")
	}
}

// pipedClient returns a client whose dial hands out one end of a pipe,
// plus the server end for the test to drive.
func pipedClient(t *testing.T) (*Client, net.Conn) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	c := NewClient(zap.NewNop(), DefaultClientID)
	c.dial = func(ctx context.Context) (net.Conn, error) {
		return clientConn, nil
	}
	t.Cleanup(func() {
		c.Close()
		serverConn.Close()
	})
	return c, serverConn
}

// serveHandshake accepts the handshake on the server end and replies READY
func serveHandshake(t *testing.T, server net.Conn) {
	t.Helper()
	op, payload, err := readFrame(server)
	if err != nil {
		t.Errorf("Server handshake read failed: %v", err)
		return
	}
	if op != opHandshake {
		t.Errorf("Expected handshake opcode, got %d", op)
	}
	var hs handshake
	if err := json.Unmarshal(payload, &hs); err != nil || hs.ClientID != DefaultClientID {
		t.Errorf("Malformed handshake: %s", payload)
	}
	if err := writeFrame(server, opFrame, responseFrame{Cmd: "DISPATCH", Evt: "READY"}); err != nil {
		t.Errorf("Server READY write failed: %v", err)
	}
}

func TestConnect_Handshake(t *testing.T) {
	c, server := pipedClient(t)
	go serveHandshake(t, server)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
}

func TestConnect_Rejected(t *testing.T) {
	c, server := pipedClient(t)
	go func() {
		if _, _, err := readFrame(server); err != nil {
			return
		}
		writeFrame(server, opClose, map[string]any{"code": 4000, "message": "Invalid Client ID"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.Connect(ctx)
	if err == nil {
		t.Fatal("Expected handshake rejection")
	}
	if !strings.Contains(err.Error(), "Invalid Client ID") {
		t.Errorf("Rejection reason lost: %v", err)
	}
}

func TestSetActivity(t *testing.T) {
	c, server := pipedClient(t)
	go func() {
		serveHandshake(t, server)

		op, payload, err := readFrame(server)
		if err != nil || op != opFrame {
			t.Errorf("Command read failed: op=%d err=%v", op, err)
			return
		}
		var cmd commandFrame
		if err := json.Unmarshal(payload, &cmd); err != nil {
			t.Errorf("Command decode failed: %v", err)
			return
		}
		if cmd.Cmd != "SET_ACTIVITY" || cmd.Nonce == "" {
			t.Errorf("Unexpected command: %+v", cmd)
		}
		writeFrame(server, opFrame, responseFrame{Cmd: cmd.Cmd, Nonce: cmd.Nonce})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	activity := domain.Activity{Type: 2, Details: "Song", State: "by Artist"}
	if err := c.SetActivity(ctx, activity); err != nil {
		t.Fatalf("SetActivity failed: %v", err)
	}
}

func TestSetActivity_ServiceError(t *testing.T) {
	c, server := pipedClient(t)
	go func() {
		serveHandshake(t, server)

		_, payload, err := readFrame(server)
		if err != nil {
			return
		}
		var cmd commandFrame
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return
		}
		writeFrame(server, opFrame, responseFrame{
			Cmd:   cmd.Cmd,
			Nonce: cmd.Nonce,
			Evt:   "ERROR",
			Data:  json.RawMessage(`{"code":4002,"message":"activity rejected"}`),
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	err := c.SetActivity(ctx, domain.Activity{Type: 2})
	if err == nil {
		t.Fatal("Expected service error")
	}
	if !strings.Contains(err.Error(), "activity rejected") {
		t.Errorf("Error reason lost: %v", err)
	}
}

func TestDisconnected_SignaledOnPeerClose(t *testing.T) {
	c, server := pipedClient(t)
	go serveHandshake(t, server)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	server.Close()

	select {
	case <-c.Disconnected():
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout: disconnect was not signaled")
	}
}

func TestCommand_WithoutConnection(t *testing.T) {
	c := NewClient(zap.NewNop(), DefaultClientID)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.SetActivity(ctx, domain.Activity{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
