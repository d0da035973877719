// ABOUTME: Tests for Session frame streaming, backpressure, close and write behavior
// ABOUTME: Uses net.Pipe as the transport so reads and writes are synchronous

package session

import (
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/secret-agent/internal/wire"
)

func newPipeSession(t *testing.T) (*Session, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	s := New(server, Provenance{}, nil)
	t.Cleanup(func() {
		_ = s.Close()
		_ = client.Close()
	})
	return s, client
}

func recvFrame(t *testing.T, msgs <-chan []byte) []byte {
	t.Helper()
	select {
	case frame, ok := <-msgs:
		require.True(t, ok, "message channel closed early")
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func waitClosed(t *testing.T, msgs <-chan []byte) {
	t.Helper()
	select {
	case _, ok := <-msgs:
		require.False(t, ok, "expected channel to be closed")
	case <-time.After(time.Second):
		t.Fatal("message channel did not close")
	}
}

func TestSession_DeliversFramesInOrder(t *testing.T) {
	s, client := newPipeSession(t)
	assert.Equal(t, StateOpen, s.State())

	first := wire.EncodeRequest(wire.ListIdentities{})
	second := wire.EncodeRequest(wire.SignRequest{KeyBlob: []byte("k"), Data: []byte("d")})

	go func() {
		_, _ = client.Write(first)
		_, _ = client.Write(second)
		_ = client.Close()
	}()

	msgs := s.Messages()
	assert.Equal(t, StateStreaming, s.State())
	assert.Equal(t, first, recvFrame(t, msgs))
	assert.Equal(t, second, recvFrame(t, msgs))
	waitClosed(t, msgs)

	assert.NoError(t, s.Err())
	assert.Equal(t, StateStreaming, s.State(), "EOF ends the stream, not the session")
	select {
	case <-s.Done():
		t.Fatal("EOF closed the session")
	default:
	}

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
}

func TestSession_HalfCloseStillReceivesReplies(t *testing.T) {
	dir, err := os.MkdirTemp("", "sess")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	ln, err := net.Listen("unix", filepath.Join(dir, "s.sock"))
	require.NoError(t, err)
	defer ln.Close()

	client, err := net.Dial("unix", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	server, err := ln.Accept()
	require.NoError(t, err)

	s := New(server, Provenance{}, nil)
	defer s.Close()

	req := wire.EncodeRequest(wire.ListIdentities{})
	_, err = client.Write(req)
	require.NoError(t, err)
	require.NoError(t, client.(*net.UnixConn).CloseWrite())

	msgs := s.Messages()
	assert.Equal(t, req, recvFrame(t, msgs))
	waitClosed(t, msgs)

	resp := wire.EncodeResponse(wire.IdentityList{})
	require.NoError(t, s.Write(resp))

	got, err := wire.NewFrameReader(client).Next()
	require.NoError(t, err)
	assert.Equal(t, resp, got)
}

func TestSession_ReassemblesSplitFrames(t *testing.T) {
	s, client := newPipeSession(t)
	frame := wire.EncodeRequest(wire.SignRequest{KeyBlob: []byte("key"), Data: []byte("data to sign")})

	go func() {
		_, _ = client.Write(frame[:3])
		_, _ = client.Write(frame[3:9])
		_, _ = client.Write(frame[9:])
	}()

	assert.Equal(t, frame, recvFrame(t, s.Messages()))
}

func TestSession_MalformedFrameClosesSession(t *testing.T) {
	s, client := newPipeSession(t)

	go func() {
		_, _ = client.Write(binary.BigEndian.AppendUint32(nil, wire.MaxFrameSize+1))
	}()

	waitClosed(t, s.Messages())
	assert.ErrorIs(t, s.Err(), wire.ErrMalformedMessage)
	assert.Equal(t, StateClosed, s.State())

	_, err := client.Write([]byte{0})
	assert.Error(t, err, "peer should see the connection closed")
}

func TestSession_TruncatedFrameAtHangup(t *testing.T) {
	s, client := newPipeSession(t)
	frame := wire.EncodeRequest(wire.ListIdentities{})

	go func() {
		_, _ = client.Write([]byte{0, 0, 0, 9})
		_, _ = client.Write(frame[4:])
		_ = client.Close()
	}()

	waitClosed(t, s.Messages())
	assert.ErrorIs(t, s.Err(), wire.ErrMalformedMessage)
}

func TestSession_BackpressureStopsReading(t *testing.T) {
	s, client := newPipeSession(t)
	frame := wire.EncodeRequest(wire.ListIdentities{})

	msgs := s.Messages()

	_, err := client.Write(frame)
	require.NoError(t, err)

	// The reader is now parked handing over the first frame; nobody reads
	// the pipe, so the second write cannot complete.
	written := make(chan struct{})
	go func() {
		_, _ = client.Write(frame)
		close(written)
	}()

	select {
	case <-written:
		t.Fatal("second frame was read before the first was consumed")
	case <-time.After(50 * time.Millisecond):
	}

	recvFrame(t, msgs)
	select {
	case <-written:
	case <-time.After(time.Second):
		t.Fatal("reader did not resume after the consumer caught up")
	}
	recvFrame(t, msgs)
}

func TestSession_WriteReachesClient(t *testing.T) {
	s, client := newPipeSession(t)
	resp := wire.EncodeResponse(wire.Failure{})

	go func() { _ = s.Write(resp) }()

	buf := make([]byte, len(resp))
	_, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, resp, buf)
}

func TestSession_WriteAfterClose(t *testing.T) {
	s, _ := newPipeSession(t)
	require.NoError(t, s.Close())

	err := s.Write(wire.EncodeResponse(wire.Failure{}))
	assert.ErrorIs(t, err, ErrTransport)
}

func TestSession_CloseEndsStreamCleanly(t *testing.T) {
	s, _ := newPipeSession(t)
	msgs := s.Messages()

	require.NoError(t, s.Close())
	assert.NoError(t, s.Close(), "second close is a no-op")

	waitClosed(t, msgs)
	assert.NoError(t, s.Err())

	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestSession_FailRecordsError(t *testing.T) {
	s, _ := newPipeSession(t)
	msgs := s.Messages()

	s.Fail(wire.ErrMalformedMessage)

	waitClosed(t, msgs)
	assert.ErrorIs(t, s.Err(), wire.ErrMalformedMessage)
}

func TestProvenance_String(t *testing.T) {
	assert.Equal(t, "unknown process", Provenance{}.String())
	assert.Equal(t, "ssh (pid 42, uid 501)", Provenance{Known: true, PID: 42, UID: 501, Executable: "/usr/bin/ssh"}.String())
	assert.Equal(t, "pid 42 (uid 0)", Provenance{Known: true, PID: 42}.String())
}

func TestPeerProvenance_NonUnixConn(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	assert.False(t, PeerProvenance(a).Known)
}
