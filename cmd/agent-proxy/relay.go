// ABOUTME: Per-connection relay between a client session and the upstream agent
// ABOUTME: Every frame is traced with direction, sequence number, type, length and sign flags

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/crypto/ssh"

	"github.com/2389/secret-agent/internal/session"
	"github.com/2389/secret-agent/internal/wire"
)

const dialTimeout = 5 * time.Second

type proxy struct {
	upstream string
	trace    *tracer
	logger   *slog.Logger
}

// relay forwards frames until either side hangs up or ctx ends. Requests
// and their replies share a sequence number since agents answer in order.
func (p *proxy) relay(ctx context.Context, s *session.Session) {
	tag := s.ID[:8]
	p.trace.event(tag, "open "+s.Provenance().String())
	defer p.trace.event(tag, "closed")

	d := net.Dialer{Timeout: dialTimeout}
	up, err := d.DialContext(ctx, "unix", p.upstream)
	if err != nil {
		p.trace.event(tag, fmt.Sprintf("upstream unreachable: %v", err))
		_ = s.Close()
		return
	}

	stop := context.AfterFunc(ctx, func() {
		_ = s.Close()
		_ = up.Close()
	})
	defer stop()

	replies := make(chan struct{})
	go func() {
		defer close(replies)
		frames := wire.NewFrameReader(up)
		for seq := 1; ; seq++ {
			frame, err := frames.Next()
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
					p.logger.Warn("reading upstream", "session_id", s.ID, "error", err)
				}
				_ = s.Close()
				return
			}
			p.trace.frame(tag, false, seq, frame)
			if err := s.Write(frame); err != nil {
				_ = up.Close()
				return
			}
		}
	}()

	seq := 0
	for frame := range s.Messages() {
		seq++
		p.trace.frame(tag, true, seq, frame)
		if _, err := up.Write(frame); err != nil {
			p.logger.Warn("writing upstream", "session_id", s.ID, "error", err)
			break
		}
	}
	if err := s.Err(); err != nil {
		p.trace.event(tag, fmt.Sprintf("client error: %v", err))
	}

	// Pass a client's half-close on so replies still in flight come back.
	if uc, ok := up.(*net.UnixConn); ok && s.Err() == nil {
		_ = uc.CloseWrite()
	} else {
		_ = up.Close()
	}
	<-replies
	_ = up.Close()
	_ = s.Close()
}

type tracer struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	now     func() time.Time
}

func newTracer(out io.Writer, verbose bool) *tracer {
	return &tracer{out: out, verbose: verbose, now: time.Now}
}

func (t *tracer) event(tag, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "%s [%s] %s\n",
		color.HiBlackString(t.now().Format("15:04:05.000")), tag, color.HiBlackString(msg))
}

func (t *tracer) frame(tag string, fromClient bool, seq int, frame []byte) {
	arrow := color.GreenString("->")
	if !fromClient {
		arrow = color.CyanString("<-")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "%s [%s] %s #%d %s\n",
		color.HiBlackString(t.now().Format("15:04:05.000")), tag, arrow, seq, describeFrame(frame, fromClient))
	if t.verbose && len(frame) > 4 {
		fmt.Fprint(t.out, hex.Dump(frame[4:]))
	}
}

// describeFrame summarizes a complete frame: its type, payload length and
// whatever detail the type carries that helps when debugging a client.
func describeFrame(frame []byte, fromClient bool) string {
	if len(frame) < 5 {
		return fmt.Sprintf("EMPTY len=%d", max(len(frame)-4, 0))
	}
	payloadLen := len(frame) - 4
	name := wire.TypeName(frame[4])
	out := fmt.Sprintf("%s len=%d", name, payloadLen)

	if fromClient {
		req, err := wire.DecodeRequest(frame)
		if err != nil {
			return out + " " + color.RedString("malformed")
		}
		if sr, ok := req.(wire.SignRequest); ok {
			out += " flags=" + signFlags(sr.Flags)
			if pub, err := ssh.ParsePublicKey(sr.KeyBlob); err == nil {
				out += " key=" + ssh.FingerprintSHA256(pub)
			}
		}
		return out
	}

	resp, err := wire.DecodeResponse(frame)
	if err != nil {
		return out + " " + color.RedString("malformed")
	}
	switch r := resp.(type) {
	case wire.IdentityList:
		out += fmt.Sprintf(" identities=%d", len(r.Identities))
	case wire.Failure:
		out = color.RedString(out)
	}
	return out
}

func signFlags(flags uint32) string {
	if flags == 0 {
		return "none"
	}
	var names []string
	if flags&wire.FlagRSASHA256 != 0 {
		names = append(names, "rsa-sha2-256")
		flags &^= wire.FlagRSASHA256
	}
	if flags&wire.FlagRSASHA512 != 0 {
		names = append(names, "rsa-sha2-512")
		flags &^= wire.FlagRSASHA512
	}
	if flags != 0 {
		names = append(names, fmt.Sprintf("0x%x", flags))
	}
	return strings.Join(names, ",")
}
