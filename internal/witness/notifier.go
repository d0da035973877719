// ABOUTME: Witness that prints a user-visible notice when a key is used
// ABOUTME: Repeated use by the same client within the window is reported once

package witness

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/2389/secret-agent/internal/dedupe"
)

// DefaultNotifyWindow collapses bursts of signatures into one notice.
const DefaultNotifyWindow = 30 * time.Second

const maxNotifyKeys = 256

// Notifier writes access notices to w.
type Notifier struct {
	mu     sync.Mutex
	out    io.Writer
	window *dedupe.Window

	signed *color.Color
	failed *color.Color
	dim    *color.Color
}

// NewNotifier creates a notifier that suppresses repeats within window.
func NewNotifier(out io.Writer, window time.Duration, opts ...dedupe.Option) *Notifier {
	return &Notifier{
		out:    out,
		window: dedupe.NewWindow(window, maxNotifyKeys, opts...),
		signed: color.New(color.FgGreen, color.Bold),
		failed: color.New(color.FgRed, color.Bold),
		dim:    color.New(color.Faint),
	}
}

func (n *Notifier) Speak(context.Context, Access) error { return nil }

// Witness prints one line per (key, client, outcome) per window.
func (n *Notifier) Witness(_ context.Context, e SignEvent) {
	client := "unknown process"
	if e.Provenance.Known {
		client = fmt.Sprintf("pid %d", e.Provenance.PID)
		if e.Provenance.Executable != "" {
			client = filepath.Base(e.Provenance.Executable)
		}
	}

	key := e.Identity.Fingerprint() + "|" + client + "|" + string(e.Outcome())
	if !n.window.Allow(key) {
		return
	}

	label := e.Identity.Label
	if label == "" {
		label = e.Identity.Fingerprint()
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if e.Err == nil {
		fmt.Fprintf(n.out, "%s %s used key %s\n",
			n.signed.Sprint("●"), client, label)
		return
	}
	fmt.Fprintf(n.out, "%s %s was refused key %s %s\n",
		n.failed.Sprint("●"), client, label, n.dim.Sprintf("(%s)", e.Outcome()))
}
