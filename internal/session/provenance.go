// ABOUTME: Identity of the process on the far end of a session
// ABOUTME: Opaque to the agent core; read only by policy and notification collaborators

package session

import (
	"fmt"
	"net"
	"path/filepath"
)

// Provenance describes the peer process of a connection. Known is false
// when the platform or transport cannot report peer credentials.
type Provenance struct {
	Known      bool
	PID        int32
	UID        uint32
	GID        uint32
	Executable string
}

// String renders the provenance for logs and notices.
func (p Provenance) String() string {
	if !p.Known {
		return "unknown process"
	}
	if p.Executable != "" {
		return fmt.Sprintf("%s (pid %d, uid %d)", filepath.Base(p.Executable), p.PID, p.UID)
	}
	return fmt.Sprintf("pid %d (uid %d)", p.PID, p.UID)
}

// PeerProvenance captures the provenance of conn's peer. Failures yield an
// unknown provenance rather than an error; a connection is never refused
// for lacking one.
func PeerProvenance(conn net.Conn) Provenance {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return Provenance{}
	}
	p, err := peerCredentials(uc)
	if err != nil {
		return Provenance{}
	}
	return p
}
