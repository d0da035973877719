// ABOUTME: Linux peer credentials via SO_PEERCRED and /proc/<pid>/exe
// ABOUTME: Uses golang.org/x/sys/unix on the raw socket descriptor

//go:build linux

package session

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

func peerCredentials(conn *net.UnixConn) (Provenance, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return Provenance{}, fmt.Errorf("getting raw conn: %w", err)
	}

	var (
		cred    *unix.Ucred
		credErr error
	)
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return Provenance{}, fmt.Errorf("controlling socket: %w", err)
	}
	if credErr != nil {
		return Provenance{}, fmt.Errorf("reading SO_PEERCRED: %w", credErr)
	}

	// The process may already be gone; the executable is best effort.
	exe, _ := os.Readlink(fmt.Sprintf("/proc/%d/exe", cred.Pid))

	return Provenance{
		Known:      true,
		PID:        cred.Pid,
		UID:        cred.Uid,
		GID:        cred.Gid,
		Executable: exe,
	}, nil
}
