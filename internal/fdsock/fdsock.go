//go:build linux

// Package fdsock exchanges a single file descriptor between a creator and
// an attaching peer process over a Unix domain socket SCM_RIGHTS control
// message — the out-of-band handoff rtipc itself takes no position on.
//
// Grounded in other_examples' SnellerInc-sneller/usock/conn.go, adapted to
// golang.org/x/sys/unix in place of the raw "syscall" package (consistent
// with the rest of this module's ABI-sensitive syscall wrappers).
package fdsock

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

const oobBufSize = 32

// Listen listens on a Unix domain socket at path, accepts exactly one
// connection, sends fd as an SCM_RIGHTS control message alongside msg,
// then closes both the connection and the listener and unlinks path.
func Listen(path string, fd int, msg []byte) error {
	os.Remove(path)

	l, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("fdsock: listen %s: %w", path, err)
	}
	defer l.Close()
	defer os.Remove(path)

	conn, err := l.Accept()
	if err != nil {
		return fmt.Errorf("fdsock: accept: %w", err)
	}
	defer conn.Close()

	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return fmt.Errorf("fdsock: accepted connection is not a UnixConn")
	}

	oob := unix.UnixRights(fd)
	if _, _, err := uc.WriteMsgUnix(msg, oob, nil); err != nil {
		return fmt.Errorf("fdsock: sendmsg: %w", err)
	}
	return nil
}

// Dial connects to the Unix domain socket at path and receives the fd and
// message sent by the peer's Listen call. The returned fd is owned by the
// caller and must be closed (or handed to shm.FromFd, whose SharedMemory
// takes ownership of the descriptor and closes it on final release).
func Dial(path string, msgBuf []byte) (fd int, n int, err error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return -1, 0, fmt.Errorf("fdsock: dial %s: %w", path, err)
	}
	defer conn.Close()

	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return -1, 0, fmt.Errorf("fdsock: connection is not a UnixConn")
	}

	oob := make([]byte, oobBufSize)
	n, oobn, _, _, err := uc.ReadMsgUnix(msgBuf, oob)
	if err != nil {
		return -1, 0, fmt.Errorf("fdsock: recvmsg: %w", err)
	}
	oob = oob[:oobn]

	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return -1, n, fmt.Errorf("fdsock: parse control message: %w", err)
	}
	if len(scms) != 1 {
		return -1, n, fmt.Errorf("fdsock: got %d control messages, want 1", len(scms))
	}

	fds, err := unix.ParseUnixRights(&scms[0])
	if err != nil {
		return -1, n, fmt.Errorf("fdsock: parse unix rights: %w", err)
	}
	if len(fds) != 1 {
		for _, f := range fds {
			unix.Close(f)
		}
		return -1, n, fmt.Errorf("fdsock: got %d fds, want 1", len(fds))
	}

	return fds[0], n, nil
}
