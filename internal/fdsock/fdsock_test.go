package fdsock

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestRoundTrip(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "fdsock-test.sock")

	tmp, err := os.CreateTemp(t.TempDir(), "fdsock-payload")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer tmp.Close()
	if _, err := tmp.WriteString("hello"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- Listen(sockPath, int(tmp.Fd()), []byte("ping"))
	}()

	// Dial retries internally are unnecessary here: the listener only
	// starts accepting once net.Listen has bound the socket, and the
	// test's goroutine scheduling gives it a head start, but guard with up
	// to 100 attempts in case it hasn't yet.
	var fd, n int
	buf := make([]byte, 16)
	for attempt := 0; attempt < 100; attempt++ {
		fd, n, err = Dial(sockPath, buf)
		if err == nil {
			break
		}
	}
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer unix.Close(fd)

	if string(buf[:n]) != "ping" {
		t.Fatalf("message = %q, want %q", buf[:n], "ping")
	}

	if err := <-errc; err != nil {
		t.Fatalf("Listen: %v", err)
	}

	var wantStat, gotStat unix.Stat_t
	if err := unix.Fstat(int(tmp.Fd()), &wantStat); err != nil {
		t.Fatalf("fstat original: %v", err)
	}
	if err := unix.Fstat(fd, &gotStat); err != nil {
		t.Fatalf("fstat received: %v", err)
	}
	if wantStat.Ino != gotStat.Ino {
		t.Fatalf("received fd does not refer to the same inode: got %d, want %d", gotStat.Ino, wantStat.Ino)
	}
}
