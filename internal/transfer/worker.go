// Package transfer moves game artifacts over short-lived data channels.
// The hub binds an ephemeral listening socket, hands it to a worker and
// returns the port to the client; the client connects a second time and
// streams raw bytes with no framing. Workers never touch the catalog.
package transfer

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"
)

const (
	// AcceptTimeout bounds how long a worker waits for the client's
	// data connection before giving up.
	AcceptTimeout = 10 * time.Second

	chunkSize = 4096
)

// Listen binds a TCP listener on an ephemeral port and returns it with
// the chosen port number.
func Listen() (*net.TCPListener, int, error) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, 0, fmt.Errorf("binding transfer socket: %w", err)
	}
	tcpLn := ln.(*net.TCPListener)
	return tcpLn, tcpLn.Addr().(*net.TCPAddr).Port, nil
}

// acceptOne waits for exactly one data connection within AcceptTimeout.
// The listener is closed either way: each worker serves one transfer.
func acceptOne(ln *net.TCPListener) (net.Conn, error) {
	defer ln.Close()

	if err := ln.SetDeadline(time.Now().Add(AcceptTimeout)); err != nil {
		return nil, fmt.Errorf("setting accept deadline: %w", err)
	}
	conn, err := ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("accepting data connection: %w", err)
	}
	return conn, nil
}

// ReceiveFile accepts one connection and reads exactly filesize bytes
// into path. Transfer failures are silent to the control channel; the
// client deduces them from socket behavior, so errors here are only
// logged by the caller. A short transfer leaves a partial file behind
// (catalog metadata has already been committed by then).
func ReceiveFile(ln *net.TCPListener, path string, filesize int64) error {
	conn, err := acceptOne(ln)
	if err != nil {
		return err
	}
	defer conn.Close()

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer out.Close()

	buf := make([]byte, chunkSize)
	remaining := filesize
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(conn, buf[:n]); err != nil {
			return fmt.Errorf("receiving %s (%d bytes short): %w", path, remaining, err)
		}
		if _, err := out.Write(buf[:n]); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		remaining -= n
	}

	slog.Info("file saved", "path", path, "bytes", filesize)
	return nil
}

// SendFile accepts one connection and streams the file until EOF.
func SendFile(ln *net.TCPListener, path string) error {
	conn, err := acceptOne(ln)
	if err != nil {
		return err
	}
	defer conn.Close()

	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer in.Close()

	buf := make([]byte, chunkSize)
	sent, err := io.CopyBuffer(conn, in, buf)
	if err != nil {
		return fmt.Errorf("sending %s: %w", path, err)
	}

	slog.Info("file sent", "path", path, "bytes", sent)
	return nil
}
