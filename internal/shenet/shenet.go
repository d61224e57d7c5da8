// Package shenet is a minimal reference transport for the she package:
// a length-prefixed framing over net.Conn, one goroutine and one
// she.Session per accepted connection, and a shared rate limiter that maps
// overload onto the SHE BUSY error code rather than dropping connections.
// Wire framing and connection-multiplexing policy live here, outside the
// she package's protocol core, so other transports can be swapped in.
package shenet

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/barnettlynn/she-hsm/pkg/she"
	"github.com/dustin/go-humanize"
	"github.com/sixafter/nanoid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Server accepts connections on a net.Listener and serves the SHE protocol
// over each one.
type Server struct {
	Dispatcher *she.Dispatcher
	Log        *slog.Logger
	Limiter    *rate.Limiter // nil disables rate limiting

	nextClientID uint32
}

// Serve accepts connections from ln until ctx is canceled or Accept fails.
// On shutdown it waits for every already-accepted connection's handler to
// return before Serve itself returns, so a canceled context drains
// in-flight sessions instead of cutting them off mid-command.
func (srv *Server) Serve(ctx context.Context, ln net.Listener) error {
	log := srv.Log
	if log == nil {
		log = slog.Default()
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var group errgroup.Group

	for {
		conn, err := ln.Accept()
		if err != nil {
			waitErr := group.Wait()
			if ctx.Err() != nil {
				return waitErr
			}
			return fmt.Errorf("shenet: accept: %w", err)
		}

		reqID, _ := nanoid.New()
		connLog := log.With("conn_id", reqID.String())

		if srv.Limiter != nil && !srv.Limiter.Allow() {
			connLog.Warn("rate limit exceeded, rejecting connection")
			writeReply(conn, she.ErcBusy, nil) //nolint:errcheck
			_ = conn.Close()
			continue
		}

		clientID := atomic.AddUint32(&srv.nextClientID, 1)
		group.Go(func() error {
			srv.handleConn(conn, clientID, connLog)
			return nil
		})
	}
}

func (srv *Server) handleConn(conn net.Conn, clientID uint32, log *slog.Logger) {
	defer conn.Close()
	session := she.NewSession(clientID)
	log.Info("session opened", "client_id", clientID)

	var bytesIn, bytesOut uint64
	defer func() {
		log.Info("session closed", "client_id", clientID,
			"bytes_in", humanize.Bytes(bytesIn), "bytes_out", humanize.Bytes(bytesOut))
	}()

	for {
		cmd, payload, err := readRequest(conn)
		if err != nil {
			if err != io.EOF {
				log.Warn("read request failed", "error", err)
			}
			return
		}
		bytesIn += uint64(3 + len(payload))

		rc, reply, err := srv.Dispatcher.Handle(context.Background(), session, cmd, payload)
		if err != nil {
			log.Error("bad request", "error", err)
			return
		}
		if err := writeReply(conn, rc, reply); err != nil {
			log.Warn("write reply failed", "error", err)
			return
		}
		bytesOut += uint64(3 + len(reply))
	}
}

// readRequest decodes "action(1) || length(2, BE) || payload(length)".
func readRequest(r io.Reader) (she.Command, []byte, error) {
	header := make([]byte, 3)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	cmd := she.Command(header[0])
	length := binary.BigEndian.Uint16(header[1:3])
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return cmd, payload, nil
}

// writeReply encodes "rc(1) || length(2, BE) || payload(length)".
func writeReply(w io.Writer, rc she.ErrorCode, payload []byte) error {
	header := make([]byte, 3)
	header[0] = byte(rc)
	binary.BigEndian.PutUint16(header[1:3], uint16(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}
