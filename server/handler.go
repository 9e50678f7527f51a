/*************************************************************************
 * Copyright 2018 The Linehaul Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * Apache 2.0 license. See the LICENSE file for details.
 **************************************************************************/

package server

import (
	"context"
	"errors"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pypi/linehaul/events"
	"github.com/pypi/linehaul/log"
	"github.com/pypi/linehaul/protocol"
)

// connRegistry tracks live connections so shutdown can unblock their
// reads.
type connRegistry struct {
	mtx   sync.Mutex
	conns map[int]net.Conn
	next  int
}

func newConnRegistry() *connRegistry {
	return &connRegistry{
		conns: make(map[int]net.Conn, 1),
	}
}

func (cr *connRegistry) add(c net.Conn) int {
	cr.mtx.Lock()
	cr.next++
	id := cr.next
	cr.conns[id] = c
	cr.mtx.Unlock()
	return id
}

func (cr *connRegistry) del(id int) {
	cr.mtx.Lock()
	delete(cr.conns, id)
	cr.mtx.Unlock()
}

func (cr *connRegistry) closeAll() {
	cr.mtx.Lock()
	for _, c := range cr.conns {
		c.Close()
	}
	cr.mtx.Unlock()
}

func (cr *connRegistry) count() int {
	cr.mtx.Lock()
	defer cr.mtx.Unlock()
	return len(cr.conns)
}

// handleConnection is the per peer loop: read, frame, parse, enqueue.
// Backpressure comes from the bounded queue; a full queue suspends the
// enqueue which suspends the read loop which pushes back on the socket.
func (s *pipeline) handleConnection(ctx context.Context, conn net.Conn) {
	peer := `unknown`
	if addr := conn.RemoteAddr(); addr != nil {
		peer = addr.String()
	}
	lg := s.lg
	defer s.closeConn(conn)
	defer func() {
		if r := recover(); r != nil {
			lg.Error("panic in connection handler",
				log.KV("peer", peer),
				log.KV("panic", r),
				log.KV("stack", string(debug.Stack())))
		}
	}()

	var limiter *rate.Limiter
	if s.rateLimitBps > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.rateLimitBps), s.recvSize)
	}

	lr := protocol.NewLineReceiver(s.maxLineSize)
	buff := make([]byte, s.recvSize)
	for {
		n, err := conn.Read(buff)
		if n > 0 {
			if limiter != nil {
				if lerr := limiter.WaitN(ctx, n); lerr != nil {
					return
				}
			}
			frames, ferr := lr.Receive(buff[:n])
			for _, frame := range frames {
				d := s.asm.parseLine(frame)
				if d == nil {
					continue
				}
				if !s.enqueue(ctx, d) {
					return
				}
			}
			if ferr != nil {
				// oversized line, the connection cannot resync
				lg.Debug("dropping connection", log.KV("peer", peer), log.KVErr(ferr))
				return
			}
		}
		if err != nil {
			// broken or reset streams count as EOF
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				lg.Debug("connection read failed", log.KV("peer", peer), log.KVErr(err))
			}
			if cerr := lr.Close(); cerr != nil {
				lg.Debug("connection ended mid line", log.KV("peer", peer), log.KVErr(cerr))
			}
			return
		}
	}
}

// enqueue blocks while the queue is full; false means shutdown interrupted
// the wait.
func (s *pipeline) enqueue(ctx context.Context, d *events.Download) bool {
	select {
	case s.queue <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

// closeConn attempts an orderly close bounded by the cleanup timeout.
func (s *pipeline) closeConn(conn net.Conn) {
	conn.SetDeadline(time.Now().Add(s.cleanupTimeout))
	conn.Close()
}
