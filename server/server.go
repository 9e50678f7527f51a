/*************************************************************************
 * Copyright 2018 The Linehaul Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * Apache 2.0 license. See the LICENSE file for details.
 **************************************************************************/

package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pypi/linehaul/events"
	"github.com/pypi/linehaul/log"
	"github.com/pypi/linehaul/sink"
)

// pipeline is the shared state of one running server.
type pipeline struct {
	lg             *log.Logger
	asm            *assembler
	queue          chan *events.Download
	recvSize       int
	maxLineSize    int
	cleanupTimeout time.Duration
	rateLimitBps   int
}

// Serve runs the full pipeline until ctx is cancelled: listener, per
// connection handlers, and the batching sender.  Only supervisor level
// failures (bind, TLS misconfiguration) are returned; everything else is
// absorbed per connection or per batch.
//
// Shutdown order: stop accepting, drain handlers, close the queue so the
// sender finishes its in flight batch, then wait for uploads with a grace
// window before cancelling them.
func Serve(ctx context.Context, snk sink.AnalyticsSink, table string, opts Options) error {
	opts.normalize()
	lg := opts.Logger

	p := &pipeline{
		lg: lg,
		asm: &assembler{
			token: opts.Token,
			cls:   opts.Classifier,
			lg:    lg,
		},
		queue:          make(chan *events.Download, opts.QueueSize),
		recvSize:       opts.RecvSize,
		maxLineSize:    opts.MaxLineSize,
		cleanupTimeout: opts.CleanupTimeout,
		rateLimitBps:   opts.RateLimitBps,
	}

	ln, err := listen(opts)
	if err != nil {
		return err
	}

	sd := &sender{
		snk:          snk,
		table:        table,
		lg:           lg,
		batchSize:    opts.BatchSize,
		batchTimeout: opts.BatchTimeout,
		apiTimeout:   opts.APITimeout,
		maxAttempts:  opts.RetryMaxAttempts,
		maxWait:      opts.RetryMaxWait,
		multiplier:   opts.RetryMultiplier,
	}

	// sends outlive the shutdown signal so drained batches still go out;
	// the grace window below bounds how long
	sendCtx, sendCancel := context.WithCancel(context.Background())
	defer sendCancel()
	senderDone := make(chan struct{})
	go func() {
		defer close(senderDone)
		sd.run(sendCtx, p.queue)
	}()

	conns := newConnRegistry()
	var handlers sync.WaitGroup
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.acceptLoop(gctx, ln, conns, &handlers)
	})

	lg.Info("pipeline started",
		log.KV("bind", ln.Addr()),
		log.KV("table", table))
	if opts.Started != nil {
		opts.Started(ln.Addr())
	}

	<-gctx.Done()
	ln.Close()
	acceptErr := g.Wait()

	lg.Info("closing active connections", log.KV("active", conns.count()))
	conns.closeAll()
	handlers.Wait()
	close(p.queue)

	select {
	case <-senderDone:
	case <-time.After(sendDrainGrace):
		lg.Error("cancelling sends still pending after drain grace")
		sendCancel()
		<-senderDone
	}
	lg.Info("pipeline stopped")
	if ctx.Err() == nil && acceptErr != nil {
		// the listener died on its own, surface it
		return acceptErr
	}
	return nil
}

// acceptLoop hands every inbound connection to its own handler goroutine.
func (p *pipeline) acceptLoop(ctx context.Context, ln net.Listener, conns *connRegistry, handlers *sync.WaitGroup) error {
	var failCount int
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || strings.Contains(err.Error(), "closed") {
				return nil
			}
			failCount++
			p.lg.Warn("failed to accept connection", log.KVErr(err))
			if failCount > 3 {
				return err
			}
			continue
		}
		failCount = 0
		p.lg.Debug("accepted connection", log.KV("peer", conn.RemoteAddr()))
		id := conns.add(conn)
		handlers.Add(1)
		go func() {
			defer handlers.Done()
			defer conns.del(id)
			p.handleConnection(ctx, conn)
		}()
	}
}

// listen opens the TCP listener, upgraded to TLS when a certificate is
// configured.  Failures here are supervisor fatal.
func listen(opts Options) (net.Listener, error) {
	addr := fmt.Sprintf("%s:%d", opts.Bind, opts.Port)
	if opts.TLSCertificate == `` {
		return net.Listen("tcp", addr)
	}
	cert, err := tls.LoadX509KeyPair(opts.TLSCertificate, opts.TLSKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate chain: %w", err)
	}
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	return tls.Listen("tcp", addr, cfg)
}
