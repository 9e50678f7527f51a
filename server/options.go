/*************************************************************************
 * Copyright 2018 The Linehaul Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * Apache 2.0 license. See the LICENSE file for details.
 **************************************************************************/

// Package server wires the framer, parsers and classifier into the
// streaming pipeline: TCP/TLS listeners feed a bounded queue, a single
// sender batches records by event date and ships them to the analytics
// sink with bounded retry.
package server

import (
	"net"
	"time"

	"github.com/pypi/linehaul/log"
	"github.com/pypi/linehaul/protocol"
	"github.com/pypi/linehaul/ua"
)

const (
	DefaultBind             = "0.0.0.0"
	DefaultPort             = 512
	DefaultRecvSize         = 8192
	DefaultCleanupTimeout   = 30 * time.Second
	DefaultQueueSize        = 10000
	DefaultBatchSize        = 500
	DefaultBatchTimeout     = 30 * time.Second
	DefaultRetryMaxAttempts = 10
	DefaultRetryMaxWait     = 60 * time.Second
	DefaultRetryMultiplier  = 500 * time.Millisecond
	DefaultAPITimeout       = 30 * time.Second

	// how long the supervisor lets the sender drain the queue and finish in
	// flight sends, counted from closing the queue, before cancelling them
	// outright
	sendDrainGrace = 60 * time.Second
)

// Options configures a pipeline server.  The zero value plus a logger is a
// production setup on the default port.
type Options struct {
	Bind string
	Port int
	// TLSCertificate is a path to a PEM certificate chain; non empty
	// switches the listener to TLS.  TLSKey defaults to the certificate
	// path for combined PEM files.
	TLSCertificate string
	TLSKey         string
	// Token is the opaque line prefix peers must present.  Lines without
	// it are dropped silently.
	Token []byte

	MaxLineSize    int
	RecvSize       int
	CleanupTimeout time.Duration
	// RateLimitBps optionally bounds per connection read throughput.
	RateLimitBps int

	QueueSize    int
	BatchSize    int
	BatchTimeout time.Duration

	RetryMaxAttempts int
	RetryMaxWait     time.Duration
	RetryMultiplier  time.Duration
	APITimeout       time.Duration

	Logger *log.Logger
	// Classifier overrides the default user agent parser set, for tests.
	Classifier *ua.Classifier
	// Started is signalled once the listener is accepting, with the bound
	// address.
	Started func(addr net.Addr)
}

func (o *Options) normalize() {
	if o.Bind == `` {
		o.Bind = DefaultBind
	}
	if o.Port == 0 {
		o.Port = DefaultPort
	} else if o.Port < 0 {
		// tests ask the kernel for an ephemeral port
		o.Port = 0
	}
	if o.MaxLineSize <= 0 {
		o.MaxLineSize = protocol.DefaultMaxLineSize
	}
	if o.RecvSize <= 0 {
		o.RecvSize = DefaultRecvSize
	}
	if o.CleanupTimeout <= 0 {
		o.CleanupTimeout = DefaultCleanupTimeout
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = DefaultBatchTimeout
	}
	if o.RetryMaxAttempts <= 0 {
		o.RetryMaxAttempts = DefaultRetryMaxAttempts
	}
	if o.RetryMaxWait <= 0 {
		o.RetryMaxWait = DefaultRetryMaxWait
	}
	if o.RetryMultiplier <= 0 {
		o.RetryMultiplier = DefaultRetryMultiplier
	}
	if o.APITimeout <= 0 {
		o.APITimeout = DefaultAPITimeout
	}
	if o.TLSCertificate != `` && o.TLSKey == `` {
		o.TLSKey = o.TLSCertificate
	}
	if o.Logger == nil {
		o.Logger = log.NewDiscardLogger()
	}
	if o.Classifier == nil {
		o.Classifier = ua.NewClassifier(ua.Config{Logger: o.Logger})
	}
}
