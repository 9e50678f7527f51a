/*************************************************************************
 * Copyright 2018 The Linehaul Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * Apache 2.0 license. See the LICENSE file for details.
 **************************************************************************/

// Package sink defines the analytics store contract the pipeline delivers
// into, together with the error taxonomy the retry policy keys on.
package sink

import (
	"context"
	"errors"
	"fmt"
)

// Row is one sink ready record.  InsertID is the idempotency key the store
// uses to deduplicate retried rows; it must be unique per distinct record
// and stable across retries of the same record.
type Row struct {
	InsertID string      `json:"insertId"`
	JSON     interface{} `json:"json"`
}

// Column describes one column of the analytics table schema.  RECORD typed
// columns nest their children in Fields.
type Column struct {
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	Mode   string   `json:"mode"`
	Fields []Column `json:"fields,omitempty"`
}

// AnalyticsSink is the append only columnar store the batcher writes to.
// Implementations bound their own outbound concurrency and surface
// failures through the error taxonomy below.
type AnalyticsSink interface {
	// InsertAll appends rows sharing the event date dateSuffix (YYYYMMDD).
	InsertAll(ctx context.Context, table string, rows []Row, dateSuffix string) error
	// GetSchema returns the current column list, or nil when the table
	// does not exist yet.
	GetSchema(ctx context.Context, table string) ([]Column, error)
	// UpdateSchema applies a new column list to the table.
	UpdateSchema(ctx context.Context, table string, schema []Column) error
}

// TransientError marks a failure worth retrying: throttling, internal
// store errors, flaky transport.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient sink error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError marks a failure retrying cannot fix, such as a malformed
// request; the batch is dropped.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent sink error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// ErrTokenFetch wraps authentication token acquisition failures; they are
// always retryable.
var ErrTokenFetch = errors.New("token fetch failed")

// IsRetryable reports whether the retry policy should take another swing:
// deadline expiry, broken transport, token fetch failures and transient
// sink errors qualify, permanent errors never do.
func IsRetryable(err error) bool {
	var pe *PermanentError
	if errors.As(err, &pe) {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) || errors.Is(err, ErrTokenFetch) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// transport level failures arrive as wrapped net/url errors; anything
	// unclassified is treated as a broken transport and retried
	return err != nil
}
