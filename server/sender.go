/*************************************************************************
 * Copyright 2018 The Linehaul Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * Apache 2.0 license. See the LICENSE file for details.
 **************************************************************************/

package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pypi/linehaul/events"
	"github.com/pypi/linehaul/log"
	"github.com/pypi/linehaul/sink"
)

// sender composes batches off the input queue and dispatches one
// concurrent upload per event date.  Exactly one sender runs per server.
type sender struct {
	snk   sink.AnalyticsSink
	table string
	lg    *log.Logger

	batchSize    int
	batchTimeout time.Duration

	apiTimeout  time.Duration
	maxAttempts int
	maxWait     time.Duration
	multiplier  time.Duration
}

// run loops composing and dispatching until the queue closes, then waits
// for every in flight upload.
func (sd *sender) run(ctx context.Context, queue <-chan *events.Download) {
	var sends sync.WaitGroup
	for {
		batch, open := sd.compose(queue)
		for date, recs := range partitionByDate(batch) {
			rows := buildRows(recs)
			sends.Add(1)
			go func(date string, rows []sink.Row) {
				defer sends.Done()
				sd.send(ctx, date, rows)
			}(date, rows)
		}
		if !open {
			break
		}
	}
	sends.Wait()
}

// compose gathers up to batchSize records within one batchTimeout window.
// open is false once the queue is closed and fully drained.
func (sd *sender) compose(queue <-chan *events.Download) (batch []*events.Download, open bool) {
	timer := time.NewTimer(sd.batchTimeout)
	defer timer.Stop()
	for len(batch) < sd.batchSize {
		select {
		case d, ok := <-queue:
			if !ok {
				return batch, false
			}
			batch = append(batch, d)
		case <-timer.C:
			return batch, true
		}
	}
	return batch, true
}

// partitionByDate splits a batch by the UTC date of each record, keeping
// arrival order within a date.
func partitionByDate(batch []*events.Download) map[string][]*events.Download {
	if len(batch) == 0 {
		return nil
	}
	parts := make(map[string][]*events.Download, 1)
	for _, d := range batch {
		date := d.Timestamp.EventDate()
		parts[date] = append(parts[date], d)
	}
	return parts
}

// buildRows wraps records into sink rows.  Insert ids are minted here,
// once, so retries of the same row reuse the same id and the sink can
// deduplicate.
func buildRows(recs []*events.Download) []sink.Row {
	rows := make([]sink.Row, 0, len(recs))
	for _, d := range recs {
		rows = append(rows, sink.Row{
			InsertID: uuid.New().String(),
			JSON:     d,
		})
	}
	return rows
}

// send pushes one dated sub batch with bounded retry and exponential
// backoff.  Exhausted retries drop the batch with an error log; nothing
// here can take the pipeline down.
func (sd *sender) send(ctx context.Context, date string, rows []sink.Row) {
	wait := sd.multiplier
	for attempt := 1; ; attempt++ {
		actx, cancel := context.WithTimeout(ctx, sd.apiTimeout)
		err := sd.snk.InsertAll(actx, sd.table, rows, date)
		cancel()
		if err == nil {
			return
		}
		if !sink.IsRetryable(err) {
			sd.lg.Error("dropping batch on permanent sink failure",
				log.KV("items", len(rows)),
				log.KV("date", date),
				log.KVErr(err))
			return
		}
		if attempt >= sd.maxAttempts || ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			sd.lg.Error(fmt.Sprintf("Timed out sending %d items; Dropping them.", len(rows)))
			return
		}
		if wait *= 2; wait > sd.maxWait {
			wait = sd.maxWait
		}
	}
	sd.lg.Error(fmt.Sprintf("Timed out sending %d items; Dropping them.", len(rows)))
}
