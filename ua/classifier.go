/*************************************************************************
 * Copyright 2018 The Linehaul Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * Apache 2.0 license. See the LICENSE file for details.
 **************************************************************************/

package ua

import (
	"errors"
	"math/rand"
	"regexp"
	"sort"
	"sync/atomic"

	"github.com/pypi/linehaul/log"
)

// DefaultOptimizeEvery is the dispatch interval between hit count driven
// reorders of the parser list.  The first reorder fires at a quarter of
// the interval so a fresh process settles quickly.
const DefaultOptimizeEvery = 1000000

var ignoreRe = regexp.MustCompile(ignorePattern)

// Config tunes a Classifier.  The zero value plus a logger is the
// production setup.
type Config struct {
	Logger *log.Logger
	// Parsers overrides the registered set; nil means DefaultParsers.
	Parsers []Parser
	// OptimizeEvery overrides DefaultOptimizeEvery; <= 0 selects the default.
	OptimizeEvery uint64
}

type parserEntry struct {
	p    Parser
	hits atomic.Uint64
}

// Classifier dispatches a user agent across the registered parser set and
// applies the ignore rule when every parser declines.  Dispatch outcome is
// independent of registration order; the order is only a throughput lever,
// which the classifier tunes itself by periodically sorting parsers by hit
// count.
type Classifier struct {
	lg         *log.Logger
	set        atomic.Pointer[[]*parserEntry]
	every      uint64
	dispatches atomic.Uint64
	nextOpt    atomic.Uint64
}

// NewClassifier builds a classifier from cfg.  The initial parser order is
// shuffled so nothing can accidentally depend on it.
func NewClassifier(cfg Config) *Classifier {
	lg := cfg.Logger
	if lg == nil {
		lg = log.NewDiscardLogger()
	}
	parsers := cfg.Parsers
	if parsers == nil {
		parsers = DefaultParsers()
	}
	every := cfg.OptimizeEvery
	if every == 0 {
		every = DefaultOptimizeEvery
	}
	entries := make([]*parserEntry, 0, len(parsers))
	for _, p := range parsers {
		entries = append(entries, &parserEntry{p: p})
	}
	rand.Shuffle(len(entries), func(i, j int) {
		entries[i], entries[j] = entries[j], entries[i]
	})
	c := &Classifier{
		lg:    lg,
		every: every,
	}
	c.set.Store(&entries)
	c.nextOpt.Store(every / 4)
	return c
}

// Parse classifies a user agent.  It returns (nil, nil) for agents the
// ignore rule explicitly declines, and *UnknownUserAgentError when nothing
// recognizes the input.
func (c *Classifier) Parse(uaStr string) (*UserAgent, error) {
	n := c.dispatches.Add(1)
	if next := c.nextOpt.Load(); n >= next && c.nextOpt.CompareAndSwap(next, n+c.every) {
		c.optimize()
	}

	for _, e := range *c.set.Load() {
		data, err := e.p.Parse(uaStr)
		switch {
		case err == nil:
			if data.IsZero() {
				// a parser that produced nothing did not really succeed
				continue
			}
			e.hits.Add(1)
			return data, nil
		case errors.Is(err, ErrUnableToParse):
			continue
		default:
			c.lg.Error("user agent parser failed",
				log.KV("parser", e.p.Name()),
				log.KV("useragent", uaStr),
				log.KVErr(err))
		}
	}

	if ignoreRe.MatchString(uaStr) {
		return nil, nil
	}
	return nil, &UnknownUserAgentError{UA: uaStr}
}

// optimize reorders the parser list in descending hit count order, then
// halves the counts so stale popularity decays.  Readers racing with the
// swap see either list; both orders are correct.
func (c *Classifier) optimize() {
	old := *c.set.Load()
	next := make([]*parserEntry, len(old))
	copy(next, old)
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].hits.Load() > next[j].hits.Load()
	})
	for _, e := range next {
		e.hits.Store(e.hits.Load() / 2)
	}
	c.set.Store(&next)
}

// order returns the current parser names, front to back.  Test hook.
func (c *Classifier) order() []string {
	set := *c.set.Load()
	names := make([]string, 0, len(set))
	for _, e := range set {
		names = append(names, e.p.Name())
	}
	return names
}
