/*************************************************************************
 * Copyright 2018 The Linehaul Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * Apache 2.0 license. See the LICENSE file for details.
 **************************************************************************/

package syslog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrUnparseable is wrapped by every parse failure in this package.
var ErrUnparseable = errors.New("unparseable syslog message")

const maxPriority = 191

// Wire grammar, whitespace significant throughout:
//
//	<PRI>TIMESTAMP SP HOSTNAME SP APPNAME [ PROCID ] : SP MESSAGE
func unparseable(f string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUnparseable, fmt.Sprintf(f, args...))
}

// Parse parses a single syslog line (no trailing newline) into a Message.
func Parse(line string) (m Message, err error) {
	rest := line
	if len(rest) == 0 || rest[0] != '<' {
		err = unparseable("missing priority opener")
		return
	}
	rest = rest[1:]
	end := strings.IndexByte(rest, '>')
	if end < 1 || end > 3 {
		err = unparseable("bad priority field")
		return
	}
	for i := 0; i < end; i++ {
		if rest[i] < '0' || rest[i] > '9' {
			err = unparseable("non numeric priority %q", rest[:end])
			return
		}
	}
	pri, _ := strconv.Atoi(rest[:end])
	if pri < 0 || pri > maxPriority {
		err = unparseable("priority %d out of range", pri)
		return
	}
	rest = rest[end+1:]

	var ts string
	if ts, rest, err = token(rest, "timestamp"); err != nil {
		return
	}
	if m.Timestamp, err = parseTimestamp(ts); err != nil {
		return
	}
	if rest, err = expect(rest, ' '); err != nil {
		return
	}
	if m.Hostname, rest, err = token(rest, "hostname"); err != nil {
		return
	}
	if m.Hostname == "-" {
		m.Hostname = ""
	}
	if rest, err = expect(rest, ' '); err != nil {
		return
	}

	// appname runs to the procid bracket and may not contain one itself
	idx := strings.IndexByte(rest, '[')
	if idx <= 0 {
		err = unparseable("missing appname or procid")
		return
	}
	m.Appname = rest[:idx]
	if !printableRun(m.Appname) {
		err = unparseable("invalid appname %q", m.Appname)
		return
	}
	rest = rest[idx+1:]

	idx = strings.IndexByte(rest, ']')
	if idx <= 0 {
		err = unparseable("missing procid terminator")
		return
	}
	m.ProcID = rest[:idx]
	if !printableRun(m.ProcID) {
		err = unparseable("invalid procid %q", m.ProcID)
		return
	}
	rest = rest[idx+1:]

	if rest, err = expect(rest, ':'); err != nil {
		return
	}
	if rest, err = expect(rest, ' '); err != nil {
		return
	}
	m.Message = rest

	m.Facility = Facility(pri / 8)
	m.Severity = Severity(pri % 8)
	if !m.Facility.Valid() || !m.Severity.Valid() {
		err = unparseable("invalid facility/severity from priority %d", pri)
		return
	}
	return
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC); err == nil {
		return t, nil
	}
	return time.Time{}, unparseable("bad timestamp %q", s)
}

// token consumes a run of printable characters up to the next space or end
// of input.
func token(s, name string) (tok, rest string, err error) {
	idx := strings.IndexByte(s, ' ')
	if idx < 0 {
		tok = s
	} else {
		tok, rest = s[:idx], s[idx:]
	}
	if len(tok) == 0 || !printableRun(tok) {
		err = unparseable("invalid %s %q", name, tok)
	}
	return
}

func expect(s string, c byte) (string, error) {
	if len(s) == 0 || s[0] != c {
		return s, unparseable("expected %q", string(c))
	}
	return s[1:], nil
}

// printableRun reports whether every byte is visible ASCII.
func printableRun(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] <= ' ' || s[i] >= 0x7f {
			return false
		}
	}
	return true
}
