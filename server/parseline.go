/*************************************************************************
 * Copyright 2018 The Linehaul Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * Apache 2.0 license. See the LICENSE file for details.
 **************************************************************************/

package server

import (
	"crypto/subtle"
	"errors"
	"runtime/debug"
	"strings"
	"unicode/utf8"

	"github.com/pypi/linehaul/events"
	"github.com/pypi/linehaul/log"
	"github.com/pypi/linehaul/syslog"
	"github.com/pypi/linehaul/ua"
)

// assembler turns one raw frame into a Download, or nil when the frame is
// dropped.  Drops never stop the pipeline; the reasons that deserve a log
// line get one here.
type assembler struct {
	token []byte
	cls   *ua.Classifier
	lg    *log.Logger
}

func (a *assembler) parseLine(frame []byte) (d *events.Download) {
	defer func() {
		if r := recover(); r != nil {
			a.lg.Error("panic parsing line",
				log.KV("panic", r),
				log.KV("stack", string(debug.Stack())))
			d = nil
		}
	}()

	line := frame
	if len(a.token) > 0 {
		if len(line) < len(a.token) ||
			subtle.ConstantTimeCompare(line[:len(a.token)], a.token) != 1 {
			// wrong or missing token, drop without a trace
			return nil
		}
		line = line[len(a.token):]
	}

	text := strings.ToValidUTF8(string(line), string(utf8.RuneError))
	text = strings.TrimRight(text, "\r\n")

	msg, err := syslog.Parse(text)
	if err != nil {
		a.lg.Error("unparseable syslog message", log.KVErr(err))
		return nil
	}

	hit, err := events.Parse(msg.Message)
	if err != nil {
		a.lg.Error("unparseable event", log.KVErr(err))
		return nil
	}

	details, err := a.cls.Parse(hit.UserAgent)
	if err != nil {
		var unk *ua.UnknownUserAgentError
		if errors.As(err, &unk) {
			a.lg.Error("unknown user agent", log.KV("useragent", unk.UA))
		} else {
			a.lg.Error("user agent classification failed",
				log.KV("useragent", hit.UserAgent), log.KVErr(err))
		}
		return nil
	}
	if details == nil {
		// explicitly ignored agent
		return nil
	}

	// simple index requests are classified for the hit counters but the
	// sink schema is download shaped, so they stop here
	if hit.Download == nil {
		return nil
	}
	hit.Download.Details = details
	return hit.Download
}
