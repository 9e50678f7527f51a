/*************************************************************************
 * Copyright 2018 The Linehaul Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * Apache 2.0 license. See the LICENSE file for details.
 **************************************************************************/

package ua

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrUnableToParse is the decline signal: the parser does not recognize
// this user agent and the next one should be tried.
var ErrUnableToParse = errors.New("unable to parse user agent")

// UnknownUserAgentError is raised when no parser claims a user agent and
// the ignore rule does not cover it either.  The UA text rides along so the
// caller can log it.
type UnknownUserAgentError struct {
	UA string
}

func (e *UnknownUserAgentError) Error() string {
	return fmt.Sprintf("unknown user agent: %q", e.UA)
}

// Parser is one named strategy for reading a user agent.  Parse returns a
// populated UserAgent, or ErrUnableToParse to decline; any other error is
// an internal parser failure the classifier logs and skips.
type Parser interface {
	Name() string
	Parse(ua string) (*UserAgent, error)
}

// CallbackParser wraps a plain function.  The function cannot pre-test its
// input, so it is responsible for declining with ErrUnableToParse.
type CallbackParser struct {
	name string
	fn   func(ua string) (*UserAgent, error)
}

func NewCallbackParser(name string, fn func(ua string) (*UserAgent, error)) *CallbackParser {
	return &CallbackParser{name: name, fn: fn}
}

func (p *CallbackParser) Name() string {
	return p.name
}

func (p *CallbackParser) Parse(ua string) (*UserAgent, error) {
	return p.fn(ua)
}

// Captures carries the match groups of a regex parser to its handler:
// unnamed groups positionally and named groups by name.
type Captures struct {
	Groups []string
	Named  map[string]string
}

// RegexParser tries its expressions in order; the first whose search
// succeeds feeds captures to the handler.
type RegexParser struct {
	name    string
	regexes []*regexp.Regexp
	handler func(c Captures) (*UserAgent, error)
}

func NewRegexParser(name string, handler func(c Captures) (*UserAgent, error), regexes ...string) *RegexParser {
	p := &RegexParser{
		name:    name,
		handler: handler,
	}
	for _, r := range regexes {
		p.regexes = append(p.regexes, regexp.MustCompile(r))
	}
	return p
}

func (p *RegexParser) Name() string {
	return p.name
}

func (p *RegexParser) Parse(ua string) (*UserAgent, error) {
	for _, re := range p.regexes {
		m := re.FindStringSubmatch(ua)
		if m == nil {
			continue
		}
		c := Captures{Named: make(map[string]string)}
		for i, name := range re.SubexpNames() {
			if i == 0 {
				continue
			}
			if name != "" {
				c.Named[name] = m[i]
			} else {
				c.Groups = append(c.Groups, m[i])
			}
		}
		return p.handler(c)
	}
	return nil, ErrUnableToParse
}
