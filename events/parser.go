/*************************************************************************
 * Copyright 2018 The Linehaul Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * Apache 2.0 license. See the LICENSE file for details.
 **************************************************************************/

package events

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrUnparseable is wrapped by every parse failure in this package.
var ErrUnparseable = errors.New("unparseable event")

const nullLiteral = "(null)"

// Hit is a tentative parse result: exactly one of Download or Simple is
// set, and UserAgent carries the raw agent text for the classifier.
type Hit struct {
	Download  *Download
	Simple    *SimpleRequest
	UserAgent string
}

// Parse parses one event payload.  The three grammar versions are tried
// highest first; the first one that matches wins.
//
//	v3: 3@simple|REQUEST|TLS|UA  or  3@download|REQUEST|TLS|PROJECT|UA
//	v2: 2@REQUEST|TLS|PROJECT|UA
//	v1: [1@]REQUEST|PROJECT|UA
func Parse(message string) (*Hit, error) {
	if h, err := parseV3(message); err == nil {
		return h, nil
	}
	if h, err := parseV2(message); err == nil {
		return h, nil
	}
	if h, err := parseV1(message); err == nil {
		return h, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnparseable, message)
}

func parseV3(message string) (*Hit, error) {
	rest, ok := strings.CutPrefix(message, "3@")
	if !ok {
		return nil, errNoMatch
	}
	sigil, rest, ok := strings.Cut(rest, "|")
	if !ok {
		return nil, errNoMatch
	}
	switch sigil {
	case "simple":
		parts := strings.SplitN(rest, "|", 6)
		if len(parts) != 6 {
			return nil, errNoMatch
		}
		ts, cc, url, err := parseRequest(parts[0], parts[1], parts[2])
		if err != nil {
			return nil, err
		}
		proto, cipher, err := parseTLS(parts[3], parts[4])
		if err != nil {
			return nil, err
		}
		return &Hit{
			Simple: &SimpleRequest{
				Timestamp:   ts,
				URL:         url,
				Project:     normalizeProject(url),
				TLSProtocol: proto,
				TLSCipher:   cipher,
				CountryCode: cc,
			},
			UserAgent: parts[5],
		}, nil
	case "download":
		parts := strings.SplitN(rest, "|", 9)
		if len(parts) != 9 {
			return nil, errNoMatch
		}
		return buildDownload(parts[0], parts[1], parts[2], parts[3], parts[4], parts[5], parts[6], parts[7], parts[8])
	}
	return nil, errNoMatch
}

func parseV2(message string) (*Hit, error) {
	rest, ok := strings.CutPrefix(message, "2@")
	if !ok {
		return nil, errNoMatch
	}
	parts := strings.SplitN(rest, "|", 9)
	if len(parts) != 9 {
		return nil, errNoMatch
	}
	return buildDownload(parts[0], parts[1], parts[2], parts[3], parts[4], parts[5], parts[6], parts[7], parts[8])
}

func parseV1(message string) (*Hit, error) {
	rest := strings.TrimPrefix(message, "1@")
	parts := strings.SplitN(rest, "|", 7)
	if len(parts) != 7 {
		return nil, errNoMatch
	}
	return buildDownload(parts[0], parts[1], parts[2], "", "", parts[3], parts[4], parts[5], parts[6])
}

var errNoMatch = errors.New("grammar mismatch")

func buildDownload(ts, cc, url, proto, cipher, name, version, ptype, userAgent string) (*Hit, error) {
	stamp, country, u, err := parseRequest(ts, cc, url)
	if err != nil {
		return nil, err
	}
	tlsProto, tlsCipher, err := parseTLS(proto, cipher)
	if err != nil {
		return nil, err
	}
	project, ver, ftype, err := parseProjectFields(name, version, ptype)
	if err != nil {
		return nil, err
	}
	return &Hit{
		Download: &Download{
			Timestamp: stamp,
			URL:       u,
			File: File{
				Filename: basename(u),
				Project:  project,
				Version:  ver,
				Type:     ftype,
			},
			TLSProtocol: tlsProto,
			TLSCipher:   tlsCipher,
			CountryCode: country,
		},
		UserAgent: userAgent,
	}, nil
}

func parseRequest(ts, cc, url string) (Timestamp, *string, string, error) {
	if !fieldOK(ts) {
		return Timestamp{}, nil, "", errNoMatch
	}
	stamp, err := parseEventTimestamp(ts)
	if err != nil {
		return Timestamp{}, nil, "", err
	}
	if url == "" || !fieldOK(url) {
		return Timestamp{}, nil, "", errNoMatch
	}
	if !fieldOK(cc) {
		return Timestamp{}, nil, "", errNoMatch
	}
	return stamp, nullable(cc), url, nil
}

func parseTLS(proto, cipher string) (*string, *string, error) {
	if !fieldOK(proto) || !fieldOK(cipher) {
		return nil, nil, errNoMatch
	}
	return nullable(proto), nullable(cipher), nil
}

func parseProjectFields(name, version, ptype string) (*string, *string, *PackageType, error) {
	if !fieldOK(name) || !fieldOK(version) || !fieldOK(ptype) {
		return nil, nil, nil, errNoMatch
	}
	var ft *PackageType
	if t := nullable(ptype); t != nil {
		pt := PackageType(*t)
		if !pt.Valid() {
			return nil, nil, nil, errNoMatch
		}
		ft = &pt
	}
	return nullable(name), nullable(version), ft, nil
}

// parseEventTimestamp handles the edge's "Day, DD Mon YYYY HH:MM:SS GMT"
// stamps.  The leading weekday and trailing zone are sliced off without
// inspection; the body is read as UTC.
func parseEventTimestamp(s string) (Timestamp, error) {
	if len(s) < 10 {
		return Timestamp{}, errNoMatch
	}
	t, err := time.ParseInLocation("02 Jan 2006 15:04:05", s[5:len(s)-4], time.UTC)
	if err != nil {
		return Timestamp{}, errNoMatch
	}
	return Timestamp(t), nil
}

// nullable maps the wire null literal and the empty field to nil.
func nullable(s string) *string {
	if s == "" || s == nullLiteral {
		return nil
	}
	return &s
}

// fieldOK rejects bytes a delimited header field can never legally carry;
// in particular the version sigil "@", which keeps a failed higher version
// payload from being re-read as a lower version one.
func fieldOK(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '@' || c == 0x7f || (c < 0x20 && c != '\t') {
			return false
		}
	}
	return true
}

// basename mirrors a POSIX basename: everything after the final slash,
// which may be empty.
func basename(url string) string {
	return url[strings.LastIndexByte(url, '/')+1:]
}

var projectRunRe = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// normalizeProject canonicalizes the last non empty path segment of a
// simple index URL into a comparable project name.
func normalizeProject(url string) string {
	segs := strings.Split(url, "/")
	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i] != "" {
			return strings.ToLower(projectRunRe.ReplaceAllString(segs[i], "-"))
		}
	}
	return ""
}
