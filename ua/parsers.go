/*************************************************************************
 * Copyright 2018 The Linehaul Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * Apache 2.0 license. See the LICENSE file for details.
 **************************************************************************/

package ua

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// parsePip6 handles the structured pip user agent introduced in pip 6: the
// token "pip/VERSION" followed by a JSON payload describing the client.
func parsePip6(uaStr string) (*UserAgent, error) {
	if !strings.HasPrefix(uaStr, "pip/") {
		return nil, ErrUnableToParse
	}
	tok, rest, ok := cutWhitespace(uaStr)
	if !ok {
		return nil, ErrUnableToParse
	}
	major, _, vok := pipVersion(tok[len("pip/"):])
	if !vok || major < 6 {
		return nil, ErrUnableToParse
	}
	var parsed UserAgent
	if err := json.Unmarshal([]byte(rest), &parsed); err != nil {
		return nil, ErrUnableToParse
	}
	if parsed.IsZero() {
		return nil, ErrUnableToParse
	}
	return &parsed, nil
}

// parsePip14 handles the older "pip/VER IMPL/IVER SYS/SREL" form used from
// pip 1.4 until 6.  The literal Unknown drops the field it occupies.
func parsePip14(uaStr string) (*UserAgent, error) {
	if !strings.HasPrefix(uaStr, "pip/") {
		return nil, ErrUnableToParse
	}
	tok, rest, ok := cutWhitespace(uaStr)
	if !ok {
		return nil, ErrUnableToParse
	}
	verStr := tok[len("pip/"):]
	major, minor, vok := pipVersion(verStr)
	if !vok || major >= 6 || (major < 1 || (major == 1 && minor < 4)) {
		return nil, ErrUnableToParse
	}
	impl, system, ok := cutWhitespace(rest)
	if !ok {
		return nil, ErrUnableToParse
	}
	implName, implVer, ok := strings.Cut(impl, "/")
	if !ok {
		return nil, ErrUnableToParse
	}
	sysName, sysRel, ok := strings.Cut(system, "/")
	if !ok {
		return nil, ErrUnableToParse
	}

	out := &UserAgent{
		Installer: &Installer{Name: str("pip"), Version: str(verStr)},
	}
	var implementation Implementation
	if implName != "Unknown" {
		implementation.Name = str(implName)
	}
	if implVer != "Unknown" {
		implementation.Version = str(implVer)
	}
	if implementation.Name != nil || implementation.Version != nil {
		out.Implementation = &implementation
	}
	var sys System
	if sysName != "Unknown" {
		sys.Name = str(sysName)
	}
	if sysRel != "Unknown" {
		sys.Release = str(sysRel)
	}
	if sys.Name != nil || sys.Release != nil {
		out.System = &sys
	}
	if strings.EqualFold(implName, "cpython") && implementation.Version != nil {
		out.Python = implementation.Version
	}
	return out, nil
}

// pipVersion pulls the leading numeric components out of a pip version
// string, tolerating pre-release and dev suffixes.
var pipVersionRe = regexp.MustCompile(`^(\d+)(?:\.(\d+))?`)

func pipVersion(s string) (major, minor int, ok bool) {
	m := pipVersionRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}
	major, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		minor, _ = strconv.Atoi(m[2])
	}
	return major, minor, true
}

// cutWhitespace splits around the first run of spaces or tabs.
func cutWhitespace(s string) (head, tail string, ok bool) {
	idx := strings.IndexAny(s, " \t")
	if idx < 0 {
		return s, "", false
	}
	return s[:idx], strings.TrimLeft(s[idx:], " \t"), true
}

func installerOnly(name string) func(c Captures) (*UserAgent, error) {
	return func(c Captures) (*UserAgent, error) {
		return &UserAgent{
			Installer: &Installer{Name: str(name), Version: str(c.Named["version"])},
		}, nil
	}
}

func installerWithPython(name string) func(c Captures) (*UserAgent, error) {
	return func(c Captures) (*UserAgent, error) {
		return &UserAgent{
			Installer: &Installer{Name: str(name), Version: str(c.Named["version"])},
			Python:    str(c.Named["python"]),
		}, nil
	}
}

func bazelHandler(c Captures) (*UserAgent, error) {
	version := strings.TrimPrefix(c.Named["version"], "release ")
	return &UserAgent{
		Installer: &Installer{Name: str("Bazel"), Version: str(version)},
	}, nil
}

func urllib2Handler(c Captures) (*UserAgent, error) {
	return &UserAgent{Python: str(c.Named["python"])}, nil
}

func homebrewHandler(c Captures) (*UserAgent, error) {
	return &UserAgent{
		Installer: &Installer{Name: str("Homebrew"), Version: str(c.Named["version"])},
		Distro:    &Distro{Name: str("OS X"), Version: str(c.Named["osx_version"])},
	}, nil
}

func osHandler(c Captures) (*UserAgent, error) {
	return &UserAgent{Installer: &Installer{Name: str("OS")}}, nil
}

func browserHandler(c Captures) (*UserAgent, error) {
	return &UserAgent{Installer: &Installer{Name: str("Browser")}}, nil
}

// osPattern is the fixed set of operating system package managers that
// fetch from the index directly.
const osPattern = `(?:` +
	`^fetch libfetch/\S+$|` +
	`^libfetch/\S+$|` +
	`^OpenBSD ftp$|` +
	`^Homebrew |` +
	`^MacPorts/?|` +
	`^NetBSD-ftp/|` +
	`^slapt-get|` +
	`^pypi-install/|` +
	`^slackrepo$|` +
	`^PTXdist|` +
	`^GARstow/|` +
	`^xbps/` +
	`)`

// browserPattern labels interactive browsers and generic download tools.
// The default registry leaves this family out; the same agents appear in
// ignorePattern so their downloads are skipped rather than counted.
const browserPattern = `(?i)^(?:` +
	`Mozilla|` +
	`Safari|` +
	`wget|` +
	`curl|` +
	`Opera|` +
	`aria2|` +
	`AndroidDownloadManager|` +
	`com\.apple\.WebKit\.Networking/|` +
	`FDM \S+|` +
	`URL/Emacs|` +
	`Firefox/|` +
	`UCWEB|` +
	`Links|` +
	`okhttp|` +
	`Apache-HttpClient` +
	`)(?:/|$)`

// ignorePattern matches agents that are known and uninteresting: browsers,
// spiders, link checkers and assorted HTTP clients.
const ignorePattern = `(?:` +
	`^Datadog Agent/|` +
	`^\(null\)$|` +
	`^WordPress/|` +
	`^Chef (?:Client|Knife)/|` +
	`^Ruby$|` +
	`^Slackbot-LinkExpanding|` +
	`^TextualInlineMedia/|` +
	`^WeeChat/|` +
	`^Download Master$|` +
	`^Java/|` +
	`^Go \d\.\d package http$|` +
	`^Go-http-client/|` +
	`^GNU Guile$|` +
	`^github-olee$|` +
	`^YisouSpider$|` +
	`^Apache Ant/|` +
	`^Salt/|` +
	`^ansible-httpget$|` +
	`^ltx71 - \(http://ltx71\.com/\)|` +
	`^Scrapy/|` +
	`^spectool/|` +
	`Nutch|` +
	`^AWSBrewLinkChecker/|` +
	`^Y!J-ASR/|` +
	`^NSIS_Inetc \(Mozilla\)$|` +
	`^Debian uscan|` +
	`^Pingdom\.com_bot_version_\d+\.\d+_\(https?://www\.pingdom\.com/\)$|` +
	`^MauiBot \(crawler\.feedback\+dc@gmail\.com\)$` +
	`)|` + browserPattern

// NewBrowserParser labels interactive browsers.  It is not part of
// DefaultParsers; see ignorePattern.
func NewBrowserParser() Parser {
	return NewRegexParser("browser", browserHandler, browserPattern)
}

// DefaultParsers builds the full production parser family set.
func DefaultParsers() []Parser {
	return []Parser{
		NewCallbackParser("pip>=6", parsePip6),
		NewCallbackParser("pip>=1.4,<6", parsePip14),
		NewRegexParser("distribute", installerWithPython("distribute"),
			`^Python-urllib/(?P<python>\d\.\d) distribute/(?P<version>\S+)$`),
		NewRegexParser("setuptools", installerWithPython("setuptools"),
			`^Python-urllib/(?P<python>\d\.\d) setuptools/(?P<version>\S+)$`,
			`^setuptools/(?P<version>\S+) Python-urllib/(?P<python>\d\.\d)$`),
		NewRegexParser("pex", installerOnly("pex"),
			`pex/(?P<version>\S+)$`),
		NewRegexParser("conda", installerOnly("conda"),
			`^conda/(?P<version>\S+)(?: .+)?$`),
		NewRegexParser("bazel", bazelHandler,
			`^Bazel/(?P<version>.+)$`),
		NewRegexParser("bandersnatch", installerOnly("bandersnatch"),
			`^bandersnatch/(?P<version>\S+) \(.+\)$`),
		NewRegexParser("devpi", installerOnly("devpi"),
			`devpi-server/(?P<version>\S+) \(.+\)$`),
		NewRegexParser("z3c.pypimirror", installerOnly("z3c.pypimirror"),
			`^z3c\.pypimirror/(?P<version>\S+)$`),
		NewRegexParser("artifactory", installerOnly("Artifactory"),
			`^Artifactory/(?P<version>\S+)$`),
		NewRegexParser("nexus", installerOnly("Nexus"),
			`^Nexus/(?P<version>\S+)`),
		NewRegexParser("pep381client", installerOnly("pep381client"),
			`^pep381client(?:-proxy)?/(?P<version>\S+)$`),
		NewRegexParser("urllib2", urllib2Handler,
			`^Python-urllib/(?P<python>\d+(?:\.\d+)?)$`),
		NewRegexParser("requests", installerOnly("requests"),
			`^python-requests/(?P<version>\S+)(?: .+)?$`),
		NewRegexParser("homebrew", homebrewHandler,
			`^Homebrew/(?P<version>\S+) \(Macintosh; Intel (?:Mac OS X|macOS) (?P<osx_version>[^)]+)\)`),
		NewRegexParser("os", osHandler, osPattern),
	}
}
