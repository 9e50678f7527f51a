/*************************************************************************
 * Copyright 2018 The Linehaul Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * Apache 2.0 license. See the LICENSE file for details.
 **************************************************************************/

package ua

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPip6(t *testing.T) {
	uaStr := `pip/18.0 {"installer":{"name":"pip","version":"18.0"},"python":"3.7.0","implementation":{"name":"CPython","version":"3.7.0"},"system":{"name":"Darwin","release":"17.6.0"},"cpu":"x86_64","openssl_version":"OpenSSL 1.0.2o  27 Mar 2018"}`
	got, err := parsePip6(uaStr)
	require.NoError(t, err)
	require.Equal(t, "pip", *got.Installer.Name)
	require.Equal(t, "18.0", *got.Installer.Version)
	require.Equal(t, "3.7.0", *got.Python)
	require.Equal(t, "CPython", *got.Implementation.Name)
	require.Equal(t, "Darwin", *got.System.Name)
	require.Equal(t, "17.6.0", *got.System.Release)
	require.Equal(t, "x86_64", *got.CPU)
	require.Equal(t, "OpenSSL 1.0.2o  27 Mar 2018", *got.OpenSSLVersion)
}

func TestPip6Declines(t *testing.T) {
	tsts := []struct {
		name string
		ua   string
	}{
		{name: "not pip", ua: `conda/4.5 {"x":1}`},
		{name: "pip too old", ua: `pip/1.5.6 {"installer":{"name":"pip"}}`},
		{name: "no payload", ua: `pip/18.0`},
		{name: "bad json", ua: `pip/18.0 {notjson`},
		{name: "empty payload", ua: `pip/18.0 {}`},
	}
	for _, tst := range tsts {
		if _, err := parsePip6(tst.ua); !errors.Is(err, ErrUnableToParse) {
			t.Fatalf("%s: expected decline, got %v", tst.name, err)
		}
	}
}

func TestPip14(t *testing.T) {
	got, err := parsePip14("pip/1.5.6 CPython/2.7.9 Linux/3.16.0-4-amd64")
	require.NoError(t, err)
	require.Equal(t, "pip", *got.Installer.Name)
	require.Equal(t, "1.5.6", *got.Installer.Version)
	require.Equal(t, "CPython", *got.Implementation.Name)
	require.Equal(t, "2.7.9", *got.Implementation.Version)
	require.Equal(t, "2.7.9", *got.Python)
	require.Equal(t, "Linux", *got.System.Name)
	require.Equal(t, "3.16.0-4-amd64", *got.System.Release)
}

func TestPip14Unknowns(t *testing.T) {
	got, err := parsePip14("pip/1.4.1 PyPy/Unknown Unknown/Unknown")
	require.NoError(t, err)
	require.Equal(t, "PyPy", *got.Implementation.Name)
	require.Nil(t, got.Implementation.Version)
	require.Nil(t, got.System)
	require.Nil(t, got.Python)

	got, err = parsePip14("pip/1.4 CPython/Unknown Darwin/Unknown")
	require.NoError(t, err)
	require.Nil(t, got.Python, "no python without an implementation version")
	require.Equal(t, "Darwin", *got.System.Name)
	require.Nil(t, got.System.Release)
}

func TestPip14Declines(t *testing.T) {
	tsts := []struct {
		name string
		ua   string
	}{
		{name: "too new", ua: "pip/6.0 CPython/3.4 Linux/3.16"},
		{name: "too old", ua: "pip/1.3 CPython/2.7 Linux/3.16"},
		{name: "not pip", ua: "pex/1.4"},
		{name: "missing fields", ua: "pip/1.5.6"},
	}
	for _, tst := range tsts {
		if _, err := parsePip14(tst.ua); !errors.Is(err, ErrUnableToParse) {
			t.Fatalf("%s: expected decline, got %v", tst.name, err)
		}
	}
}

type regexFamilyTest struct {
	name      string
	ua        string
	installer string
	version   string
	python    string
}

func TestRegexFamilies(t *testing.T) {
	tsts := []regexFamilyTest{
		{name: "distribute", ua: "Python-urllib/2.7 distribute/0.6.10", installer: "distribute", version: "0.6.10", python: "2.7"},
		{name: "setuptools trailing", ua: "Python-urllib/3.3 setuptools/1.1.6", installer: "setuptools", version: "1.1.6", python: "3.3"},
		{name: "setuptools leading", ua: "setuptools/39.2.0 Python-urllib/3.6", installer: "setuptools", version: "39.2.0", python: "3.6"},
		{name: "pex", ua: "pex/1.4.3", installer: "pex", version: "1.4.3"},
		{name: "conda", ua: "conda/4.5.4 requests/2.18.4 CPython/3.6.5 Linux/4.15.0", installer: "conda", version: "4.5.4"},
		{name: "bazel", ua: "Bazel/0.15.0", installer: "Bazel", version: "0.15.0"},
		{name: "bazel release prefix", ua: "Bazel/release 0.15.2", installer: "Bazel", version: "0.15.2"},
		{name: "bandersnatch", ua: "bandersnatch/2.2.1 (cpython 3.7.0-final0, Darwin x86_64)", installer: "bandersnatch", version: "2.2.1"},
		{name: "devpi", ua: "devpi-server/4.4.0 (py3; linux2)", installer: "devpi", version: "4.4.0"},
		{name: "z3c.pypimirror", ua: "z3c.pypimirror/1.0.16", installer: "z3c.pypimirror", version: "1.0.16"},
		{name: "artifactory", ua: "Artifactory/5.10.3", installer: "Artifactory", version: "5.10.3"},
		{name: "nexus", ua: "Nexus/3.12.1-01 (OSS)", installer: "Nexus", version: "3.12.1-01"},
		{name: "pep381client", ua: "pep381client/1.5", installer: "pep381client", version: "1.5"},
		{name: "pep381client proxy", ua: "pep381client-proxy/1.5", installer: "pep381client", version: "1.5"},
		{name: "urllib2", ua: "Python-urllib/2.7", python: "2.7"},
		{name: "requests", ua: "python-requests/2.19.1", installer: "requests", version: "2.19.1"},
		{name: "requests with suffix", ua: "python-requests/2.11.1 CPython/3.5.2 Darwin/16.6.0", installer: "requests", version: "2.11.1"},
	}
	parsers := DefaultParsers()
	for _, tst := range tsts {
		var got *UserAgent
		for _, p := range parsers {
			data, err := p.Parse(tst.ua)
			if err == nil {
				got = data
				break
			}
			if !errors.Is(err, ErrUnableToParse) {
				t.Fatalf("%s: parser %s internal error: %v", tst.name, p.Name(), err)
			}
		}
		if got == nil {
			t.Fatalf("%s: no parser claimed %q", tst.name, tst.ua)
		}
		if tst.installer == "" {
			if got.Installer != nil {
				t.Fatalf("%s: unexpected installer %+v", tst.name, got.Installer)
			}
		} else {
			if got.Installer == nil || got.Installer.Name == nil || *got.Installer.Name != tst.installer {
				t.Fatalf("%s: bad installer %+v", tst.name, got.Installer)
			}
			if tst.version != "" && (got.Installer.Version == nil || *got.Installer.Version != tst.version) {
				t.Fatalf("%s: bad version %+v", tst.name, got.Installer)
			}
		}
		if tst.python != "" && (got.Python == nil || *got.Python != tst.python) {
			t.Fatalf("%s: bad python %+v", tst.name, got.Python)
		}
	}
}

func TestHomebrewFamily(t *testing.T) {
	parsers := DefaultParsers()
	ua := "Homebrew/1.7.1 (Macintosh; Intel Mac OS X 10.13.6) curl/7.54.0"
	var got *UserAgent
	for _, p := range parsers {
		if data, err := p.Parse(ua); err == nil {
			got = data
			break
		}
	}
	require.NotNil(t, got)
	require.Equal(t, "Homebrew", *got.Installer.Name)
	require.Equal(t, "1.7.1", *got.Installer.Version)
	require.Equal(t, "OS X", *got.Distro.Name)
	require.Equal(t, "10.13.6", *got.Distro.Version)
}

func TestOSFamily(t *testing.T) {
	tsts := []string{
		"fetch libfetch/2.0",
		"libfetch/2.0",
		"OpenBSD ftp",
		"MacPorts/2.4.2",
		"NetBSD-ftp/20100320",
		"xbps/0.52",
	}
	p := NewRegexParser("os", osHandler, osPattern)
	for _, uaStr := range tsts {
		got, err := p.Parse(uaStr)
		if err != nil {
			t.Fatalf("%q: %v", uaStr, err)
		}
		if *got.Installer.Name != "OS" {
			t.Fatalf("%q: bad installer %+v", uaStr, got.Installer)
		}
	}
}

func TestBrowserFamily(t *testing.T) {
	p := NewBrowserParser()
	for _, uaStr := range []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
		"curl/7.54.0",
		"Wget/1.19.5 (linux-gnu)",
		"Opera/9.80",
	} {
		got, err := p.Parse(uaStr)
		if err != nil {
			t.Fatalf("%q: %v", uaStr, err)
		}
		if *got.Installer.Name != "Browser" {
			t.Fatalf("%q: bad installer %+v", uaStr, got.Installer)
		}
	}
	if _, err := p.Parse("pip/18.0 {}"); !errors.Is(err, ErrUnableToParse) {
		t.Fatalf("browser parser should decline pip agents")
	}
}
