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
	"reflect"
	"testing"
)

var classifierCorpus = []string{
	`pip/18.0 {"installer":{"name":"pip","version":"18.0"}}`,
	"pip/1.5.6 CPython/2.7.9 Linux/3.16.0-4-amd64",
	"Python-urllib/2.7 distribute/0.6.10",
	"Python-urllib/3.3 setuptools/1.1.6",
	"setuptools/39.2.0 Python-urllib/3.6",
	"pex/1.4.3",
	"conda/4.5.4 requests/2.18.4 CPython/3.6.5 Linux/4.15.0",
	"Bazel/release 0.15.2",
	"bandersnatch/2.2.1 (cpython 3.7.0-final0, Darwin x86_64)",
	"devpi-server/4.4.0 (py3; linux2)",
	"z3c.pypimirror/1.0.16",
	"Artifactory/5.10.3",
	"Nexus/3.12.1-01 (OSS)",
	"pep381client/1.5",
	"Python-urllib/2.7",
	"python-requests/2.19.1",
	"Homebrew/1.7.1 (Macintosh; Intel Mac OS X 10.13.6) curl/7.54.0",
	"MacPorts/2.4.2",
	"Mozilla/5.0 (compatible; Baiduspider/2.0)",
	"curl/7.54.0",
	"Go-http-client/1.1",
	"(null)",
	"totally-unheard-of/0.1",
	"another mystery agent",
}

type outcome struct {
	data    *UserAgent
	ignored bool
	unknown bool
}

func classify(c *Classifier, uaStr string) outcome {
	data, err := c.Parse(uaStr)
	var unk *UnknownUserAgentError
	switch {
	case err == nil && data == nil:
		return outcome{ignored: true}
	case err == nil:
		return outcome{data: data}
	case errors.As(err, &unk):
		return outcome{unknown: true}
	}
	return outcome{}
}

// Registration order must not influence results.
func TestClassifierOrderInvariance(t *testing.T) {
	baseline := NewClassifier(Config{})
	want := make([]outcome, len(classifierCorpus))
	for i, uaStr := range classifierCorpus {
		want[i] = classify(baseline, uaStr)
	}

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 25; round++ {
		parsers := DefaultParsers()
		rng.Shuffle(len(parsers), func(i, j int) {
			parsers[i], parsers[j] = parsers[j], parsers[i]
		})
		c := NewClassifier(Config{Parsers: parsers})
		for i, uaStr := range classifierCorpus {
			got := classify(c, uaStr)
			if !reflect.DeepEqual(got, want[i]) {
				t.Fatalf("round %d: %q classified differently: %+v != %+v",
					round, uaStr, got, want[i])
			}
		}
	}
}

func TestClassifierIgnoreTaxonomy(t *testing.T) {
	c := NewClassifier(Config{})
	ignored := []string{
		"Mozilla/5.0 (compatible; MSIE 10.0)",
		"Safari/537.36",
		"wget",
		"curl/7.54.0",
		"aria2/1.33.1",
		"Go-http-client/1.1",
		"Go 1.1 package http",
		"Datadog Agent/5.25.0",
		"(null)",
		"Java/1.8.0_172",
		"Scrapy/1.5.0 (+https://scrapy.org)",
		"helloNutchhello",
		"Debian uscan 2.17.9",
	}
	for _, uaStr := range ignored {
		data, err := c.Parse(uaStr)
		if err != nil || data != nil {
			t.Fatalf("%q: expected explicit decline, got (%+v, %v)", uaStr, data, err)
		}
	}

	unknown := []string{
		"totally-unheard-of/0.1",
		"my-build-system 2.0",
	}
	for _, uaStr := range unknown {
		_, err := c.Parse(uaStr)
		var unk *UnknownUserAgentError
		if !errors.As(err, &unk) {
			t.Fatalf("%q: expected UnknownUserAgentError, got %v", uaStr, err)
		}
		if unk.UA != uaStr {
			t.Fatalf("error lost the agent text: %q", unk.UA)
		}
	}
}

// Hammering one parser must pull it to the front on the optimization
// cycle without changing any outcome.
func TestClassifierSelfOptimization(t *testing.T) {
	c := NewClassifier(Config{OptimizeEvery: 400})
	hot := "pex/1.4.3"

	var before outcome
	for i := 0; i < 99; i++ {
		before = classify(c, hot)
	}
	if before.data == nil || *before.data.Installer.Name != "pex" {
		t.Fatalf("bad pre-optimization outcome: %+v", before)
	}
	// cross the first threshold (OptimizeEvery / 4)
	for i := 0; i < 50; i++ {
		classify(c, hot)
	}
	if names := c.order(); names[0] != "pex" {
		t.Fatalf("hot parser not promoted, order: %v", names)
	}
	after := classify(c, hot)
	if *after.data.Installer.Name != "pex" {
		t.Fatalf("outcome changed after optimization: %+v", after)
	}

	// every other parser still works post-reorder
	got := classify(c, "bandersnatch/2.2.1 (x)")
	if got.data == nil || *got.data.Installer.Name != "bandersnatch" {
		t.Fatalf("cold parser broken after reorder: %+v", got)
	}
}

func TestClassifierInternalErrorSkipped(t *testing.T) {
	boom := NewCallbackParser("boom", func(string) (*UserAgent, error) {
		return nil, errors.New("exploded")
	})
	c := NewClassifier(Config{Parsers: []Parser{boom, NewCallbackParser("pip>=6", parsePip6)}})
	data, err := c.Parse(`pip/18.0 {"installer":{"name":"pip","version":"18.0"}}`)
	if err != nil {
		t.Fatalf("internal parser error leaked: %v", err)
	}
	if data == nil || *data.Installer.Name != "pip" {
		t.Fatalf("bad result %+v", data)
	}
}
