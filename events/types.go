/*************************************************************************
 * Copyright 2018 The Linehaul Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * Apache 2.0 license. See the LICENSE file for details.
 **************************************************************************/

// Package events parses the pipe delimited download event grammar carried
// in the syslog message payload and defines the normalized record types the
// rest of the pipeline moves around.
package events

import (
	"strconv"
	"time"

	"github.com/pypi/linehaul/ua"
)

// PackageType is the fixed vocabulary of python package file types.
type PackageType string

const (
	Sdist        PackageType = "sdist"
	BdistWheel   PackageType = "bdist_wheel"
	BdistDmg     PackageType = "bdist_dmg"
	BdistDumb    PackageType = "bdist_dumb"
	BdistEgg     PackageType = "bdist_egg"
	BdistMsi     PackageType = "bdist_msi"
	BdistRpm     PackageType = "bdist_rpm"
	BdistWininst PackageType = "bdist_wininst"
)

func (pt PackageType) Valid() bool {
	switch pt {
	case Sdist, BdistWheel, BdistDmg, BdistDumb, BdistEgg, BdistMsi, BdistRpm, BdistWininst:
		return true
	}
	return false
}

// Timestamp is an event time that serializes as floating point unix
// seconds, the layout the analytics table stores.
type Timestamp time.Time

func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

// EventDate is the UTC date bucket used for batch partitioning.
func (t Timestamp) EventDate() string {
	return time.Time(t).UTC().Format("20060102")
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	secs := float64(time.Time(t).UnixNano()) / float64(time.Second)
	return []byte(strconv.FormatFloat(secs, 'f', -1, 64)), nil
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	secs, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*t = Timestamp(time.Unix(0, int64(secs*float64(time.Second))).UTC())
	return nil
}

// File identifies the package file a download fetched.
type File struct {
	Filename string       `json:"filename"`
	Project  *string      `json:"project,omitempty"`
	Version  *string      `json:"version,omitempty"`
	Type     *PackageType `json:"type,omitempty"`
}

// Download is one normalized package download event, the unit the batcher
// ships to the analytics sink.
type Download struct {
	Timestamp   Timestamp     `json:"timestamp"`
	URL         string        `json:"url"`
	File        File          `json:"file"`
	TLSProtocol *string       `json:"tls_protocol,omitempty"`
	TLSCipher   *string       `json:"tls_cipher,omitempty"`
	CountryCode *string       `json:"country_code,omitempty"`
	Details     *ua.UserAgent `json:"details,omitempty"`
}

// SimpleRequest is a package index listing fetch.  It carries a project but
// no file; the sink schema is download shaped so these are classifier-only
// and never forwarded downstream.
type SimpleRequest struct {
	Timestamp   Timestamp     `json:"timestamp"`
	URL         string        `json:"url"`
	Project     string        `json:"project"`
	TLSProtocol *string       `json:"tls_protocol,omitempty"`
	TLSCipher   *string       `json:"tls_cipher,omitempty"`
	CountryCode *string       `json:"country_code,omitempty"`
	Details     *ua.UserAgent `json:"details,omitempty"`
}
