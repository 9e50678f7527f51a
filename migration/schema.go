/*************************************************************************
 * Copyright 2018 The Linehaul Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * Apache 2.0 license. See the LICENSE file for details.
 **************************************************************************/

package migration

import "github.com/pypi/linehaul/sink"

// DownloadsSchema is the canonical column layout of the downloads table,
// mirroring the Download record shape row for row.
func DownloadsSchema() []sink.Column {
	return []sink.Column{
		{Name: "timestamp", Type: "TIMESTAMP", Mode: "REQUIRED"},
		{Name: "country_code", Type: "STRING", Mode: "NULLABLE"},
		{Name: "url", Type: "STRING", Mode: "REQUIRED"},
		{Name: "file", Type: "RECORD", Mode: "REQUIRED", Fields: []sink.Column{
			{Name: "filename", Type: "STRING", Mode: "REQUIRED"},
			{Name: "project", Type: "STRING", Mode: "NULLABLE"},
			{Name: "version", Type: "STRING", Mode: "NULLABLE"},
			{Name: "type", Type: "STRING", Mode: "NULLABLE"},
		}},
		{Name: "tls_protocol", Type: "STRING", Mode: "NULLABLE"},
		{Name: "tls_cipher", Type: "STRING", Mode: "NULLABLE"},
		{Name: "details", Type: "RECORD", Mode: "NULLABLE", Fields: []sink.Column{
			{Name: "installer", Type: "RECORD", Mode: "NULLABLE", Fields: []sink.Column{
				{Name: "name", Type: "STRING", Mode: "NULLABLE"},
				{Name: "version", Type: "STRING", Mode: "NULLABLE"},
			}},
			{Name: "python", Type: "STRING", Mode: "NULLABLE"},
			{Name: "implementation", Type: "RECORD", Mode: "NULLABLE", Fields: []sink.Column{
				{Name: "name", Type: "STRING", Mode: "NULLABLE"},
				{Name: "version", Type: "STRING", Mode: "NULLABLE"},
			}},
			{Name: "distro", Type: "RECORD", Mode: "NULLABLE", Fields: []sink.Column{
				{Name: "name", Type: "STRING", Mode: "NULLABLE"},
				{Name: "version", Type: "STRING", Mode: "NULLABLE"},
				{Name: "id", Type: "STRING", Mode: "NULLABLE"},
				{Name: "libc", Type: "RECORD", Mode: "NULLABLE", Fields: []sink.Column{
					{Name: "lib", Type: "STRING", Mode: "NULLABLE"},
					{Name: "version", Type: "STRING", Mode: "NULLABLE"},
				}},
			}},
			{Name: "system", Type: "RECORD", Mode: "NULLABLE", Fields: []sink.Column{
				{Name: "name", Type: "STRING", Mode: "NULLABLE"},
				{Name: "release", Type: "STRING", Mode: "NULLABLE"},
			}},
			{Name: "cpu", Type: "STRING", Mode: "NULLABLE"},
			{Name: "openssl_version", Type: "STRING", Mode: "NULLABLE"},
			{Name: "setuptools_version", Type: "STRING", Mode: "NULLABLE"},
			{Name: "ci", Type: "BOOLEAN", Mode: "NULLABLE"},
		}},
	}
}
