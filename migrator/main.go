/*************************************************************************
 * Copyright 2018 The Linehaul Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * Apache 2.0 license. See the LICENSE file for details.
 **************************************************************************/

// migrator applies the downloads table schema, refusing any change the
// deployed table cannot absorb without breaking old rows.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/goccy/go-json"

	"github.com/pypi/linehaul/bigquery"
	"github.com/pypi/linehaul/config"
	"github.com/pypi/linehaul/log"
	"github.com/pypi/linehaul/migration"
	"github.com/pypi/linehaul/sink"
	"github.com/pypi/linehaul/version"
)

const defaultConfigLoc = `/opt/linehaul/etc/linehaul.conf`

var (
	confLoc   = flag.String("config-file", defaultConfigLoc, "Location of the configuration file")
	schemaLoc = flag.String("schema-file", "", "JSON schema file to apply; empty applies the built in downloads schema")
	ver       = flag.Bool("version", false, "Print the version information and exit")
)

func main() {
	flag.Parse()
	if *ver {
		version.PrintVersion(os.Stdout)
		os.Exit(0)
	}
	lg := log.New(os.Stderr)
	lg.SetAppname(`migrator`)

	cfg, err := config.Load(*confLoc)
	if err != nil {
		lg.FatalCode(0, "failed to load configuration", log.KV("path", *confLoc), log.KVErr(err))
		return
	}

	desired := migration.DownloadsSchema()
	if *schemaLoc != `` {
		b, err := os.ReadFile(*schemaLoc)
		if err != nil {
			lg.FatalCode(0, "failed to read schema file", log.KV("path", *schemaLoc), log.KVErr(err))
		}
		var cols []sink.Column
		if err := json.Unmarshal(b, &cols); err != nil {
			lg.FatalCode(0, "failed to parse schema file", log.KV("path", *schemaLoc), log.KVErr(err))
		}
		desired = cols
	}

	key, err := cfg.PrivateKey()
	if err != nil {
		lg.FatalCode(0, "failed to read private key", log.KV("path", cfg.BigQuery.Private_Key_File), log.KVErr(err))
	}
	snk, err := bigquery.NewClient(bigquery.Config{
		Account:    cfg.BigQuery.Account,
		PrivateKey: key,
		BaseURL:    cfg.BigQuery.Base_URL,
		TokenURL:   cfg.BigQuery.Token_URL,
		Logger:     lg,
	})
	if err != nil {
		lg.FatalCode(0, "failed to build BigQuery client", log.KVErr(err))
	}

	if err := migration.Migrate(context.Background(), snk, lg, cfg.BigQuery.Table, desired); err != nil {
		lg.FatalCode(0, "migration failed", log.KV("table", cfg.BigQuery.Table), log.KVErr(err))
	}
}
