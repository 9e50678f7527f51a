/*************************************************************************
 * Copyright 2018 The Linehaul Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * Apache 2.0 license. See the LICENSE file for details.
 **************************************************************************/

package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/pypi/linehaul/bigquery"
	"github.com/pypi/linehaul/config"
	"github.com/pypi/linehaul/log"
	"github.com/pypi/linehaul/server"
	"github.com/pypi/linehaul/version"
)

const (
	defaultConfigLoc = `/opt/linehaul/etc/linehaul.conf`
	appName          = `linehauld`
)

var (
	confLoc = flag.String("config-file", defaultConfigLoc, "Location of the configuration file")
	verbose = flag.Bool("v", false, "Display verbose status updates to stdout")
	ver     = flag.Bool("version", false, "Print the version information and exit")

	v  bool
	lg *log.Logger
)

func mainInit() {
	flag.Parse()
	if *ver {
		version.PrintVersion(os.Stdout)
		os.Exit(0)
	}
	v = *verbose
	lg = log.New(os.Stderr)
	lg.SetAppname(appName)
}

func main() {
	mainInit()
	cfg, err := config.Load(*confLoc)
	if err != nil {
		lg.FatalCode(0, "failed to load configuration", log.KV("path", *confLoc), log.KVErr(err))
		return
	}

	if len(cfg.Global.Log_File) > 0 {
		fout, err := os.OpenFile(cfg.Global.Log_File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err != nil {
			lg.FatalCode(0, "failed to open log file", log.KV("path", cfg.Global.Log_File), log.KVErr(err))
		}
		if err = lg.AddWriter(fout); err != nil {
			lg.Fatal("failed to add a writer", log.KVErr(err))
		}
	}
	if len(cfg.Global.Log_Level) > 0 {
		if err = lg.SetLevelString(cfg.Global.Log_Level); err != nil {
			lg.FatalCode(0, "invalid Log-Level", log.KV("loglevel", cfg.Global.Log_Level), log.KVErr(err))
		}
	}

	key, err := cfg.PrivateKey()
	if err != nil {
		lg.FatalCode(0, "failed to read private key", log.KV("path", cfg.BigQuery.Private_Key_File), log.KVErr(err))
	}
	snk, err := bigquery.NewClient(bigquery.Config{
		Account:        cfg.BigQuery.Account,
		PrivateKey:     key,
		MaxConnections: int64(cfg.Global.API_Max_Connections),
		BaseURL:        cfg.BigQuery.Base_URL,
		TokenURL:       cfg.BigQuery.Token_URL,
		Logger:         lg,
	})
	if err != nil {
		lg.FatalCode(0, "failed to build BigQuery client", log.KVErr(err))
	}

	opts := server.Options{
		Bind:             cfg.Global.Bind,
		Port:             cfg.Global.Port,
		TLSCertificate:   cfg.Global.TLS_Certificate,
		TLSKey:           cfg.Global.TLS_Key,
		Token:            cfg.TokenBytes(),
		MaxLineSize:      cfg.Global.Max_Line_Size,
		RecvSize:         cfg.Global.Recv_Size,
		CleanupTimeout:   cfg.CleanupTimeout(),
		RateLimitBps:     cfg.Global.Rate_Limit_Bps,
		QueueSize:        cfg.Global.Queue_Size,
		BatchSize:        cfg.Global.Batch_Size,
		BatchTimeout:     cfg.BatchTimeout(),
		RetryMaxAttempts: cfg.Global.Retry_Max_Attempts,
		RetryMaxWait:     cfg.RetryMaxWait(),
		RetryMultiplier:  cfg.RetryMultiplier(),
		APITimeout:       cfg.APITimeout(),
		Logger:           lg,
		Started: func(addr net.Addr) {
			debugout("Listening on %v\n", addr)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lg.Info("linehaul starting", log.KV("version", version.GetVersion()), log.KV("table", cfg.BigQuery.Table))
	if err := server.Serve(ctx, snk, cfg.BigQuery.Table, opts); err != nil {
		lg.FatalCode(0, "pipeline failed", log.KVErr(err))
	}
	lg.Info("linehaul exiting")
}

func debugout(format string, args ...interface{}) {
	if !v {
		return
	}
	fmt.Printf(format, args...)
}
