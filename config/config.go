/*************************************************************************
 * Copyright 2018 The Linehaul Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * Apache 2.0 license. See the LICENSE file for details.
 **************************************************************************/

// Package config loads the daemon configuration from an INI style file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gravwell/gcfg"
)

const maxConfigSize int64 = 2 * 1024 * 1024

var (
	ErrConfigFileTooLarge = errors.New("config file is too large")
	ErrNoTable            = errors.New("no BigQuery table specified")
)

// GlobalConfig is the [Global] section: the listener and pipeline knobs.
// Timeouts are integer seconds except the retry multiplier, which is in
// milliseconds.
type GlobalConfig struct {
	Bind                string
	Port                int
	TLS_Certificate     string
	TLS_Key             string
	Token               string
	Max_Line_Size       int
	Recv_Size           int
	Cleanup_Timeout     int
	Rate_Limit_Bps      int
	Queue_Size          int
	Batch_Size          int
	Batch_Timeout       int
	Retry_Max_Attempts  int
	Retry_Max_Wait      int
	Retry_Multiplier_Ms int
	API_Timeout         int
	API_Max_Connections int
	Log_File            string
	Log_Level           string
}

// BigQueryConfig is the [BigQuery] section: where the rows go and how to
// authenticate.
type BigQueryConfig struct {
	// Table is the project.dataset.table target.
	Table            string
	Account          string
	Private_Key_File string
	// Base_URL and Token_URL override the Google endpoints; useful against
	// emulators.
	Base_URL  string
	Token_URL string
}

type Config struct {
	Global   GlobalConfig
	BigQuery BigQueryConfig
}

// Load reads and verifies a config file.
func Load(path string) (*Config, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.Size() > maxConfigSize {
		return nil, ErrConfigFileTooLarge
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadBytes(b)
}

// LoadBytes parses config content and verifies it.
func LoadBytes(b []byte) (*Config, error) {
	var c Config
	if err := gcfg.ReadStringInto(&c, string(b)); err != nil {
		return nil, err
	}
	if err := c.Verify(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Verify checks the values that cannot be defaulted away.
func (c *Config) Verify() error {
	if c.BigQuery.Table == `` {
		return ErrNoTable
	}
	if c.BigQuery.Account == `` {
		return errors.New("no BigQuery service account specified")
	}
	if c.BigQuery.Private_Key_File == `` {
		return errors.New("no BigQuery private key file specified")
	}
	if c.Global.Port < 0 || c.Global.Port > 0xffff {
		return fmt.Errorf("invalid port %d", c.Global.Port)
	}
	if c.Global.TLS_Key != `` && c.Global.TLS_Certificate == `` {
		return errors.New("TLS-Key specified without TLS-Certificate")
	}
	for _, v := range []int{
		c.Global.Max_Line_Size, c.Global.Recv_Size, c.Global.Cleanup_Timeout,
		c.Global.Queue_Size, c.Global.Batch_Size, c.Global.Batch_Timeout,
		c.Global.Retry_Max_Attempts, c.Global.Retry_Max_Wait,
		c.Global.Retry_Multiplier_Ms, c.Global.API_Timeout,
		c.Global.API_Max_Connections, c.Global.Rate_Limit_Bps,
	} {
		if v < 0 {
			return errors.New("negative values are not allowed")
		}
	}
	if c.Global.Log_Level != `` {
		switch c.Global.Log_Level {
		case `OFF`, `DEBUG`, `INFO`, `WARN`, `ERROR`, `FATAL`:
		default:
			return fmt.Errorf("invalid Log-Level %q", c.Global.Log_Level)
		}
	}
	return nil
}

// PrivateKey reads the configured service account key file.
func (c *Config) PrivateKey() ([]byte, error) {
	return os.ReadFile(c.BigQuery.Private_Key_File)
}

func seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}

// The integer knobs surface as durations; zero means use the built in
// default.
func (c *Config) CleanupTimeout() time.Duration { return seconds(c.Global.Cleanup_Timeout) }
func (c *Config) BatchTimeout() time.Duration   { return seconds(c.Global.Batch_Timeout) }
func (c *Config) RetryMaxWait() time.Duration   { return seconds(c.Global.Retry_Max_Wait) }
func (c *Config) APITimeout() time.Duration     { return seconds(c.Global.API_Timeout) }

func (c *Config) RetryMultiplier() time.Duration {
	return time.Duration(c.Global.Retry_Multiplier_Ms) * time.Millisecond
}

// TokenBytes returns the line prefix as bytes, nil when unset.
func (c *Config) TokenBytes() []byte {
	if c.Global.Token == `` {
		return nil
	}
	return []byte(c.Global.Token)
}
