/*************************************************************************
 * Copyright 2018 The Linehaul Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * Apache 2.0 license. See the LICENSE file for details.
 **************************************************************************/

// Package bigquery implements the AnalyticsSink contract against the
// BigQuery streaming HTTP JSON API, authenticating with a service account
// JWT assertion.
package bigquery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/sync/semaphore"

	"github.com/pypi/linehaul/log"
	"github.com/pypi/linehaul/sink"
)

const (
	defaultBaseURL        = "https://www.googleapis.com"
	DefaultMaxConnections = 30
)

// Config describes a BigQuery client.
type Config struct {
	// Account is the service account client id (an email address).
	Account string
	// PrivateKey is the PEM encoded RSA key of the service account.
	PrivateKey []byte
	// MaxConnections bounds concurrent outbound API requests; <= 0 selects
	// DefaultMaxConnections.
	MaxConnections int64
	// BaseURL and TokenURL override the Google endpoints, used by tests.
	BaseURL  string
	TokenURL string
	// Client overrides the HTTP client.
	Client *http.Client
	Logger *log.Logger
}

// Client talks to the BigQuery v2 REST API.  It is safe for concurrent use
// and bounds its own outbound request concurrency.
type Client struct {
	client  *http.Client
	baseURL string
	auth    *tokenSource
	sem     *semaphore.Weighted
	lg      *log.Logger
}

var _ sink.AnalyticsSink = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	if cfg.Account == `` {
		return nil, errors.New("no service account provided")
	}
	hc := cfg.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	auth, err := newTokenSource(hc, cfg.TokenURL, cfg.Account, cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = DefaultMaxConnections
	}
	baseURL := cfg.BaseURL
	if baseURL == `` {
		baseURL = defaultBaseURL
	}
	lg := cfg.Logger
	if lg == nil {
		lg = log.NewDiscardLogger()
	}
	return &Client{
		client:  hc,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		auth:    auth,
		sem:     semaphore.NewWeighted(maxConns),
		lg:      lg,
	}, nil
}

type insertAllRequest struct {
	Kind                string     `json:"kind"`
	SkipInvalidRows     bool       `json:"skipInvalidRows"`
	IgnoreUnknownValues bool       `json:"ignoreUnknownValues"`
	TemplateSuffix      string     `json:"templateSuffix"`
	Rows                []sink.Row `json:"rows"`
}

// InsertAll streams rows into the dated partition table.
func (c *Client) InsertAll(ctx context.Context, table string, rows []sink.Row, dateSuffix string) error {
	path, err := tablePath(table)
	if err != nil {
		return &sink.PermanentError{Err: err}
	}
	body := insertAllRequest{
		Kind:                "bigquery#tableDataInsertAllRequest",
		SkipInvalidRows:     true,
		IgnoreUnknownValues: true,
		TemplateSuffix:      "_" + dateSuffix,
		Rows:                rows,
	}
	var resp struct {
		InsertErrors []struct {
			Index  int64 `json:"index"`
			Errors []struct {
				Reason  string `json:"reason"`
				Message string `json:"message"`
			} `json:"errors"`
		} `json:"insertErrors"`
	}
	if err := c.do(ctx, http.MethodPost, path+"/insertAll", body, &resp); err != nil {
		return err
	}
	// skipInvalidRows means per row errors are advisory; surface them so
	// malformed rows are visible without failing the batch
	if n := len(resp.InsertErrors); n > 0 {
		c.lg.Warn("sink rejected rows from batch",
			log.KV("rejected", n),
			log.KV("total", len(rows)))
	}
	return nil
}

// GetSchema returns the table's column list, or nil when the table does
// not exist yet.
func (c *Client) GetSchema(ctx context.Context, table string) ([]sink.Column, error) {
	path, err := tablePath(table)
	if err != nil {
		return nil, &sink.PermanentError{Err: err}
	}
	var resp struct {
		Schema struct {
			Fields []sink.Column `json:"fields"`
		} `json:"schema"`
	}
	err = c.do(ctx, http.MethodGet, path, nil, &resp)
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return resp.Schema.Fields, nil
}

// UpdateSchema patches the table with a new column list.
func (c *Client) UpdateSchema(ctx context.Context, table string, schema []sink.Column) error {
	path, err := tablePath(table)
	if err != nil {
		return &sink.PermanentError{Err: err}
	}
	body := map[string]interface{}{
		"schema": map[string]interface{}{
			"fields": schema,
		},
	}
	return c.do(ctx, http.MethodPatch, path, body, nil)
}

// statusError carries a non 2xx API response; it is always wrapped in a
// Transient or Permanent sink error before leaving the package.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("invalid response code %d with body %q", e.code, e.body)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	token, err := c.auth.Token(ctx)
	if err != nil {
		return err
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &sink.PermanentError{Err: err}
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return &sink.PermanentError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// transport failure, the caller's retry policy handles it
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &statusError{code: resp.StatusCode, body: string(respBody)}
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			// stale token; invalidate so the retry mints a fresh one
			c.auth.Invalidate()
			return &sink.TransientError{Err: se}
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return &sink.TransientError{Err: se}
		default:
			return &sink.PermanentError{Err: se}
		}
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &sink.TransientError{Err: err}
		}
	}
	return nil
}

// tablePath maps a "project.dataset.table" target onto the v2 REST path.
func tablePath(table string) (string, error) {
	parts := strings.Split(table, ".")
	if len(parts) != 3 {
		return ``, fmt.Errorf("table %q is not in project.dataset.table form", table)
	}
	return fmt.Sprintf("/bigquery/v2/projects/%s/datasets/%s/tables/%s",
		parts[0], parts[1], parts[2]), nil
}
