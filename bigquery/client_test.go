/*************************************************************************
 * Copyright 2018 The Linehaul Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * Apache 2.0 license. See the LICENSE file for details.
 **************************************************************************/

package bigquery

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/pypi/linehaul/sink"
)

func testKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

// testServer stands in for both the token endpoint and the BigQuery API.
func testServer(t *testing.T, apiHandler http.HandlerFunc) (*Client, *httptest.Server, *atomic.Int64) {
	t.Helper()
	var tokenFetches atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenFetches.Add(1)
		require.NoError(t, r.ParseForm())
		require.Equal(t, assertionGrant, r.Form.Get("grant_type"))
		require.NotEmpty(t, r.Form.Get("assertion"))
		io.WriteString(w, `{"access_token":"test-token","expires_in":3600}`)
	})
	mux.HandleFunc("/bigquery/", apiHandler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		Account:    "linehaul@test.iam.gserviceaccount.com",
		PrivateKey: testKeyPEM(t),
		BaseURL:    srv.URL,
		TokenURL:   srv.URL + "/token",
		Client:     srv.Client(),
	})
	require.NoError(t, err)
	return c, srv, &tokenFetches
}

func TestInsertAll(t *testing.T) {
	var gotBody insertAllRequest
	var gotPath, gotAuth string
	c, _, fetches := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		io.WriteString(w, `{}`)
	})

	rows := []sink.Row{
		{InsertID: "id-1", JSON: map[string]interface{}{"url": "/p/a.tar.gz"}},
		{InsertID: "id-2", JSON: map[string]interface{}{"url": "/p/b.tar.gz"}},
	}
	err := c.InsertAll(context.Background(), "proj.dataset.downloads", rows, "20180720")
	require.NoError(t, err)

	require.Equal(t, "/bigquery/v2/projects/proj/datasets/dataset/tables/downloads/insertAll", gotPath)
	require.Equal(t, "Bearer test-token", gotAuth)
	require.Equal(t, "bigquery#tableDataInsertAllRequest", gotBody.Kind)
	require.True(t, gotBody.SkipInvalidRows)
	require.True(t, gotBody.IgnoreUnknownValues)
	require.Equal(t, "_20180720", gotBody.TemplateSuffix)
	require.Len(t, gotBody.Rows, 2)
	require.Equal(t, "id-1", gotBody.Rows[0].InsertID)
	require.EqualValues(t, 1, fetches.Load())
}

func TestInsertAllTokenCached(t *testing.T) {
	c, _, fetches := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{}`)
	})
	for i := 0; i < 5; i++ {
		require.NoError(t, c.InsertAll(context.Background(), "p.d.t", nil, "20180720"))
	}
	require.EqualValues(t, 1, fetches.Load(), "token must be cached across calls")
}

func TestInsertAllErrors(t *testing.T) {
	var status atomic.Int64
	c, _, _ := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		io.WriteString(w, `{"error":"nope"}`)
	})

	status.Store(http.StatusInternalServerError)
	err := c.InsertAll(context.Background(), "p.d.t", nil, "20180720")
	var te *sink.TransientError
	require.ErrorAs(t, err, &te, "5xx must be transient")

	status.Store(http.StatusTooManyRequests)
	err = c.InsertAll(context.Background(), "p.d.t", nil, "20180720")
	require.ErrorAs(t, err, &te, "429 must be transient")

	status.Store(http.StatusBadRequest)
	err = c.InsertAll(context.Background(), "p.d.t", nil, "20180720")
	var pe *sink.PermanentError
	require.ErrorAs(t, err, &pe, "4xx must be permanent")
	require.False(t, sink.IsRetryable(err))
}

func TestStaleTokenInvalidated(t *testing.T) {
	var calls atomic.Int64
	c, _, fetches := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `{}`)
	})

	err := c.InsertAll(context.Background(), "p.d.t", nil, "20180720")
	var te *sink.TransientError
	require.ErrorAs(t, err, &te, "401 must surface as transient for the retry policy")

	// the retry fetches a fresh token
	require.NoError(t, c.InsertAll(context.Background(), "p.d.t", nil, "20180720"))
	require.EqualValues(t, 2, fetches.Load())
}

func TestTokenFetchFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"error":"access_denied"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := NewClient(Config{
		Account:    "a@b.c",
		PrivateKey: testKeyPEM(t),
		BaseURL:    srv.URL,
		TokenURL:   srv.URL + "/token",
		Client:     srv.Client(),
	})
	require.NoError(t, err)

	err = c.InsertAll(context.Background(), "p.d.t", nil, "20180720")
	require.ErrorIs(t, err, sink.ErrTokenFetch)
	require.True(t, sink.IsRetryable(err))
}

func TestGetSchema(t *testing.T) {
	c, _, _ := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		io.WriteString(w, `{"schema":{"fields":[
			{"name":"timestamp","type":"TIMESTAMP","mode":"REQUIRED"},
			{"name":"file","type":"RECORD","mode":"REQUIRED","fields":[
				{"name":"filename","type":"STRING","mode":"REQUIRED"}]}]}}`)
	})
	cols, err := c.GetSchema(context.Background(), "p.d.t")
	require.NoError(t, err)
	require.Len(t, cols, 2)
	require.Equal(t, "timestamp", cols[0].Name)
	require.Len(t, cols[1].Fields, 1)
}

func TestGetSchemaMissingTable(t *testing.T) {
	c, _, _ := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":{"code":404}}`)
	})
	cols, err := c.GetSchema(context.Background(), "p.d.t")
	require.NoError(t, err, "a missing table is not an error")
	require.Nil(t, cols)
}

func TestUpdateSchema(t *testing.T) {
	var gotMethod string
	var gotBody map[string]interface{}
	c, _, _ := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		io.WriteString(w, `{}`)
	})
	err := c.UpdateSchema(context.Background(), "p.d.t", []sink.Column{
		{Name: "timestamp", Type: "TIMESTAMP", Mode: "REQUIRED"},
	})
	require.NoError(t, err)
	require.Equal(t, http.MethodPatch, gotMethod)
	schema := gotBody["schema"].(map[string]interface{})
	require.Len(t, schema["fields"], 1)
}

func TestBadTableTarget(t *testing.T) {
	c, _, _ := testServer(t, func(w http.ResponseWriter, r *http.Request) {})
	err := c.InsertAll(context.Background(), "not-a-table", nil, "20180720")
	var pe *sink.PermanentError
	require.ErrorAs(t, err, &pe)
	if !strings.Contains(err.Error(), "project.dataset.table") {
		t.Fatalf("unhelpful error %v", err)
	}
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err, "missing account must fail")
	_, err = NewClient(Config{Account: "a@b.c", PrivateKey: []byte("not a key")})
	require.Error(t, err, "garbage key must fail")
	if err != nil && errors.Is(err, sink.ErrTokenFetch) {
		t.Fatalf("key parse failure is a config error, not a token fetch error")
	}
}
