/*************************************************************************
 * Copyright 2018 The Linehaul Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * Apache 2.0 license. See the LICENSE file for details.
 **************************************************************************/

package bigquery

import (
	"context"
	"crypto/rsa"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/pypi/linehaul/sink"
)

const (
	googleTokenURL = "https://www.googleapis.com/oauth2/v4/token"
	bigQueryScope  = "https://www.googleapis.com/auth/bigquery"
	assertionGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	assertionLifetime = time.Hour
	// refresh slightly early so an in flight request never carries a token
	// that expires mid request
	expirySkew = time.Minute
)

// tokenSource mints OAuth2 access tokens for a service account by signing
// a JWT assertion and exchanging it at the token endpoint.  Tokens are
// cached until shortly before expiry.
type tokenSource struct {
	client   *http.Client
	tokenURL string
	account  string
	key      *rsa.PrivateKey

	mtx    sync.Mutex
	token  string
	expiry time.Time
}

func newTokenSource(client *http.Client, tokenURL, account string, pemKey []byte) (*tokenSource, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account key: %w", err)
	}
	if tokenURL == `` {
		tokenURL = googleTokenURL
	}
	return &tokenSource{
		client:   client,
		tokenURL: tokenURL,
		account:  account,
		key:      key,
	}, nil
}

// Token returns a cached access token, fetching a fresh one when needed.
// Failures wrap sink.ErrTokenFetch so the retry policy treats them as
// transient.
func (ts *tokenSource) Token(ctx context.Context) (string, error) {
	ts.mtx.Lock()
	defer ts.mtx.Unlock()
	if ts.token != `` && time.Now().Before(ts.expiry.Add(-expirySkew)) {
		return ts.token, nil
	}
	return ts.fetchLocked(ctx)
}

// Invalidate drops the cached token; the next Token call fetches anew.
func (ts *tokenSource) Invalidate() {
	ts.mtx.Lock()
	ts.token = ``
	ts.mtx.Unlock()
}

func (ts *tokenSource) fetchLocked(ctx context.Context) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   ts.account,
		"scope": bigQueryScope,
		"aud":   ts.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionLifetime).Unix(),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(ts.key)
	if err != nil {
		return ``, fmt.Errorf("%w: signing assertion: %v", sink.ErrTokenFetch, err)
	}

	form := url.Values{
		"grant_type": []string{assertionGrant},
		"assertion":  []string{assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return ``, fmt.Errorf("%w: %v", sink.ErrTokenFetch, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.client.Do(req)
	if err != nil {
		return ``, fmt.Errorf("%w: %v", sink.ErrTokenFetch, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return ``, fmt.Errorf("%w: status %d with body %q", sink.ErrTokenFetch, resp.StatusCode, body)
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return ``, fmt.Errorf("%w: decoding response: %v", sink.ErrTokenFetch, err)
	}
	if tr.AccessToken == `` {
		return ``, fmt.Errorf("%w: empty access token", sink.ErrTokenFetch)
	}
	ts.token = tr.AccessToken
	ts.expiry = now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	return ts.token, nil
}
