// Copyright (c) 2024 the authors
// Use of this source code is governed by a MIT license found in the LICENSE file.

package concierge_test

import (
	"io"
	"net/http"
	"strings"

	"github.com/conciergekit/concierge/client"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func sseResponse(events string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(events)),
	}
}

func fakeClient(transport roundTripFunc) client.Client {
	return client.New(
		client.WithAPIKey("test-key"),
		client.WithHTTPClient(&http.Client{Transport: transport}),
	)
}
