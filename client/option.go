// Copyright (c) 2024 the authors
// Use of this source code is governed by a MIT license found in the LICENSE file.

package client

import "net/http"

// WithAPIKey provides the [OpenAI API key].
//
// By default, the key is read from environment variable OPENAI_API_KEY.
//
// [OpenAI API key]: https://platform.openai.com/account/api-keys
func WithAPIKey(apiKey string) Option {
	return func(options *options) {
		options.apiKey = apiKey
	}
}

// WithHost provides a base URL other than the hosted OpenAI endpoint,
// e.g. for a proxy or a fake server in tests.
func WithHost(host string) Option {
	return func(options *options) {
		options.host = host
	}
}

// WithHTTPClient provides a http.Client for the hosted REST API.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(options *options) {
		options.httpClient = httpClient
	}
}

// WithHeader adds a header to every request, e.g. for organization or
// project scoping.
func WithHeader(key, value string) Option {
	return func(options *options) {
		if options.header == nil {
			options.header = make(http.Header)
		}
		options.header.Add(key, value)
	}
}

type (
	// Option configures a Client.
	Option  func(*options)
	options Client
)
