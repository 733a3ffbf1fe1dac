// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package admin

import (
	"net/http"
	"net/url"
)

// Options are the extras of an admin request.
type Options struct {
	headers     http.Header
	queryParams url.Values
}

// Option modifies an admin request.
type Option func(*Options)

// NewOptions applies ops to empty Options.
func NewOptions(ops []Option) *Options {
	o := &Options{
		headers:     http.Header{},
		queryParams: url.Values{},
	}
	for _, op := range ops {
		op(o)
	}
	return o
}

// WithHeader adds a request header.
func WithHeader(key, value string) Option {
	return func(o *Options) {
		o.headers.Add(key, value)
	}
}

// WithQueryParam adds a URL query parameter.
func WithQueryParam(key, value string) Option {
	return func(o *Options) {
		o.queryParams.Add(key, value)
	}
}
