// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package admin

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	rpc "github.com/gorilla/rpc/v2/json2"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"

	"github.com/luxfi/gxo/server"
)

const (
	maxRetries    = 3
	retryBaseWait = 100 * time.Millisecond
)

// newHTTPClient creates a fresh HTTP client with connection reuse disabled,
// so a retry never lands on a connection the server already dropped.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DisableKeepAlives: true,
		},
	}
}

// CleanlyCloseBody drains and closes an HTTP response body.
func CleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

// isRetryableError checks if an error is transient and worth retrying.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe")
}

// SendJSONRequest calls method on the JSON-RPC 2.0 endpoint at uri and
// decodes the result into reply. Transient transport failures are retried
// with a doubling delay.
func SendJSONRequest(
	ctx context.Context,
	uri *url.URL,
	method string,
	params interface{},
	reply interface{},
	options ...Option,
) error {
	logger.Tracef("SendJSONRequest: method=%s uri=%s", method, uri)
	requestBodyBytes, err := rpc.EncodeClientRequest(method, params)
	if err != nil {
		return errors.Annotate(err, "encoding client params")
	}

	ops := NewOptions(options)
	uri.RawQuery = ops.queryParams.Encode()

	// Only transport failures are retried; a reply that arrived is final.
	var transient, lastErr error
	err = retry.Call(retry.CallArgs{
		Func: func() error {
			transient = nil
			// The body buffer is consumed by each attempt.
			request, err := http.NewRequestWithContext(
				ctx,
				http.MethodPost,
				uri.String(),
				bytes.NewBuffer(requestBodyBytes),
			)
			if err != nil {
				return errors.Annotate(err, "creating request")
			}
			request.Header = ops.headers.Clone()
			request.Header.Set("Content-Type", "application/json")

			resp, err := newHTTPClient().Do(request)
			if err != nil {
				if isRetryableError(err) {
					transient = err
				}
				return errors.Annotate(err, "issuing request")
			}
			defer CleanlyCloseBody(resp.Body)
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return errors.Errorf("received status code: %d", resp.StatusCode)
			}
			return errors.Annotate(rpc.DecodeClientResponse(resp.Body, reply), "decoding client response")
		},
		IsFatalError: func(error) bool {
			return transient == nil
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Debugf("request attempt %d failed: %v", attempt, err)
			lastErr = err
		},
		Attempts:    maxRetries,
		Delay:       retryBaseWait,
		BackoffFunc: retry.DoubleDelay,
		Clock:       clock.WallClock,
		Stop:        ctx.Done(),
	})
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return errors.Trace(ctx.Err())
	case retry.IsAttemptsExceeded(err):
		return errors.Annotatef(lastErr, "giving up after %d attempts", maxRetries)
	}
	return err
}

// Client calls the admin endpoint of a gxod process.
type Client struct {
	uri     string
	options []Option
}

// NewClient returns a client for the admin endpoint rooted at base, like
// "http://localhost:8080".
func NewClient(base string, options ...Option) *Client {
	return &Client{
		uri:     strings.TrimSuffix(base, "/") + RPCPath,
		options: options,
	}
}

func (c *Client) call(ctx context.Context, method string, reply interface{}) error {
	uri, err := url.Parse(c.uri)
	if err != nil {
		return errors.Trace(err)
	}
	return SendJSONRequest(ctx, uri, method, &NoArgs{}, reply, c.options...)
}

// Status returns the server status.
func (c *Client) Status(ctx context.Context) (server.Status, error) {
	var st server.Status
	err := c.call(ctx, "Admin.Status", &st)
	return st, errors.Trace(err)
}

// Services returns the published services and classes.
func (c *Client) Services(ctx context.Context) (ServicesReply, error) {
	var reply ServicesReply
	err := c.call(ctx, "Admin.Services", &reply)
	return reply, errors.Trace(err)
}
