// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/verdantlabs/verdant/services/progress/datatypes"
)

// HTTPConfig configures the HTTP client for the authoritative store.
type HTTPConfig struct {
	// BaseURL is the root of the Verdant backend API, e.g.
	// "https://api.verdant.example". Empty means not configured; every
	// call returns ErrNotConfigured.
	BaseURL string

	// Token is the bearer token attached to every request.
	Token string

	// Timeout bounds each request. Default: 10 seconds.
	Timeout time.Duration

	// Logger for request failures. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// HTTPClient implements Client against the Verdant backend REST API.
//
// Thread Safety: safe for concurrent use; the underlying http.Client
// is shared.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// NewHTTPClient creates a store client. A client built from an empty
// BaseURL is valid but unconfigured: it returns ErrNotConfigured from
// every call, letting the progress core degrade to empty aggregates.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

// Configured reports whether the client has a backing store to talk to.
func (c *HTTPClient) Configured() bool {
	return c.baseURL != ""
}

// apiError is the backend's error envelope.
type apiError struct {
	Error string `json:"error"`
}

// do issues a request and decodes a JSON response into out (when out is
// non-nil). Non-2xx responses are returned as errors carrying the
// backend's message when one is present.
func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response of %s %s: %w", method, path, err)
	}
	return nil
}

// ListTasks implements Client.
func (c *HTTPClient) ListTasks(ctx context.Context, gardenID string) ([]datatypes.Task, error) {
	var tasks []datatypes.Task
	path := fmt.Sprintf("/api/gardens/%s/tasks", url.PathEscape(gardenID))
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// ResyncOccurrences implements Client.
func (c *HTTPClient) ResyncOccurrences(ctx context.Context, gardenID, fromDate, toDate string) error {
	body := map[string]string{
		"gardenId": gardenID,
		"fromDate": fromDate,
		"toDate":   toDate,
	}
	return c.do(ctx, http.MethodPost, "/api/occurrences/resync", nil, body, nil)
}

// ListOccurrences implements Client.
func (c *HTTPClient) ListOccurrences(ctx context.Context, taskIDs []string, fromDate, toDate string) ([]datatypes.Occurrence, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}
	query := url.Values{
		"taskIds": {strings.Join(taskIDs, ",")},
		"from":    {fromDate},
		"to":      {toDate},
	}
	var occurrences []datatypes.Occurrence
	if err := c.do(ctx, http.MethodGet, "/api/occurrences", query, nil, &occurrences); err != nil {
		return nil, err
	}
	return occurrences, nil
}

// ListCompletions implements Client.
func (c *HTTPClient) ListCompletions(ctx context.Context, occurrenceIDs []string) (map[string][]datatypes.Completion, error) {
	if len(occurrenceIDs) == 0 {
		return map[string][]datatypes.Completion{}, nil
	}
	query := url.Values{"occurrenceIds": {strings.Join(occurrenceIDs, ",")}}
	out := make(map[string][]datatypes.Completion)
	if err := c.do(ctx, http.MethodGet, "/api/completions", query, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// IncrementOccurrence implements Client.
func (c *HTTPClient) IncrementOccurrence(ctx context.Context, occurrenceID string, amount int) (datatypes.Occurrence, error) {
	var occ datatypes.Occurrence
	path := fmt.Sprintf("/api/occurrences/%s/increment", url.PathEscape(occurrenceID))
	body := map[string]int{"amount": amount}
	if err := c.do(ctx, http.MethodPost, path, nil, body, &occ); err != nil {
		return datatypes.Occurrence{}, err
	}
	return occ, nil
}

// ReadCachedProgress implements Client.
func (c *HTTPClient) ReadCachedProgress(ctx context.Context, scope datatypes.Scope, id, date string) (datatypes.ProgressSnapshot, error) {
	var snap datatypes.ProgressSnapshot
	path := fmt.Sprintf("/api/progress/%s/%s", url.PathEscape(string(scope)), url.PathEscape(id))
	query := url.Values{"date": {date}}
	if err := c.do(ctx, http.MethodGet, path, query, nil, &snap); err != nil {
		return datatypes.ProgressSnapshot{}, err
	}
	return snap, nil
}

// RefreshProgressCache implements Client.
func (c *HTTPClient) RefreshProgressCache(ctx context.Context, scope datatypes.Scope, id, date string) error {
	path := fmt.Sprintf("/api/progress/%s/%s/refresh", url.PathEscape(string(scope)), url.PathEscape(id))
	body := map[string]string{"date": date}
	return c.do(ctx, http.MethodPost, path, nil, body, nil)
}

var _ Client = (*HTTPClient)(nil)
