// Package testutil provides testing utilities for the Prefect extraction client.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// CapturedRequest records one request received by the mock server.
type CapturedRequest struct {
	Method string
	Path   string
	RawURL string
	Query  map[string][]string
	Header http.Header
	Body   []byte
}

// JSONBody unmarshals the captured request body.
func (r CapturedRequest) JSONBody() (map[string]any, error) {
	if len(r.Body) == 0 {
		return nil, nil
	}
	var body map[string]any
	if err := json.Unmarshal(r.Body, &body); err != nil {
		return nil, err
	}
	return body, nil
}

// MockPrefect is a configurable mock Prefect Cloud API server.
type MockPrefect struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	requests []CapturedRequest
}

// NewMockPrefect creates a new mock Prefect API server.
func NewMockPrefect() *MockPrefect {
	mock := &MockPrefect{
		handlers: make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mock.mu.Lock()
		mock.requests = append(mock.requests, CapturedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			RawURL: r.URL.String(),
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
			Body:   body,
		})
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		// Restore the body so handlers can read it again.
		r.Body = io.NopCloser(bytes.NewReader(body))

		if exists {
			handler(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail": "Not Found"}`))
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockPrefect) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockPrefect) Close() {
	m.server.Close()
}

// Reset clears captured requests.
func (m *MockPrefect) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

// Requests returns a copy of all captured requests.
func (m *MockPrefect) Requests() []CapturedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CapturedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestsTo returns captured requests whose path matches.
func (m *MockPrefect) RequestsTo(path string) []CapturedRequest {
	var out []CapturedRequest
	for _, r := range m.Requests() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// RequestCount returns the number of requests received.
func (m *MockPrefect) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// SetHandler sets a custom handler for a specific path.
func (m *MockPrefect) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetJSONResponse configures a static JSON response for a path.
func (m *MockPrefect) SetJSONResponse(path string, status int, body string) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
}

// SetPagedFilterResponse serves records from an offset-paginated filter
// endpoint: each POST's body "offset"/"limit" select a slice of records.
func (m *MockPrefect) SetPagedFilterResponse(path string, records []map[string]any, pageSize int) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		offset, limit := 0, pageSize
		var params map[string]any
		if json.Unmarshal(body, &params) == nil {
			if v, ok := params["offset"].(float64); ok {
				offset = int(v)
			}
			if v, ok := params["limit"].(float64); ok && int(v) > 0 {
				limit = int(v)
			}
		}

		page := []map[string]any{}
		if offset < len(records) {
			end := offset + limit
			if end > len(records) {
				end = len(records)
			}
			page = records[offset:end]
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(page)
	})
}

// SetEventPages serves a chain of event pages. The first page answers the
// filter path; each page links to the next via next_page URLs on the same
// server under /events/page/{n}.
func (m *MockPrefect) SetEventPages(filterPath string, pages [][]map[string]any) {
	pagePath := func(n int) string { return fmt.Sprintf("/events/page/%d", n) }

	serve := func(idx int) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			resp := map[string]any{"events": pages[idx]}
			if idx+1 < len(pages) {
				resp["next_page"] = m.URL() + pagePath(idx+1)
			} else {
				resp["next_page"] = nil
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(resp)
		}
	}

	m.SetHandler(filterPath, serve(0))
	for i := 1; i < len(pages); i++ {
		m.SetHandler(pagePath(i), serve(i))
	}
}

// FlowRun builds a minimal flow run record for tests.
func FlowRun(id any, expectedStartTime string) map[string]any {
	return map[string]any{
		"id":                  id,
		"name":                fmt.Sprintf("flow-run-%v", id),
		"expected_start_time": expectedStartTime,
	}
}

// TaskRun builds a minimal task run record for tests.
func TaskRun(id any, flowRunID any) map[string]any {
	return map[string]any{
		"id":          id,
		"flow_run_id": flowRunID,
	}
}

// Event builds a minimal event record for tests.
func Event(id any, occurred string) map[string]any {
	return map[string]any{
		"id":       id,
		"event":    "prefect.flow-run.Completed",
		"occurred": occurred,
	}
}
