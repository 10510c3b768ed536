package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	eventbus "github.com/hanpama/deepauth/internal/eventbus"
	events "github.com/hanpama/deepauth/internal/events"
	language "github.com/hanpama/deepauth/internal/language"
	reqid "github.com/hanpama/deepauth/internal/reqid"
	schema "github.com/hanpama/deepauth/internal/schema"
)

const testSDL = `
directive @deepAuth(path: String!, variables: [String], filterInput: String) on OBJECT | INTERFACE | FIELD_DEFINITION

type Task @deepAuth(path: "{ owner: \"$user_id\" }", variables: ["$user_id"]) {
  name: String
  owner: String
}

input _TaskFilter {
  AND: [_TaskFilter!]
  name: String
  owner: String
}

type Query {
  Task(filter: _TaskFilter, first: Int): [Task]
  version: String
}
`

func newTestHandler(t *testing.T, opts ...Option) *Handler {
	t.Helper()
	sch, err := schema.BuildFromSDL(testSDL)
	require.NoError(t, err)
	opts = append([]Option{
		WithParamHeaders(map[string]string{"X-User-Id": "$user_id"}),
		WithLogger(slog.New(slog.DiscardHandler)),
	}, opts...)
	h, err := New(sch, opts...)
	require.NoError(t, err)
	return h
}

func post(t *testing.T, h http.Handler, body string, headers map[string]string) (*httptest.ResponseRecorder, RewriteResponse) {
	t.Helper()
	req := httptest.NewRequest("POST", "/rewrite", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var res RewriteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res), w.Body.String())
	return w, res
}

func rootFilter(t *testing.T, query string) string {
	t.Helper()
	doc, err := language.ParseQuery(query)
	require.NoError(t, err)
	field := doc.Operations[0].SelectionSet[0].(*language.Field)
	arg := field.Arguments.ForName("filter")
	require.NotNil(t, arg, query)
	return arg.Value.String()
}

func TestRewriteAddsFilter(t *testing.T) {
	h := newTestHandler(t)
	w, res := post(t, h, `{"query":"query Mine { Task(first: 2) { name } }"}`, map[string]string{"X-User-Id": "u1"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, res.Errors)
	require.Equal(t, "Mine", res.OperationName)
	require.Equal(t, `{owner:"u1"}`, rootFilter(t, res.Query))
	require.Equal(t, map[string]any{
		"first":  float64(2),
		"filter": map[string]any{"owner": "u1"},
	}, res.AuthParams)
}

func TestRewriteMergesExistingFilter(t *testing.T) {
	h := newTestHandler(t)
	body := `{
		"query": "query($n: String) { Task(filter: { name: $n }) { name } }",
		"variables": {"n": "x"},
		"args": {"filter": {"name": "x"}}
	}`
	w, res := post(t, h, body, map[string]string{"X-User-Id": "u1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, `{AND:[{owner:"u1"},{name:"x"}]}`, rootFilter(t, res.Query))
	require.Equal(t, map[string]any{
		"filter": map[string]any{"AND": []any{
			map[string]any{"owner": "u1"},
			map[string]any{"name": "x"},
		}},
	}, res.AuthParams)
}

func TestRewriteErrors(t *testing.T) {
	h := newTestHandler(t)
	tests := []struct {
		name    string
		body    string
		headers map[string]string
		status  int
		code    string
	}{
		{"missing param", `{"query":"{ Task { name } }"}`, nil, http.StatusUnprocessableEntity, "MISSING_VARIABLE"},
		{"unknown filter field", `{"query":"{ Task(filter: { nope: 1 }) { name } }"}`, map[string]string{"X-User-Id": "u1"}, http.StatusUnprocessableEntity, "UNKNOWN_FIELD"},
		{"parse error", `{"query":"{ Task { "}`, nil, http.StatusBadRequest, "GRAPHQL_PARSE_FAILED"},
		{"ambiguous operation", `{"query":"query A { version } query B { version }"}`, nil, http.StatusBadRequest, "OPERATION_RESOLUTION_FAILURE"},
		{"missing query", `{}`, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"invalid json", `{`, nil, http.StatusBadRequest, "BAD_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, res := post(t, h, tt.body, tt.headers)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			require.Len(t, res.Errors, 1)
			require.Equal(t, tt.code, res.Errors[0].Extensions["code"])
			require.Empty(t, res.Query)
		})
	}
}

func TestParseErrorKeepsLocation(t *testing.T) {
	h := newTestHandler(t)
	_, res := post(t, h, `{"query":"{ Task { "}`, nil)
	require.Len(t, res.Errors, 1)
	require.NotEmpty(t, res.Errors[0].Locations)
	require.Equal(t, 1, res.Errors[0].Locations[0].Line)
}

func TestUnguardedQueryPassesThrough(t *testing.T) {
	h := newTestHandler(t)
	w, res := post(t, h, `{"query":"{ version }"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	doc, err := language.ParseQuery(res.Query)
	require.NoError(t, err)
	require.Empty(t, doc.Operations[0].SelectionSet[0].(*language.Field).Arguments)
	require.Empty(t, res.AuthParams)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHandler(t)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/rewrite", nil))
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	require.Equal(t, "POST, OPTIONS", w.Header().Get("Allow"))
}

func TestUnsupportedContentType(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest("POST", "/rewrite", bytes.NewBufferString(`query=x`))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestCORSAndPreflight(t *testing.T) {
	h := newTestHandler(t, WithCORS("*"))

	req := httptest.NewRequest("POST", "/rewrite", bytes.NewBufferString(`{"query":"{ version }"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	pre := httptest.NewRequest("OPTIONS", "/rewrite", nil)
	pre.Header.Set("Origin", "http://example.com")
	pre.Header.Set("Access-Control-Request-Headers", "X-User-Id")
	pw := httptest.NewRecorder()
	h.ServeHTTP(pw, pre)
	require.Equal(t, http.StatusNoContent, pw.Code)
	require.Equal(t, "*", pw.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "X-User-Id", pw.Header().Get("Access-Control-Allow-Headers"))
}

func TestCORSSpecificOrigin(t *testing.T) {
	h := newTestHandler(t, WithCORS("http://allowed.test"))

	for origin, want := range map[string]string{
		"http://allowed.test": "http://allowed.test",
		"http://other.test":   "",
	} {
		req := httptest.NewRequest("POST", "/rewrite", bytes.NewBufferString(`{"query":"{ version }"}`))
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		require.Equal(t, want, w.Header().Get("Access-Control-Allow-Origin"), origin)
	}
}

func TestMaxBodyBytes(t *testing.T) {
	h := newTestHandler(t, WithMaxBodyBytes(10))
	w, res := post(t, h, `{"query":"1234567890"}`, nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	require.Equal(t, errBodyTooLargeMessage, res.Errors[0].Message)
}

func TestExpiredContext(t *testing.T) {
	h := newTestHandler(t)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	req := httptest.NewRequestWithContext(ctx, "POST", "/rewrite", bytes.NewBufferString(`{"query":"{ version }"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMuxRoutesAndRequestID(t *testing.T) {
	h := newTestHandler(t)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("m")) })
	mux := h.Mux(metrics)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok\n", w.Body.String())
	require.NotEmpty(t, w.Header().Get(reqid.Header))

	given := "7d444840-9dc0-11d1-b245-5ffdce74fad2"
	req := httptest.NewRequest("GET", "/metrics", nil)
	req.Header.Set(reqid.Header, given)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, "m", w.Body.String())
	require.Equal(t, given, w.Header().Get(reqid.Header))

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/nope", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	h.Mux(nil).ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventsArePublished(t *testing.T) {
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })

	var (
		rids    []string
		finish  events.RewriteFinish
		httpEnd events.HTTPFinish
	)
	eventbus.Subscribe(func(ctx context.Context, e events.RewriteStart) {
		rid, _ := reqid.FromContext(ctx)
		rids = append(rids, rid)
	})
	eventbus.Subscribe(func(ctx context.Context, e events.RewriteFinish) { finish = e })
	eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
		rid, _ := reqid.FromContext(ctx)
		rids = append(rids, rid)
		httpEnd = e
	})

	h := newTestHandler(t)
	req := httptest.NewRequest("POST", "/rewrite", bytes.NewBufferString(`{"query":"query Q { Task { name } }"}`))
	req.Header.Set("X-User-Id", "u1")
	w := httptest.NewRecorder()
	h.Mux(nil).ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, rids, 2)
	require.Equal(t, rids[0], rids[1])
	require.Equal(t, w.Header().Get(reqid.Header), rids[0])
	require.Equal(t, "Q", finish.OperationName)
	require.Equal(t, "query", finish.OperationType)
	require.Equal(t, 1, finish.Actions)
	require.NoError(t, finish.Err)
	require.Equal(t, "/rewrite", httpEnd.Route)
	require.Equal(t, http.StatusOK, httpEnd.Status)
}

func TestNewRequiresSchema(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}
