package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vektah/gqlparser/v2/gqlerror"

	deepauth "github.com/hanpama/deepauth/internal/deepauth"
	eventbus "github.com/hanpama/deepauth/internal/eventbus"
	events "github.com/hanpama/deepauth/internal/events"
	language "github.com/hanpama/deepauth/internal/language"
	reqid "github.com/hanpama/deepauth/internal/reqid"
	schema "github.com/hanpama/deepauth/internal/schema"
)

// Handler is an http.Handler that rewrites GraphQL queries so that every
// guarded selection carries its authorization filter. It never executes
// the query; the rewritten document is returned to the caller.
type Handler struct {
	schema *schema.Schema
	opt    Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// ParamHeaders maps HTTP header names to deepAuth request params,
	// e.g. "X-User-Id" to "$user_id". Header names are case-insensitive.
	ParamHeaders map[string]string

	// Logger receives per-request logs. Defaults to slog.Default().
	Logger *slog.Logger
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithLogger(l *slog.Logger) Option   { return func(o *Options) { o.Logger = l } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}

// WithParamHeaders maps request headers to deepAuth params. Header values
// are spliced into predicate templates: inside a quoted token they are
// escaped, anywhere else they become GraphQL syntax. The headers must be
// set by a trusted proxy.
func WithParamHeaders(headers map[string]string) Option {
	return func(o *Options) { o.ParamHeaders = headers }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates a rewrite handler for s.
func New(s *schema.Schema, opts ...Option) (*Handler, error) {
	if s == nil {
		return nil, errors.New("server: schema is required")
	}
	op := Options{Timeout: 10 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	if op.Logger == nil {
		op.Logger = slog.Default()
	}
	return &Handler{schema: s, opt: op}, nil
}

// Mux routes POST /rewrite to h, GET /healthz to a liveness check and,
// when metrics is not nil, /metrics to it. Every route is instrumented.
func (h *Handler) Mux(metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/rewrite", h.instrument("/rewrite", h))
	mux.Handle("/healthz", h.instrument("/healthz", http.HandlerFunc(healthz)))
	if metrics != nil {
		mux.Handle("/metrics", h.instrument("/metrics", metrics))
	}
	return mux
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

// statusRecorder captures the status written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *Handler) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, rid := reqid.FromRequest(r)
		r = r.WithContext(ctx)
		w.Header().Set(reqid.Header, rid)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		eventbus.Publish(ctx, events.HTTPStart{Request: r})
		defer func() {
			d := time.Since(start)
			eventbus.Publish(ctx, events.HTTPFinish{Request: r, Route: route, Status: rec.status, Duration: d})
			h.opt.Logger.DebugContext(ctx, "http request",
				"request_id", rid,
				"method", r.Method,
				"route", route,
				"status", rec.status,
				"duration", d)
		}()
		next.ServeHTTP(rec, r)
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST, OPTIONS")
		h.writeError(w, http.StatusMethodNotAllowed, gqlerror.Errorf("method not allowed"))
		return
	}

	req, status, err := parseRequest(r, h.opt.MaxBodyBytes)
	if err != nil {
		h.writeError(w, status, err)
		return
	}

	ctx = deepauth.WithParams(ctx, h.paramsFrom(r))
	res, status := h.rewrite(ctx, req)
	h.writeJSON(w, status, res)
}

// RewriteRequest is the body of POST /rewrite.
type RewriteRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	// Args are the root resolver arguments. When omitted, they are read
	// from the root field's literal arguments.
	Args map[string]any `json:"args,omitempty"`
}

// RewriteResponse is the body returned by POST /rewrite.
type RewriteResponse struct {
	// Query is the rewritten operation followed by its fragments.
	Query         string         `json:"query,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
	AuthParams    map[string]any `json:"authParams,omitempty"`
	Errors        gqlerror.List  `json:"errors,omitempty"`
}

func (h *Handler) rewrite(ctx context.Context, req RewriteRequest) (RewriteResponse, int) {
	doc, err := language.ParseQuery(req.Query)
	if err != nil {
		return RewriteResponse{Errors: toErrorList(err, "GRAPHQL_PARSE_FAILED")}, http.StatusBadRequest
	}
	info, err := deepauth.ResolveInfoFromDocument(h.schema, doc, req.OperationName, req.Variables)
	if err != nil {
		return RewriteResponse{Errors: toErrorList(err, "OPERATION_RESOLUTION_FAILURE")}, http.StatusBadRequest
	}
	args := req.Args
	if args == nil {
		args = rootArgs(info)
	}

	opType := string(info.Operation.Operation)
	var actions int
	count := func(m *deepauth.ActionMap) (*language.QueryDocument, error) {
		for _, loc := range m.Locations() {
			for _, a := range m.Get(loc)() {
				if a.Kind != deepauth.ActionSkip {
					actions++
				}
			}
		}
		return deepauth.Coalesce(m)
	}

	start := time.Now()
	eventbus.Publish(ctx, events.RewriteStart{OperationName: info.Operation.Name, OperationType: opType})
	result, err := deepauth.ApplyDeepAuth(ctx, args, info, deepauth.WithCoalescer(count))
	finish := events.RewriteFinish{
		OperationName: info.Operation.Name,
		OperationType: opType,
		Actions:       actions,
		Err:           err,
		Duration:      time.Since(start),
	}
	if err != nil {
		finish.Code = deepauth.Code(err)
	}
	eventbus.Publish(ctx, finish)

	if err != nil {
		rid, _ := reqid.FromContext(ctx)
		h.opt.Logger.WarnContext(ctx, "rewrite failed",
			"request_id", rid,
			"operation", info.Operation.Name,
			"code", finish.Code,
			"error", err)
		status := http.StatusUnprocessableEntity
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
		case finish.Code == "INTERNAL":
			status = http.StatusInternalServerError
		}
		return RewriteResponse{Errors: toErrorList(err, finish.Code)}, status
	}

	return RewriteResponse{
		Query:         language.FormatQuery(result.Document(), false),
		OperationName: info.Operation.Name,
		AuthParams:    result.AuthParams,
	}, http.StatusOK
}

// rootArgs reads the literal arguments of the operation's first root field.
func rootArgs(info *deepauth.ResolveInfo) map[string]any {
	args := map[string]any{}
	if len(info.Operation.SelectionSet) == 0 {
		return args
	}
	field, ok := info.Operation.SelectionSet[0].(*language.Field)
	if !ok {
		return args
	}
	for _, a := range field.Arguments {
		args[a.Name] = deepauth.ValueToGo(a.Value, info.VariableValues)
	}
	return args
}

func (h *Handler) paramsFrom(r *http.Request) deepauth.Params {
	params := deepauth.Params{}
	for header, name := range h.opt.ParamHeaders {
		if v := r.Header.Get(header); v != "" {
			params[name] = v
		}
	}
	return params
}

// ------------------ Request parsing ------------------

func parseRequest(r *http.Request, maxBody int64) (RewriteRequest, int, error) {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return RewriteRequest{}, http.StatusUnsupportedMediaType, gqlerror.Errorf("unsupported Content-Type")
	}
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return RewriteRequest{}, http.StatusBadRequest, gqlerror.Errorf("failed to read body")
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return RewriteRequest{}, http.StatusRequestEntityTooLarge, gqlerror.Errorf(errBodyTooLargeMessage)
	}

	var req RewriteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return RewriteRequest{}, http.StatusBadRequest, gqlerror.Errorf("invalid JSON")
	}
	if req.Query == "" {
		return RewriteRequest{}, http.StatusBadRequest, gqlerror.Errorf("missing 'query'")
	}
	return req, 0, nil
}

// ------------------ Response formatting ------------------

// toErrorList converts err into GraphQL errors carrying code as
// extensions.code. Located parser errors keep their locations.
func toErrorList(err error, code string) gqlerror.List {
	var list gqlerror.List
	var gerr *gqlerror.Error
	switch {
	case errors.As(err, &list):
	case errors.As(err, &gerr):
		list = gqlerror.List{gerr}
	default:
		list = gqlerror.List{gqlerror.Wrap(err)}
	}
	for _, e := range list {
		if e.Extensions == nil {
			e.Extensions = map[string]any{}
		}
		e.Extensions["code"] = code
	}
	return list
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, RewriteResponse{Errors: toErrorList(err, "BAD_REQUEST")})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if h.opt.Pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

const errBodyTooLargeMessage = "body too large"

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
