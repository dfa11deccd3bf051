// Package invoker sends start requests for actions and fetches the markup the
// dashboard renders.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/odvcencio/actionator/pkg/errors"
	"github.com/odvcencio/actionator/pkg/logging"
	"github.com/odvcencio/actionator/pkg/telemetry"
	"github.com/odvcencio/actionator/pkg/wire"
)

const (
	defaultTimeout       = 30 * time.Second
	maxErrorBodyBytes    = 64 << 10
	maxContentBytes      = 4 << 20
	defaultStartPathBase = "/api/actions/"
)

// Request asks the server to start one action.
type Request struct {
	Name string
	// Path is the start endpoint; empty means the default endpoint for Name.
	Path string
	// RunID, when set, is sent to the server and echoed in every frame of
	// the run.
	RunID  string
	Params map[string]string
}

// Result is the outcome of a start request.
type Result struct {
	Name   string
	RunID  string
	Status int
	Err    error
}

// OK reports whether the server accepted the request.
func (r Result) OK() bool {
	return r.Err == nil && r.Status >= 200 && r.Status < 300
}

// Invoker issues start requests and content fetches against one server.
type Invoker struct {
	base   *url.URL
	client *http.Client
	logger *logging.Logger
}

// New creates an Invoker for the server at baseURL. A nil client gets a
// default with a 30s timeout.
func New(baseURL string, client *http.Client, logger *logging.Logger) (*Invoker, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidInput, "invalid server url %q", baseURL)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Invoker{base: u, client: client, logger: logger}, nil
}

// BaseURL returns the server the invoker talks to.
func (i *Invoker) BaseURL() string {
	return i.base.String()
}

// Start posts req.Params as a JSON object to the action's start endpoint. It
// never panics; every failure is logged and reported in the Result.
func (i *Invoker) Start(ctx context.Context, req Request) Result {
	res := Result{Name: req.Name, RunID: req.RunID}

	ctx, span := telemetry.StartSpan(ctx, "actionator.invoke.start",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			telemetry.AttrAction.String(req.Name),
			telemetry.AttrRunID.String(req.RunID),
			telemetry.AttrParamCount.Int(len(req.Params)),
		),
	)
	defer span.End()

	log := i.logger.WithAction(req.Name)
	fail := func(err error) Result {
		res.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("start request failed", "error", err, "status", res.Status, "run_id", res.RunID)
		return res
	}

	params := req.Params
	if params == nil {
		params = map[string]string{}
	}
	body, err := json.Marshal(params)
	if err != nil {
		return fail(apperrors.Wrap(err, apperrors.ErrCodeStartRequest, "encode start parameters"))
	}

	path := req.Path
	if path == "" {
		path = defaultStartPathBase + url.PathEscape(req.Name)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, i.resolve(path), bytes.NewReader(body))
	if err != nil {
		return fail(apperrors.Wrap(err, apperrors.ErrCodeStartRequest, "build start request"))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if req.RunID != "" {
		httpReq.Header.Set(wire.RunIDHeader, req.RunID)
	}

	resp, err := i.client.Do(httpReq)
	if err != nil {
		return fail(apperrors.Wrap(err, apperrors.ErrCodeStartRequest, "start request failed").
			WithContext("action", req.Name).
			WithRetryable(ctx.Err() == nil))
	}
	defer resp.Body.Close()

	res.Status = resp.StatusCode
	span.SetAttributes(telemetry.AttrStatus.Int(resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := formatErrorBody(readBodyLimited(resp.Body, maxErrorBodyBytes))
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return fail(apperrors.Newf(apperrors.ErrCodeStartStatus, "start %s: %s (status %d)", req.Name, detail, resp.StatusCode).
			WithContext("status", resp.StatusCode).
			WithRetryable(resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500))
	}

	// The server's run id is only interesting when the client did not pick one.
	if res.RunID == "" {
		var accepted struct {
			RunID string `json:"run_id"`
		}
		if err := json.Unmarshal(readBodyLimited(resp.Body, maxErrorBodyBytes), &accepted); err == nil {
			res.RunID = accepted.RunID
		}
	}

	log.Debug("start request accepted", "status", resp.StatusCode, "run_id", res.RunID)
	return res
}

// Fetch returns the body at path verbatim.
func (i *Invoker) Fetch(ctx context.Context, path string) (string, error) {
	target := i.resolve(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeFetch, "build content request")
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeFetch, "fetch content").
			WithContext("path", path).
			WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail := formatErrorBody(readBodyLimited(resp.Body, maxErrorBodyBytes))
		return "", apperrors.Newf(apperrors.ErrCodeFetch, "fetch %s: status %d %s", path, resp.StatusCode, detail).
			WithContext("status", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxContentBytes))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeFetch, "read content").WithContext("path", path)
	}
	return string(data), nil
}

// resolve joins a server-relative path onto the base URL. Absolute URLs
// pass through.
func (i *Invoker) resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return strings.TrimSuffix(i.base.String(), "/") + "/" + strings.TrimPrefix(path, "/")
	}
	return i.base.ResolveReference(ref).String()
}

func readBodyLimited(r io.Reader, maxBytes int64) []byte {
	if r == nil || maxBytes <= 0 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(r, maxBytes))
	return data
}

type errorEnvelope struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// formatErrorBody turns a server error response into a one-line message.
func formatErrorBody(data []byte) string {
	if len(bytes.TrimSpace(data)) == 0 {
		return ""
	}
	var payload errorEnvelope
	if err := json.Unmarshal(data, &payload); err == nil {
		msg := strings.TrimSpace(payload.Message)
		if msg == "" {
			msg = strings.TrimSpace(payload.Error)
		}
		if msg != "" {
			if code := strings.TrimSpace(payload.Code); code != "" {
				return fmt.Sprintf("%s (%s)", msg, code)
			}
			return msg
		}
	}
	return strings.TrimSpace(string(data))
}
