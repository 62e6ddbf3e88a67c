package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"hayvn/listing-pipeline/internal/auth"
	"hayvn/listing-pipeline/internal/ingest"
	"hayvn/listing-pipeline/internal/match"
)

const (
	validToken = "tok-agent-1"
	loneToken  = "tok-no-brokerage"
	clientUUID = "6f1c2a9e-3b7d-4e51-9a0f-2c8d4b6e1f37"
	connUUID   = "0b6d6a3c-2f4e-4a7b-8c1d-5e9f0a1b2c3d"
)

type fakeVerifier struct{}

func (fakeVerifier) Verify(_ context.Context, token string) (*auth.Principal, error) {
	switch token {
	case validToken:
		return &auth.Principal{AgentID: "agent-1", BrokerageID: "brk-1"}, nil
	case loneToken:
		return &auth.Principal{AgentID: "agent-2"}, nil
	}
	return nil, auth.ErrUnauthorized
}

type fakeSyncer struct {
	got    *ingest.Request
	report *ingest.Report
	err    error
}

func (f *fakeSyncer) Sync(_ context.Context, req ingest.Request) (*ingest.Report, error) {
	f.got = &req
	return f.report, f.err
}

type fakeRecommender struct {
	got     *match.Request
	res     *match.Result
	err     error
	explode bool
}

func (f *fakeRecommender) Recommend(_ context.Context, _ auth.Principal, req match.Request) (*match.Result, error) {
	if f.explode {
		panic("boom")
	}
	f.got = &req
	return f.res, f.err
}

func newTestHandler(s *fakeSyncer, rec *fakeRecommender) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mux := http.NewServeMux()
	NewHandler(s, rec, fakeVerifier{}, "*", "test", logger).RegisterRoutes(mux)
	return mux
}

func do(t *testing.T, h http.Handler, method, target, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("response is not JSON: %q", w.Body.String())
		}
	}
	return w, out
}

func TestSync_ScopesToCallerBrokerage(t *testing.T) {
	s := &fakeSyncer{report: &ingest.Report{OK: true, DryRun: true, Results: []ingest.ConnectionResult{}}}
	h := newTestHandler(s, &fakeRecommender{})

	w, body := do(t, h, http.MethodPost, "/sync?connection_id="+connUUID+"&dry_run=true", validToken, "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %v", w.Code, body)
	}
	if s.got == nil || s.got.BrokerageID != "brk-1" || s.got.ConnectionID != connUUID || !s.got.DryRun {
		t.Errorf("Sync request = %+v", s.got)
	}
	if body["ok"] != true || body["dry_run"] != true {
		t.Errorf("body = %v", body)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header on POST")
	}
}

func TestSync_BadInput(t *testing.T) {
	cases := []struct {
		name, target, token string
		want                int
	}{
		{"no token", "/sync", "", http.StatusUnauthorized},
		{"bad token", "/sync", "nope", http.StatusUnauthorized},
		{"no brokerage", "/sync", loneToken, http.StatusForbidden},
		{"bad connection id", "/sync?connection_id=42", validToken, http.StatusBadRequest},
		{"bad dry_run", "/sync?dry_run=maybe", validToken, http.StatusBadRequest},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := &fakeSyncer{}
			w, body := do(t, newTestHandler(s, &fakeRecommender{}), http.MethodPost, c.target, c.token, "")
			if w.Code != c.want {
				t.Errorf("status = %d, want %d", w.Code, c.want)
			}
			if body["ok"] != false || body["error"] == "" {
				t.Errorf("body = %v, want {ok:false, error}", body)
			}
			if s.got != nil {
				t.Error("Sync called on rejected request")
			}
		})
	}
}

func TestSync_UnexpectedErrorIs500(t *testing.T) {
	s := &fakeSyncer{err: errors.New("load connections: connection refused")}
	w, body := do(t, newTestHandler(s, &fakeRecommender{}), http.MethodPost, "/sync", validToken, "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", w.Code)
	}
	if body["error"] != "internal error" {
		t.Errorf("error = %v, want internal detail hidden", body["error"])
	}
}

func TestRecommend_PassesRequest(t *testing.T) {
	rec := &fakeRecommender{res: &match.Result{OK: true, ModeUsed: match.ModeNoop, Picks: []match.Pick{}}}
	h := newTestHandler(&fakeSyncer{}, rec)

	w, body := do(t, h, http.MethodPost, "/recommend", validToken,
		`{"client_id":"`+clientUUID+`","limit":80,"target_new":3}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %v", w.Code, body)
	}
	if rec.got == nil || rec.got.ClientID != clientUUID || rec.got.Limit != 80 || rec.got.TargetNew != 3 {
		t.Errorf("Recommend request = %+v", rec.got)
	}
	if body["mode_used"] != "noop" {
		t.Errorf("body = %v", body)
	}
}

func TestRecommend_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		body string
		want int
	}{
		{"not found", match.ErrClientNotFound, "", http.StatusNotFound},
		{"forbidden", match.ErrForbidden, "", http.StatusForbidden},
		{"validation", &match.ValidationError{Msg: "client_id is required"}, "", http.StatusBadRequest},
		{"unexpected", errors.New("insert recommendations: deadlock"), "", http.StatusInternalServerError},
		{"malformed json", nil, `{"client_id":`, http.StatusBadRequest},
		{"non-uuid client", nil, `{"client_id":"abc"}`, http.StatusBadRequest},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			body := c.body
			if body == "" {
				body = `{"client_id":"` + clientUUID + `"}`
			}
			rec := &fakeRecommender{err: c.err}
			w, out := do(t, newTestHandler(&fakeSyncer{}, rec), http.MethodPost, "/recommend", validToken, body)
			if w.Code != c.want {
				t.Errorf("status = %d, want %d (body %v)", w.Code, c.want, out)
			}
			if out["ok"] != false {
				t.Errorf("ok = %v, want false", out["ok"])
			}
		})
	}
}

func TestRecommend_PanicRecovered(t *testing.T) {
	h := newTestHandler(&fakeSyncer{}, &fakeRecommender{explode: true})
	w, body := do(t, h, http.MethodPost, "/recommend", validToken, `{"client_id":"`+clientUUID+`"}`)
	if w.Code != http.StatusInternalServerError || body["ok"] != false {
		t.Errorf("status = %d body = %v", w.Code, body)
	}
}

func TestPreflightAndMethods(t *testing.T) {
	h := newTestHandler(&fakeSyncer{}, &fakeRecommender{})

	for _, path := range []string{"/sync", "/recommend"} {
		w, _ := do(t, h, http.MethodOptions, path, "", "")
		if w.Code != http.StatusNoContent {
			t.Errorf("OPTIONS %s = %d, want 204", path, w.Code)
		}
		if w.Header().Get("Access-Control-Allow-Methods") == "" || w.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Errorf("OPTIONS %s missing CORS headers", path)
		}

		w, _ = do(t, h, http.MethodGet, path, validToken, "")
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("GET %s = %d, want 405", path, w.Code)
		}
	}
}

func TestHealth(t *testing.T) {
	w, body := do(t, newTestHandler(&fakeSyncer{}, &fakeRecommender{}), http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK || body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("status = %d body = %v", w.Code, body)
	}
}
