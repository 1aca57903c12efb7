package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fhirworks/fhirstore/internal/platform/auth"
	"github.com/fhirworks/fhirstore/internal/platform/fhir"
	"github.com/fhirworks/fhirstore/internal/registry"
	"github.com/fhirworks/fhirstore/internal/repo"
	"github.com/fhirworks/fhirstore/internal/search"
)

var testKey = []byte("server-test-key")

func testServer(t *testing.T, authCfg auth.Config) *Server {
	t.Helper()
	reg := registry.NewWithBase()
	reg.Freeze()
	return New(Options{
		Repo:    repo.NewRepository(nil, reg, nil),
		Engine:  search.NewEngine(nil, reg, search.Limits{}, "https://fhir.example.org"),
		Logger:  zerolog.Nop(),
		Auth:    authCfg,
		BaseURL: "https://fhir.example.org",
		Version: "0.1.0",
	})
}

func do(s *Server, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/fhir+json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func decodeOutcome(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	out := map[string]interface{}{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("body is not JSON: %v\n%s", err, rec.Body.String())
	}
	if out["resourceType"] != "OperationOutcome" {
		t.Fatalf("expected OperationOutcome, got %v", out["resourceType"])
	}
	return out
}

func TestCreate_TypeMismatchRejected(t *testing.T) {
	s := testServer(t, auth.Config{Optional: true})
	rec := do(s, http.MethodPost, "/Patient", `{"resourceType":"Observation"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	decodeOutcome(t, rec)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/fhir+json") {
		t.Errorf("expected fhir+json content type, got %s", ct)
	}
}

func TestCreate_EmptyBodyRejected(t *testing.T) {
	s := testServer(t, auth.Config{Optional: true})
	rec := do(s, http.MethodPost, "/Patient", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUpdate_BodyIDMismatchRejected(t *testing.T) {
	s := testServer(t, auth.Config{Optional: true})
	rec := do(s, http.MethodPut, "/Patient/abc", `{"resourceType":"Patient","id":"other"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSearch_UnknownTypeRejected(t *testing.T) {
	s := testServer(t, auth.Config{Optional: true})
	rec := do(s, http.MethodGet, "/Gadget?name=x", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCompartmentSearch_UnknownTypeRejected(t *testing.T) {
	s := testServer(t, auth.Config{Optional: true})
	rec := do(s, http.MethodGet, "/Patient/p1/Gadget", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestBundle_NonBundleRejected(t *testing.T) {
	s := testServer(t, auth.Config{Optional: true})
	rec := do(s, http.MethodPost, "/", `{"resourceType":"Patient"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAuth_RequiredWhenNotOptional(t *testing.T) {
	s := testServer(t, auth.Config{SigningKey: testKey})
	rec := do(s, http.MethodGet, "/Patient", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	decodeOutcome(t, rec)
}

func TestAuth_TokenAccepted(t *testing.T) {
	s := testServer(t, auth.Config{SigningKey: testKey})
	token, err := auth.SignToken(testKey, "tester", "", true, time.Minute)
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}
	// Body type mismatch proves the request got past auth into the handler.
	rec := do(s, http.MethodPost, "/Patient", `{"resourceType":"Observation"}`,
		map[string]string{"Authorization": "Bearer " + token})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 from handler, got %d", rec.Code)
	}
}

func TestMetadata_OpenWithoutAuth(t *testing.T) {
	s := testServer(t, auth.Config{SigningKey: testKey})
	rec := do(s, http.MethodGet, "/metadata", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHealth_UnavailableWithoutPool(t *testing.T) {
	s := testServer(t, auth.Config{Optional: true})
	rec := do(s, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestErrorHandler_TaxonomyMapping(t *testing.T) {
	s := testServer(t, auth.Config{Optional: true})
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fhir.NotFoundError("Patient", "x"), http.StatusNotFound, "not-found"},
		{fhir.GoneError("Patient", "x"), http.StatusGone, "deleted"},
		{fhir.VersionConflictError("Patient", "x", "v1"), http.StatusConflict, "conflict"},
		{fhir.InvalidError("bad"), http.StatusBadRequest, "invalid"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := s.Echo().NewContext(req, rec)
		s.errorHandler(tc.err, c)
		if rec.Code != tc.status {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
		out := decodeOutcome(t, rec)
		issues := out["issue"].([]interface{})
		if issues[0].(map[string]interface{})["code"] != tc.code {
			t.Errorf("%v: expected issue code %s, got %v", tc.err, tc.code, issues[0])
		}
	}
}

func TestParseETag(t *testing.T) {
	cases := map[string]string{
		`W/"v1"`:  "v1",
		`"v2"`:    "v2",
		`v3`:      "v3",
		` W/"v4"`: "v4",
		"":        "",
	}
	for in, want := range cases {
		if got := parseETag(in); got != want {
			t.Errorf("parseETag(%q) = %q, want %q", in, got, want)
		}
	}
}
