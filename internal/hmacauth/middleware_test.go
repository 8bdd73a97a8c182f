package hmacauth

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

var fixedNow = time.Unix(1_700_000_000, 0)

func newVerifier() *Verifier {
	return &Verifier{
		Secret:  "secret",
		MaxSkew: time.Minute,
		Now: func() time.Time {
			return fixedNow
		},
	}
}

func TestMiddleware_AllowsValidSignature(t *testing.T) {
	body := `{"domain":"ab","record":"hello"}`
	ts := strconv.FormatInt(fixedNow.Unix(), 10)
	sig := Sign("secret", ts, []byte(body))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/domains", strings.NewReader(body))
	req.Header.Set(HeaderSignature, sig)
	req.Header.Set(HeaderTimestamp, ts)
	rec := httptest.NewRecorder()

	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
		w.WriteHeader(http.StatusOK)
	})

	newVerifier().Middleware(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen != body {
		t.Fatalf("handler saw body %q, want %q", seen, body)
	}
}

func TestMiddleware_Rejects(t *testing.T) {
	body := `{"record":"x"}`
	ts := strconv.FormatInt(fixedNow.Unix(), 10)
	stale := strconv.FormatInt(fixedNow.Add(-2*time.Minute).Unix(), 10)

	cases := []struct {
		name string
		sig  string
		ts   string
		want error
	}{
		{"bad signature", "deadbeef", ts, ErrInvalidSignature},
		{"missing signature", "", ts, ErrMissingSignature},
		{"missing timestamp", Sign("secret", ts, []byte(body)), "", ErrMissingTimestamp},
		{"stale timestamp", Sign("secret", stale, []byte(body)), stale, ErrStaleTimestamp},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/v1/domains/ab/record", strings.NewReader(body))
			if tc.sig != "" {
				req.Header.Set(HeaderSignature, tc.sig)
			}
			if tc.ts != "" {
				req.Header.Set(HeaderTimestamp, tc.ts)
			}
			rec := httptest.NewRecorder()

			var rejected error
			v := newVerifier()
			v.OnReject = func(_ *http.Request, err error) { rejected = err }
			v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			})).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if !errors.Is(rejected, tc.want) {
				t.Fatalf("rejected with %v, want %v", rejected, tc.want)
			}
		})
	}
}

func TestSignRequestRoundTrip(t *testing.T) {
	v := newVerifier()
	v.SignatureHeader = "X-Pns-Signature"
	body := []byte(`{}`)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/connect", strings.NewReader(string(body)))
	v.SignRequest(req, body)
	if req.Header.Get("X-Pns-Signature") == "" {
		t.Fatalf("custom signature header not set")
	}

	rec := httptest.NewRecorder()
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestEmptySecretDisablesVerification(t *testing.T) {
	v := &Verifier{}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
