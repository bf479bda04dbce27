package hmacauth

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func serveSigned(v *Verifier, body []byte, timestamp, signature string) *httptest.ResponseRecorder {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/claims", bytes.NewReader(body))
	if timestamp != "" {
		req.Header.Set("X-Request-Timestamp", timestamp)
	}
	if signature != "" {
		req.Header.Set("X-Request-Signature", signature)
	}
	rec := httptest.NewRecorder()
	v.Middleware(next).ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareAcceptsValidSignature(t *testing.T) {
	v := &Verifier{Secret: "s3cret", MaxSkew: time.Minute}
	body := []byte(`{"amount":"5"}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	rec := serveSigned(v, body, ts, Sign("s3cret", ts, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("valid signature rejected: %d %s", rec.Code, rec.Body.String())
	}
}

func TestMiddlewareRejectsTamperedBody(t *testing.T) {
	v := &Verifier{Secret: "s3cret", MaxSkew: time.Minute}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig := Sign("s3cret", ts, []byte(`{"amount":"5"}`))

	rec := serveSigned(v, []byte(`{"amount":"5000"}`), ts, sig)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("tampered body passed: %d", rec.Code)
	}
}

func TestMiddlewareRejectsStaleTimestamp(t *testing.T) {
	v := &Verifier{Secret: "s3cret", MaxSkew: time.Minute}
	body := []byte(`{}`)
	ts := strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10)

	rec := serveSigned(v, body, ts, Sign("s3cret", ts, body))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("stale timestamp passed: %d", rec.Code)
	}
}

func TestMiddlewareRejectsMissingHeaders(t *testing.T) {
	v := &Verifier{Secret: "s3cret", MaxSkew: time.Minute}
	body := []byte(`{}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	if rec := serveSigned(v, body, ts, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing signature passed: %d", rec.Code)
	}
	if rec := serveSigned(v, body, "", Sign("s3cret", ts, body)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing timestamp passed: %d", rec.Code)
	}
}

func TestMiddlewareOpenWithoutSecret(t *testing.T) {
	v := &Verifier{MaxSkew: time.Minute}
	if rec := serveSigned(v, []byte(`{}`), "", ""); rec.Code != http.StatusOK {
		t.Fatalf("dev-mode request rejected: %d", rec.Code)
	}
}

func TestMiddlewareLeavesBodyReadable(t *testing.T) {
	v := &Verifier{Secret: "s3cret", MaxSkew: time.Minute}
	body := []byte(`{"amount":"5"}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	var seen []byte
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		seen = buf.Bytes()
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/claims", bytes.NewReader(body))
	req.Header.Set("X-Request-Timestamp", ts)
	req.Header.Set("X-Request-Signature", Sign("s3cret", ts, body))
	v.Middleware(next).ServeHTTP(httptest.NewRecorder(), req)

	if !bytes.Equal(seen, body) {
		t.Fatalf("handler saw %q, want %q", seen, body)
	}
}
