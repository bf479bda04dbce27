package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newBridgeForTest(t *testing.T, handler http.HandlerFunc) *BridgeClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewBridgeClient(BridgeConfig{BaseURL: srv.URL, AuthToken: "tok", Timeout: time.Second})
	if err != nil {
		t.Fatalf("bridge client: %v", err)
	}
	return client
}

func TestBridgeCreateHold(t *testing.T) {
	client := newBridgeForTest(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/holds" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Fatalf("missing bearer token, got %q", got)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["memo"] != "c1" {
			t.Fatalf("tag not forwarded as memo: %+v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"balanceId": "bal-1", "txHash": "tx-1"})
	})

	hold, err := client.CreateHold(context.Background(), CreateHoldRequest{
		SourceAccount: "S1", Amount: "50.00", AssetCode: "NATIVE",
		Claimant: "+15551234567", ExpiresAt: time.Now().Add(time.Hour), Tag: "c1",
	})
	if err != nil {
		t.Fatalf("create hold: %v", err)
	}
	if hold.Reference != "bal-1" || hold.TxHash != "tx-1" {
		t.Fatalf("unexpected hold: %+v", hold)
	}
}

func TestBridgeErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"server error is retryable", http.StatusBadGateway, ``, IsRetryable},
		{"not found", http.StatusNotFound, ``, func(err error) bool { return errors.Is(err, ErrHoldNotFound) }},
		{"conflict", http.StatusConflict, ``, func(err error) bool { return errors.Is(err, ErrAlreadyReleased) }},
		{"gone", http.StatusGone, ``, func(err error) bool { return errors.Is(err, ErrHoldExpired) }},
		{"rejection is not retryable", http.StatusUnprocessableEntity, `{"error":"insufficient funds"}`, func(err error) bool {
			var rejected *RejectedError
			return errors.As(err, &rejected) && !IsRetryable(err)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newBridgeForTest(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := client.Release(context.Background(), "bal-1", "R1")
			if err == nil || !tc.check(err) {
				t.Fatalf("unexpected classification: %v", err)
			}
		})
	}
}

func TestBridgeLookupHoldMiss(t *testing.T) {
	client := newBridgeForTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, found, err := client.LookupHold(context.Background(), "c1")
	if err != nil {
		t.Fatalf("lookup miss should not error: %v", err)
	}
	if found {
		t.Fatalf("expected miss")
	}
}

func TestFakeGatewayPredicate(t *testing.T) {
	ctx := context.Background()
	gw := NewFakeGateway()
	base := time.Now()
	now := base
	gw.SetClock(func() time.Time { return now })

	hold, err := gw.CreateHold(ctx, CreateHoldRequest{
		SourceAccount: "S1", Amount: "10", AssetCode: "NATIVE",
		ExpiresAt: base.Add(time.Minute), Tag: "c1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := gw.Refund(ctx, hold.Reference, "S1"); err == nil {
		t.Fatalf("refund before expiry must be rejected")
	}

	if _, err := gw.Release(ctx, hold.Reference, "R1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := gw.Release(ctx, hold.Reference, "R2"); !errors.Is(err, ErrAlreadyReleased) {
		t.Fatalf("expected ErrAlreadyReleased, got %v", err)
	}

	// Past the deadline an unreleased hold refuses release and allows refund.
	hold2, _ := gw.CreateHold(ctx, CreateHoldRequest{
		SourceAccount: "S1", Amount: "10", AssetCode: "NATIVE",
		ExpiresAt: base.Add(time.Minute), Tag: "c2",
	})
	now = base.Add(2 * time.Minute)
	if _, err := gw.Release(ctx, hold2.Reference, "R1"); !errors.Is(err, ErrHoldExpired) {
		t.Fatalf("expected ErrHoldExpired, got %v", err)
	}
	if _, err := gw.Refund(ctx, hold2.Reference, "S1"); err != nil {
		t.Fatalf("refund after expiry: %v", err)
	}
}
