package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// BridgeClient talks to the ledger bridge, the horizon-facing sidecar that
// builds, signs, and submits the actual claimable-balance transactions. The
// bridge keeps the signing keys; this service never sees them.
type BridgeClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

type BridgeConfig struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
}

func NewBridgeClient(cfg BridgeConfig) (*BridgeClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ledger bridge url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BridgeClient{
		baseURL:    cfg.BaseURL,
		authToken:  cfg.AuthToken,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type bridgeHoldRequest struct {
	SourceAccount string `json:"sourceAccount"`
	Amount        string `json:"amount"`
	AssetCode     string `json:"assetCode"`
	Claimant      string `json:"claimant"`
	ExpiresAt     string `json:"expiresAt"` // ISO-8601
	Memo          string `json:"memo"`
}

type bridgeHoldResponse struct {
	BalanceID string `json:"balanceId"`
	TxHash    string `json:"txHash"`
	Ledger    int64  `json:"ledger"`
}

type bridgeErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *BridgeClient) CreateHold(ctx context.Context, req CreateHoldRequest) (Hold, error) {
	body := bridgeHoldRequest{
		SourceAccount: req.SourceAccount,
		Amount:        req.Amount,
		AssetCode:     req.AssetCode,
		Claimant:      req.Claimant,
		ExpiresAt:     req.ExpiresAt.UTC().Format(time.RFC3339),
		Memo:          req.Tag,
	}

	var resp bridgeHoldResponse
	if err := c.do(ctx, http.MethodPost, "/v1/holds", body, &resp, "create hold"); err != nil {
		return Hold{}, err
	}
	return Hold{Reference: resp.BalanceID, TxHash: resp.TxHash}, nil
}

func (c *BridgeClient) Release(ctx context.Context, escrowRef, toAccount string) (TxConfirmation, error) {
	body := map[string]string{"destination": toAccount}
	var resp bridgeHoldResponse
	path := "/v1/holds/" + url.PathEscape(escrowRef) + "/claim"
	if err := c.do(ctx, http.MethodPost, path, body, &resp, "release"); err != nil {
		return TxConfirmation{}, err
	}
	return TxConfirmation{TxHash: resp.TxHash, Ledger: resp.Ledger}, nil
}

func (c *BridgeClient) Refund(ctx context.Context, escrowRef, toAccount string) (TxConfirmation, error) {
	body := map[string]string{"destination": toAccount}
	var resp bridgeHoldResponse
	path := "/v1/holds/" + url.PathEscape(escrowRef) + "/refund"
	if err := c.do(ctx, http.MethodPost, path, body, &resp, "refund"); err != nil {
		return TxConfirmation{}, err
	}
	return TxConfirmation{TxHash: resp.TxHash, Ledger: resp.Ledger}, nil
}

func (c *BridgeClient) LookupHold(ctx context.Context, tag string) (Hold, bool, error) {
	var resp bridgeHoldResponse
	path := "/v1/holds?memo=" + url.QueryEscape(tag)
	err := c.do(ctx, http.MethodGet, path, nil, &resp, "lookup hold")
	if err != nil {
		if errors.Is(err, ErrHoldNotFound) {
			return Hold{}, false, nil
		}
		return Hold{}, false, err
	}
	return Hold{Reference: resp.BalanceID, TxHash: resp.TxHash}, true, nil
}

func (c *BridgeClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/health", nil, nil, "ping")
}

func (c *BridgeClient) do(ctx context.Context, method, path string, body, out any, op string) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &SubmissionError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &SubmissionError{Op: op, Err: fmt.Errorf("bridge returned %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		var bridgeErr bridgeErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&bridgeErr)
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return ErrHoldNotFound
		case resp.StatusCode == http.StatusConflict || bridgeErr.Code == "already_claimed":
			return ErrAlreadyReleased
		case resp.StatusCode == http.StatusGone || bridgeErr.Code == "predicate_expired":
			return ErrHoldExpired
		}
		reason := bridgeErr.Error
		if reason == "" {
			reason = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return &RejectedError{Op: op, Reason: reason}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}
