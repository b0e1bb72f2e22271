// Package captcha verifies the human-check token that accompanies a drip request.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/token-faucet/internal/config"
	"github.com/token-faucet/internal/logging"
	"github.com/token-faucet/internal/retry"
)

// ErrMissingToken is returned when the request carries no captcha token
var ErrMissingToken = errors.New("captcha token is required")

// Verifier decides whether a captcha token is approved
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

// TurnstileVerifier checks tokens against the Cloudflare Turnstile siteverify endpoint
type TurnstileVerifier struct {
	secret    string
	verifyURL string
	client    *http.Client
	retry     *retry.Config
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
	Hostname   string   `json:"hostname"`
}

// NewTurnstileVerifier creates a verifier from captcha configuration
func NewTurnstileVerifier(cfg *config.CaptchaConfig) (*TurnstileVerifier, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("turnstile secret cannot be empty")
	}
	if cfg.VerifyURL == "" {
		return nil, fmt.Errorf("turnstile verify URL cannot be empty")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	rc := &retry.Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		Retryable: func(err error) bool {
			var se *statusError
			return !errors.As(err, &se) || se.code >= http.StatusInternalServerError
		},
	}

	return &TurnstileVerifier{
		secret:    cfg.Secret,
		verifyURL: cfg.VerifyURL,
		client:    &http.Client{Timeout: timeout},
		retry:     rc,
	}, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP error: %d - %s", e.code, e.body)
}

// Verify posts the token and reports whether Turnstile accepted it.
// A rejected token is (false, nil); err is reserved for transport failures.
func (v *TurnstileVerifier) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, ErrMissingToken
	}

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	result, err := retry.Value(ctx, v.retry, func(ctx context.Context) (*siteverifyResponse, error) {
		return v.post(ctx, form)
	})
	if err != nil {
		return false, fmt.Errorf("captcha verification failed: %w", err)
	}

	if !result.Success {
		logging.FromContext(ctx).WithField("errorCodes", result.ErrorCodes).Info("Captcha token rejected")
	}
	return result.Success, nil
}

func (v *TurnstileVerifier) post(ctx context.Context, form url.Values) (*siteverifyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, body: string(body)}
	}

	var result siteverifyResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to parse response: %w", err))
	}
	return &result, nil
}

// AllowAll approves every token; used when captcha checking is switched off
type AllowAll struct{}

// Verify always approves
func (AllowAll) Verify(context.Context, string, string) (bool, error) {
	return true, nil
}

// NewVerifier returns a Turnstile verifier, or AllowAll when captcha is disabled
func NewVerifier(cfg *config.CaptchaConfig) (Verifier, error) {
	if !cfg.Enabled {
		logging.Warn("Captcha verification is disabled; every drip request is treated as approved")
		return AllowAll{}, nil
	}
	return NewTurnstileVerifier(cfg)
}
