package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"
)

// Mailer delivers the one-time code. The concrete transport is behind an
// interface so the auth service can be tested without sending anything.
type Mailer interface {
	SendOTP(ctx context.Context, to, code string) error
}

const otpSubject = "Your login OTP code"

var otpTemplate = template.Must(template.New("otp").Parse(`<!DOCTYPE html>
<html>
  <body style="font-family: sans-serif;">
    <h2>Your login code</h2>
    <p>Use this code to sign in. It expires in {{.TTLMinutes}} minutes.</p>
    <p style="font-size: 32px; letter-spacing: 6px;"><strong>{{.Code}}</strong></p>
    <p>If you did not request this code, you can ignore this email.</p>
  </body>
</html>`))

// ResendMailer sends through the Resend HTTP API.
type ResendMailer struct {
	APIKey     string
	From       string
	OTPTTL     time.Duration
	BaseURL    string
	HTTPClient *http.Client
}

func NewResend(apiKey, from string, otpTTL time.Duration) *ResendMailer {
	return &ResendMailer{
		APIKey:  apiKey,
		From:    from,
		OTPTTL:  otpTTL,
		BaseURL: "https://api.resend.com",
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (m *ResendMailer) SendOTP(ctx context.Context, to, code string) error {
	var html bytes.Buffer
	err := otpTemplate.Execute(&html, struct {
		Code       string
		TTLMinutes int
	}{Code: code, TTLMinutes: int(m.OTPTTL.Minutes())})
	if err != nil {
		return fmt.Errorf("render email: %w", err)
	}

	payload := map[string]any{
		"from":    m.From,
		"to":      []string{to},
		"subject": otpSubject,
		"html":    html.String(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.BaseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("resend responded %d: %s", resp.StatusCode, msg)
	}
	return nil
}
