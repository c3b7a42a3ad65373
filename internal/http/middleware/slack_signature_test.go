package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

const testSigningSecret = "8f742231b10e8888abcd99yyyzzz85a5"

func signBody(ts, body string) string {
	mac := hmac.New(sha256.New, []byte(testSigningSecret))
	mac.Write([]byte("v0:" + ts + ":" + body))
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func signatureRouter(opts SlackSignatureOptions) (*gin.Engine, *string) {
	gin.SetMode(gin.TestMode)
	var seenBody string
	r := gin.New()
	r.Use(VerifySlackSignature(opts))
	r.POST("/slack/events", func(c *gin.Context) {
		raw, _ := io.ReadAll(c.Request.Body)
		seenBody = string(raw)
		c.String(http.StatusOK, "ok")
	})
	return r, &seenBody
}

func TestVerifySlackSignature_Accepts(t *testing.T) {
	now := time.Unix(1718000000, 0)
	r, seenBody := signatureRouter(SlackSignatureOptions{
		SigningSecret: testSigningSecret,
		Now:           func() time.Time { return now },
	})

	body := `{"type":"url_verification","challenge":"c"}`
	ts := fmt.Sprintf("%d", now.Unix()-30)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body))
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", signBody(ts, body))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	// The raw body must survive for the handler.
	if *seenBody != body {
		t.Fatalf("handler saw %q; want %q", *seenBody, body)
	}
}

func TestVerifySlackSignature_Rejects(t *testing.T) {
	now := time.Unix(1718000000, 0)
	body := `{"type":"event_callback"}`
	goodTS := fmt.Sprintf("%d", now.Unix())

	cases := map[string]struct {
		ts  string
		sig string
	}{
		"missing headers": {"", ""},
		"garbage ts":      {"not-a-number", signBody("not-a-number", body)},
		"stale ts":        {fmt.Sprintf("%d", now.Unix()-600), signBody(fmt.Sprintf("%d", now.Unix()-600), body)},
		"future ts":       {fmt.Sprintf("%d", now.Unix()+600), signBody(fmt.Sprintf("%d", now.Unix()+600), body)},
		"bad signature":   {goodTS, "v0=deadbeef"},
		"tampered body":   {goodTS, signBody(goodTS, `{"type":"tampered"}`)},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r, _ := signatureRouter(SlackSignatureOptions{
				SigningSecret: testSigningSecret,
				Now:           func() time.Time { return now },
			})
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body))
			if tc.ts != "" {
				req.Header.Set("X-Slack-Request-Timestamp", tc.ts)
			}
			if tc.sig != "" {
				req.Header.Set("X-Slack-Signature", tc.sig)
			}
			r.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status=%d; want 401", w.Code)
			}
			if !strings.Contains(w.Body.String(), "invalid_signature") {
				t.Fatalf("body=%s", w.Body.String())
			}
		})
	}
}

func TestVerifySlackSignature_DisabledWithoutSecret(t *testing.T) {
	r, _ := signatureRouter(SlackSignatureOptions{})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader("{}"))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d; want 200 when verification disabled", w.Code)
	}
}
