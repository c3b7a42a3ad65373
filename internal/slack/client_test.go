package slack

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(nil, " https://example.com/api/ ", " xoxb-1 ", " T1 ")
	if c.http == nil || c.baseURL != "https://example.com/api" || c.token != "xoxb-1" || c.teamID != "T1" {
		t.Fatalf("unexpected client: %+v", c)
	}
	if NewClient(nil, "", "t", "").baseURL != "https://slack.com/api" {
		t.Fatalf("default baseURL wrong")
	}
}

func TestFetchMessageText_Success(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations.history" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer xoxb-1" {
			t.Errorf("auth header = %q", got)
		}
		q := r.URL.Query()
		gotQuery = map[string]string{
			"channel": q.Get("channel"), "latest": q.Get("latest"),
			"inclusive": q.Get("inclusive"), "limit": q.Get("limit"),
		}
		_, _ = w.Write([]byte(`{"ok":true,"messages":[{"text":" 明日15時に会議 ","ts":"1718000000.000100"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "xoxb-1", "T1")
	text, err := c.FetchMessageText(context.Background(), "C1", "1718000000.000100")
	if err != nil {
		t.Fatalf("FetchMessageText error: %v", err)
	}
	if text != "明日15時に会議" {
		t.Fatalf("text = %q", text)
	}
	want := map[string]string{"channel": "C1", "latest": "1718000000.000100", "inclusive": "true", "limit": "1"}
	for k, v := range want {
		if gotQuery[k] != v {
			t.Errorf("query %s = %q; want %q", k, gotQuery[k], v)
		}
	}
}

func TestFetchMessageText_NotFoundVariants(t *testing.T) {
	cases := map[string]string{
		"empty list":     `{"ok":true,"messages":[]}`,
		"wrong ts":       `{"ok":true,"messages":[{"text":"x","ts":"999.0"}]}`,
		"blank text":     `{"ok":true,"messages":[{"text":"   ","ts":"1.0"}]}`,
		"api not found":  `{"ok":false,"error":"message_not_found"}`,
		"chan not found": `{"ok":false,"error":"channel_not_found"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, payload)
			}))
			defer srv.Close()

			c := NewClient(srv.Client(), srv.URL, "xoxb-1", "")
			_, err := c.FetchMessageText(context.Background(), "C1", "1.0")
			if !errors.Is(err, ErrMessageNotFound) {
				t.Fatalf("expected ErrMessageNotFound, got %v", err)
			}
		})
	}
}

func TestFetchMessageText_OtherAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":false,"error":"not_in_channel"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "xoxb-1", "")
	_, err := c.FetchMessageText(context.Background(), "C1", "1.0")
	if err == nil || errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected plain API error, got %v", err)
	}
}

func TestReactions_AddRemove(t *testing.T) {
	var gotPath string
	var gotReq reactionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotReq)
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "xoxb-1", "")
	if err := c.AddReaction(context.Background(), "C1", "1.0", "hourglass_flowing_sand"); err != nil {
		t.Fatalf("AddReaction error: %v", err)
	}
	if gotPath != "/reactions.add" || gotReq.Channel != "C1" || gotReq.Timestamp != "1.0" || gotReq.Name != "hourglass_flowing_sand" {
		t.Fatalf("unexpected call: %s %+v", gotPath, gotReq)
	}

	if err := c.RemoveReaction(context.Background(), "C1", "1.0", "hourglass_flowing_sand"); err != nil {
		t.Fatalf("RemoveReaction error: %v", err)
	}
	if gotPath != "/reactions.remove" {
		t.Fatalf("path = %q", gotPath)
	}
}

func TestReactions_BenignErrorsIgnored(t *testing.T) {
	responses := map[string]string{
		"/reactions.add":    `{"ok":false,"error":"already_reacted"}`,
		"/reactions.remove": `{"ok":false,"error":"no_reaction"}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, responses[r.URL.Path])
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "xoxb-1", "")
	if err := c.AddReaction(context.Background(), "C1", "1.0", "calendar"); err != nil {
		t.Fatalf("already_reacted should be benign: %v", err)
	}
	if err := c.RemoveReaction(context.Background(), "C1", "1.0", "calendar"); err != nil {
		t.Fatalf("no_reaction should be benign: %v", err)
	}
}

func TestReactions_RealErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":false,"error":"invalid_name"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "xoxb-1", "")
	if err := c.AddReaction(context.Background(), "C1", "1.0", "nope"); err == nil {
		t.Fatalf("expected error for invalid_name")
	}
}

func TestPostMessage(t *testing.T) {
	var gotReq postMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotReq)
		_, _ = io.WriteString(w, `{"ok":true,"ts":"2.0"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "xoxb-1", "")
	if err := c.PostMessage(context.Background(), "C1", "hello", "1.0"); err != nil {
		t.Fatalf("PostMessage error: %v", err)
	}
	if gotReq.Channel != "C1" || gotReq.Text != "hello" || gotReq.ThreadTS != "1.0" {
		t.Fatalf("unexpected request: %+v", gotReq)
	}

	if err := c.PostMessage(context.Background(), "C1", "   ", ""); err == nil {
		t.Fatalf("expected error for empty text")
	}
}

func TestClient_RequiresToken(t *testing.T) {
	c := NewClient(nil, "", "", "")
	if err := c.PostMessage(context.Background(), "C1", "x", ""); err == nil {
		t.Fatalf("expected error without token")
	}
}

func TestClient_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "xoxb-1", "")
	if err := c.PostMessage(context.Background(), "C1", "x", ""); err == nil {
		t.Fatalf("expected error for http 502")
	}
}

func TestPermalink(t *testing.T) {
	c := NewClient(nil, "", "t", "myteam")
	got := c.Permalink("C123", "1718000000.000100")
	want := "https://myteam.slack.com/archives/C123/p1718000000000100"
	if got != want {
		t.Fatalf("Permalink = %q; want %q", got, want)
	}

	c2 := NewClient(nil, "", "t", "")
	if got := c2.Permalink("C1", "1.2"); got != "https://app.slack.com/archives/C1/p12" {
		t.Fatalf("Permalink fallback = %q", got)
	}
}
