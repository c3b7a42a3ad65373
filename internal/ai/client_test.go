package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(nil, "  https://example.com/v1/ ", " key ", " model ")
	if c.http == nil {
		t.Fatalf("expected default http client")
	}
	if c.baseURL != "https://example.com/v1" {
		t.Fatalf("baseURL = %q", c.baseURL)
	}
	if c.apiKey != "key" || c.model != "model" {
		t.Fatalf("trim failed: %+v", c)
	}

	c2 := NewClient(nil, "", "k", "m")
	if c2.baseURL != "https://generativelanguage.googleapis.com/v1beta" {
		t.Fatalf("default baseURL = %q", c2.baseURL)
	}
}

func TestGenerateText_Success(t *testing.T) {
	var gotPath, gotKey string
	var gotReq geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotReq)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"hello "},{"text":"world"}]}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "k1", "test-model")
	got, err := c.GenerateText(context.Background(), GenerateRequest{
		System:          "sys",
		Prompt:          "p",
		Temperature:     0.2,
		TopP:            0.8,
		MaxOutputTokens: 64,
		ResponseSchema:  map[string]any{"type": "ARRAY"},
	})
	if err != nil {
		t.Fatalf("GenerateText error: %v", err)
	}
	if got != "hello world" {
		t.Fatalf("text = %q", got)
	}
	if gotPath != "/models/test-model:generateContent" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotKey != "k1" {
		t.Fatalf("api key header = %q", gotKey)
	}
	if gotReq.SystemInstruction == nil || gotReq.SystemInstruction.Parts[0].Text != "sys" {
		t.Fatalf("system instruction missing: %+v", gotReq)
	}
	gc := gotReq.GenerationConfig
	if gc == nil || gc.Temperature != 0.2 || gc.TopP != 0.8 || gc.MaxOutputTokens != 64 {
		t.Fatalf("generation config: %+v", gc)
	}
	if gc.ResponseMIMEType != "application/json" || gc.ResponseSchema == nil {
		t.Fatalf("schema not wired: %+v", gc)
	}
}

func TestGenerateText_NoSchemaOmitsMIMEType(t *testing.T) {
	var gotReq geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotReq)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "k", "m")
	if _, err := c.GenerateText(context.Background(), GenerateRequest{Prompt: "p"}); err != nil {
		t.Fatalf("GenerateText error: %v", err)
	}
	if gotReq.GenerationConfig.ResponseMIMEType != "" {
		t.Fatalf("expected no responseMimeType for free text, got %q", gotReq.GenerationConfig.ResponseMIMEType)
	}
}

func TestGenerateText_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":503,"status":"UNAVAILABLE","message":"overloaded"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "k", "m")
	_, err := c.GenerateText(context.Background(), GenerateRequest{Prompt: "p"})
	if err == nil {
		t.Fatalf("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T (%v)", err, err)
	}
	if apiErr.StatusCode != http.StatusServiceUnavailable || apiErr.Status != "UNAVAILABLE" || apiErr.Message != "overloaded" {
		t.Fatalf("unexpected APIError: %+v", apiErr)
	}
	if !strings.Contains(apiErr.Error(), "UNAVAILABLE") {
		t.Fatalf("Error() = %q", apiErr.Error())
	}
	if !IsRetryable(err) || IsFatal(err) || !IsOverloaded(err) {
		t.Fatalf("classification wrong for 503")
	}
}

func TestGenerateText_APIError_NonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`upstream says no`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "k", "m")
	_, err := c.GenerateText(context.Background(), GenerateRequest{Prompt: "p"})
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 APIError, got %v", err)
	}
}

func TestGenerateText_InputValidation(t *testing.T) {
	c := NewClient(nil, "", "", "m")
	if _, err := c.GenerateText(context.Background(), GenerateRequest{Prompt: "p"}); !IsFatal(err) {
		t.Fatalf("expected fatal error without api key, got %v", err)
	}

	c2 := NewClient(nil, "", "k", "m")
	if _, err := c2.GenerateText(context.Background(), GenerateRequest{Prompt: "  "}); err == nil {
		t.Fatalf("expected error for empty prompt")
	}
}

func TestGenerateText_EmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "k", "m")
	if _, err := c.GenerateText(context.Background(), GenerateRequest{Prompt: "p"}); err == nil {
		t.Fatalf("expected error for empty candidates")
	}
}
