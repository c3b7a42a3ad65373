// Package slack implements the small slice of the Slack Web API this service
// needs: reading a single message, managing reactions, and posting threaded
// replies. Responses use Slack's ok/error envelope; failures surface the
// error code in the returned error.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrMessageNotFound indicates that the referenced message no longer exists
// or is not visible to the bot.
var ErrMessageNotFound = errors.New("slack message not found")

// Client is a minimal Slack Web API client bound to one bot token.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	teamID  string
}

// NewClient constructs a Slack client. A nil httpClient gets a 30s-timeout
// default; an empty baseURL falls back to the public API endpoint.
func NewClient(httpClient *http.Client, baseURL, token, teamID string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimSpace(strings.TrimRight(baseURL, "/"))
	if baseURL == "" {
		baseURL = "https://slack.com/api"
	}
	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		token:   strings.TrimSpace(token),
		teamID:  strings.TrimSpace(teamID),
	}
}

type envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type historyResponse struct {
	envelope
	Messages []struct {
		Text string `json:"text"`
		TS   string `json:"ts"`
	} `json:"messages"`
}

// FetchMessageText returns the text of the message at ts in channel, using a
// single-item inclusive history read. ErrMessageNotFound is returned when the
// message is gone or has no text.
func (c *Client) FetchMessageText(ctx context.Context, channelID, ts string) (string, error) {
	params := url.Values{
		"channel":   {channelID},
		"latest":    {ts},
		"inclusive": {"true"},
		"limit":     {"1"},
	}
	body, err := c.getForm(ctx, "/conversations.history", params)
	if err != nil {
		return "", err
	}
	var out historyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if !out.OK {
		return "", apiFailure("conversations.history", out.Error)
	}
	if len(out.Messages) == 0 || out.Messages[0].TS != ts {
		return "", ErrMessageNotFound
	}
	text := strings.TrimSpace(out.Messages[0].Text)
	if text == "" {
		return "", ErrMessageNotFound
	}
	return text, nil
}

type reactionRequest struct {
	Channel   string `json:"channel"`
	Timestamp string `json:"timestamp"`
	Name      string `json:"name"`
}

// AddReaction adds the named emoji to a message. "already_reacted" is
// treated as success.
func (c *Client) AddReaction(ctx context.Context, channelID, ts, name string) error {
	return c.reactionCall(ctx, "/reactions.add", channelID, ts, name, "already_reacted")
}

// RemoveReaction removes the named emoji from a message. "no_reaction" is
// treated as success.
func (c *Client) RemoveReaction(ctx context.Context, channelID, ts, name string) error {
	return c.reactionCall(ctx, "/reactions.remove", channelID, ts, name, "no_reaction")
}

func (c *Client) reactionCall(ctx context.Context, path, channelID, ts, name, benign string) error {
	body, err := c.postJSON(ctx, path, reactionRequest{Channel: channelID, Timestamp: ts, Name: name})
	if err != nil {
		return err
	}
	var out envelope
	if err := json.Unmarshal(body, &out); err != nil {
		return err
	}
	if !out.OK && out.Error != benign {
		return apiFailure(strings.TrimPrefix(path, "/"), out.Error)
	}
	return nil
}

type postMessageRequest struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

// PostMessage posts text to a channel; a non-empty threadTS makes it a
// threaded reply.
func (c *Client) PostMessage(ctx context.Context, channelID, text, threadTS string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("text is required")
	}
	body, err := c.postJSON(ctx, "/chat.postMessage", postMessageRequest{
		Channel:  channelID,
		Text:     text,
		ThreadTS: threadTS,
	})
	if err != nil {
		return err
	}
	var out envelope
	if err := json.Unmarshal(body, &out); err != nil {
		return err
	}
	if !out.OK {
		return apiFailure("chat.postMessage", out.Error)
	}
	return nil
}

// Permalink builds the archive URL for a message without an API round trip.
// The timestamp keeps its full precision with the dot removed
// ("1718000000.000100" becomes "p1718000000000100").
func (c *Client) Permalink(channelID, ts string) string {
	host := "app.slack.com"
	if c.teamID != "" {
		host = c.teamID + ".slack.com"
	}
	return fmt.Sprintf("https://%s/archives/%s/p%s", host, channelID, strings.ReplaceAll(ts, ".", ""))
}

func apiFailure(method, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		code = "unknown_error"
	}
	if code == "message_not_found" || code == "channel_not_found" {
		return fmt.Errorf("slack %s: %s: %w", method, code, ErrMessageNotFound)
	}
	return fmt.Errorf("slack %s failed: %s", method, code)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) getForm(ctx context.Context, path string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if c == nil || c.http == nil {
		return nil, fmt.Errorf("slack client is not initialized")
	}
	if c.token == "" {
		return nil, fmt.Errorf("slack token is required")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn().Int("status", resp.StatusCode).Str("path", req.URL.Path).Msg("slack api non-2xx")
		return nil, fmt.Errorf("slack %s http %d", req.URL.Path, resp.StatusCode)
	}
	return body, nil
}
