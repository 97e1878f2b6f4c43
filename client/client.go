package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"quizzy-backend/models"
	"quizzy-backend/service"
)

// ErrIncomplete means the stream closed before a terminal frame arrived
var ErrIncomplete = errors.New("chat stream ended without a terminal frame")

// APIError is a structured error payload returned by the server
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

// Client calls the assistant routes under baseURL (e.g. http://localhost:4000/api/v1/ai)
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client authenticating with token
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, httpClient: httpClient}
}

// Answer is the outcome of a completed chat
type Answer struct {
	Text    string
	Sources []models.SourceCitation
}

// Chat streams an answer, calling onDelta for every incremental piece.
// A stream cut before the terminal frame returns the partial text with ErrIncomplete.
func (c *Client) Chat(ctx context.Context, message string, history []models.ChatTurn, onDelta func(string)) (*Answer, error) {
	body := map[string]any{"message": message, "conversationHistory": history}
	resp, err := c.do(ctx, http.MethodPost, "/chat", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var partial strings.Builder
	dec := NewDecoder(resp.Body)
	for {
		frame, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return &Answer{Text: partial.String()}, ErrIncomplete
		}
		if err != nil {
			return &Answer{Text: partial.String()}, fmt.Errorf("%w: %v", ErrIncomplete, err)
		}

		if frame.Done {
			text := frame.FullResponse
			if text == "" {
				text = partial.String()
			}
			return &Answer{Text: text, Sources: frame.Sources}, nil
		}
		partial.WriteString(frame.Content)
		if onDelta != nil {
			onDelta(frame.Content)
		}
	}
}

// Status fetches the index status
func (c *Client) Status(ctx context.Context) (*service.Status, error) {
	resp, err := c.do(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Data service.Status `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &out.Data, nil
}

// Reinitialize asks the server to rebuild its index and returns the document count
func (c *Client) Reinitialize(ctx context.Context) (int, error) {
	resp, err := c.do(ctx, http.MethodPost, "/reinitialize", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var out struct {
		DocumentsCount int `json:"documentsCount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode reinitialize response: %w", err)
	}
	return out.DocumentsCount, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var payload struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Error == nil {
		return &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode), Message: strings.TrimSpace(string(raw))}
	}
	payload.Error.Status = resp.StatusCode
	return payload.Error
}
