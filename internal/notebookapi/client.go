// Package notebookapi reads notes and note sources from the notebook REST
// service. Responses use the {code, msg, data} envelope.
package notebookapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ai-notebook-assistant/internal/pkg/logger"
)

// ErrUnauthorized is returned when the service reports code 401. Callers are
// expected to re-authenticate.
var ErrUnauthorized = errors.New("notebookapi: credential expired or invalid")

// ErrNotFound is returned for a missing note or source.
var ErrNotFound = errors.New("notebookapi: not found")

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// APIError is a non-success envelope other than 401.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("notebookapi: code %d: %s", e.Code, e.Msg)
}

type Note struct {
	ID      int64  `json:"id"`
	UUID    string `json:"uuid"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Type    string `json:"type"`
	Active  bool   `json:"active"`
}

type NoteSource struct {
	ID      int64  `json:"id"`
	UUID    string `json:"uuid"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Type    string `json:"type"`
	URL     string `json:"url"`
	Active  bool   `json:"active"`
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  logger.ILogger
}

func NewClient(baseURL, token string, log logger.ILogger) *Client {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  log,
	}
}

func (c *Client) GetNote(ctx context.Context, id int64) (*Note, error) {
	var n Note
	if err := c.get(ctx, fmt.Sprintf("/v1/note/%d", id), &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (c *Client) GetNoteSource(ctx context.Context, id int64) (*NoteSource, error) {
	var s NoteSource
	if err := c.get(ctx, fmt.Sprintf("/v1/notesource/%d", id), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("NotebookAPI", "Request failed", map[string]interface{}{"path": path, "error": err.Error()})
		return fmt.Errorf("notebookapi request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode envelope (status %d): %w", resp.StatusCode, err)
	}

	switch env.Code {
	case http.StatusOK:
	case http.StatusUnauthorized:
		c.logger.Warn("NotebookAPI", "Credential rejected", map[string]interface{}{"path": path})
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return &APIError{Code: env.Code, Msg: env.Msg}
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return ErrNotFound
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
