// Package lang wraps the translate and phonetics helper endpoints. Both are
// stateless call-and-return JSON APIs; results are cached through an optional
// key-value store since the same phrases recur constantly during practice.
package lang

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// KV is the cache surface. A nil KV disables caching.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
}

// Client calls the helper endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      KV
}

func NewClient(baseURL string, httpClient *http.Client, cache KV) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, cache: cache}
}

type translateRequest struct {
	Text string `json:"text"`
	From string `json:"from"`
	To   string `json:"to"`
}

type translateResponse struct {
	Translation string `json:"translation"`
}

// Translate returns text translated between the given languages.
func (c *Client) Translate(ctx context.Context, text, from, to string) (string, error) {
	key := cacheKey("translate", from, to, text)
	if cached, ok := c.cached(ctx, key); ok {
		return cached, nil
	}

	var resp translateResponse
	err := c.post(ctx, "/translate", translateRequest{Text: text, From: from, To: to}, &resp)
	if err != nil {
		return "", err
	}
	c.store(ctx, key, resp.Translation)
	return resp.Translation, nil
}

type phoneticsRequest struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"target_language"`
	NativeLanguage string `json:"native_language"`
}

type phoneticsResponse struct {
	Phonetics string `json:"phonetics"`
}

// Phonetics returns a pronunciation guide for text in the target language,
// written for speakers of the native language.
func (c *Client) Phonetics(ctx context.Context, text, targetLang, nativeLang string) (string, error) {
	key := cacheKey("phonetics", targetLang, nativeLang, text)
	if cached, ok := c.cached(ctx, key); ok {
		return cached, nil
	}

	var resp phoneticsResponse
	err := c.post(ctx, "/phonetics", phoneticsRequest{
		Text:           text,
		TargetLanguage: targetLang,
		NativeLanguage: nativeLang,
	}, &resp)
	if err != nil {
		return "", err
	}
	c.store(ctx, key, resp.Phonetics)
	return resp.Phonetics, nil
}

func (c *Client) cached(ctx context.Context, key string) (string, bool) {
	if c.cache == nil {
		return "", false
	}
	v, ok, err := c.cache.Get(ctx, key)
	if err != nil || !ok {
		return "", false
	}
	return v, true
}

func (c *Client) store(ctx context.Context, key, value string) {
	if c.cache == nil || value == "" {
		return
	}
	// Cache misses are recoverable; failed puts only cost a future call.
	_ = c.cache.Put(ctx, key, value)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func cacheKey(parts ...string) string {
	return strings.Join(parts, "\x00")
}
