package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client talks to an OpenAI-compatible embeddings endpoint.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	minGap  time.Duration
	lastReq time.Time
}

func NewFromEnv() *Client {
	base := os.Getenv("DINEREC_OPENAI_BASE_URL")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	key := os.Getenv("DINEREC_OPENAI_API_KEY")
	gap := time.Duration(0)
	if ms := os.Getenv("DINEREC_LLM_MIN_INTERVAL_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil && v > 0 {
			gap = time.Duration(v) * time.Millisecond
		}
	}
	return &Client{baseURL: strings.TrimRight(base, "/"), apiKey: key, http: &http.Client{Timeout: 60 * time.Second}, minGap: gap}
}

// Embeddings implements llm.Embedder using the /embeddings API.
func (c *Client) Embeddings(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if model == "" {
		model = os.Getenv("DINEREC_EMBEDDING_MODEL")
		if model == "" {
			model = "text-embedding-3-small"
		}
	}
	reqBody := map[string]any{
		"model": model,
		"input": inputs,
	}
	b, _ := json.Marshal(reqBody)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embeddings http %d: %s", resp.StatusCode, string(data))
	}
	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	res := make([][]float32, 0, len(out.Data))
	for _, d := range out.Data {
		res = append(res, d.Embedding)
	}
	return res, nil
}

// do performs the HTTP request with optional min interval and retries on 429/5xx.
// Each retry gets a fresh body: the first attempt consumed the original reader.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.minGap > 0 {
		since := time.Since(c.lastReq)
		if since < c.minGap {
			time.Sleep(c.minGap - since)
		}
	}
	backoff := 200 * time.Millisecond
	for attempt := 0; ; attempt++ {
		r := req
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			r = req.Clone(req.Context())
			r.Body = body
		}
		resp, err := c.http.Do(r)
		c.lastReq = time.Now()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != 429 && resp.StatusCode/100 != 5 {
			return resp, nil
		}
		if attempt >= 3 {
			return resp, nil
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		time.Sleep(backoff + time.Duration(attempt)*100*time.Millisecond)
	}
}
