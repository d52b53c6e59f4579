package hooks

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	defaultServerURL = "http://127.0.0.1:37778"
	httpTimeout      = 5 * time.Second
)

// Client talks to the tiermem server.
type Client struct {
	http      *http.Client
	serverURL string
}

// NewClient creates a new hook HTTP client. The TIERMEM_URL env var wins
// over serverURL; both empty means http://127.0.0.1:37778. A non-positive
// timeout selects the default of five seconds.
func NewClient(serverURL string, timeout time.Duration) *Client {
	if url := os.Getenv("TIERMEM_URL"); url != "" {
		serverURL = url
	}
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	if timeout <= 0 {
		timeout = httpTimeout
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		serverURL: strings.TrimRight(serverURL, "/"),
	}
}

// Post sends a POST request with JSON body. Returns response body.
func (c *Client) Post(path string, body []byte) ([]byte, error) {
	resp, err := c.http.Post(c.serverURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	return readBody("POST", path, resp)
}

// Get sends a GET request. Returns response body.
func (c *Client) Get(path string) ([]byte, error) {
	resp, err := c.http.Get(c.serverURL + path)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	return readBody("GET", path, resp)
}

func readBody(method, path string, resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return data, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, data)
	}
	return data, nil
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy() bool {
	resp, err := c.http.Get(c.serverURL + "/api/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
