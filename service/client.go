package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coocood/freecache"
	"github.com/geogenius/rda/rda"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	// DefaultTimeoutSecs bounds any single request to the service.
	DefaultTimeoutSecs = 60

	// DefaultMetaCacheMB is the size of the raw metadata cache.
	DefaultMetaCacheMB = 16

	// metadata entries expire after this many seconds
	metaCacheExpire = 3600
)

// Config is the [rda] section of the TOML configuration.
type Config struct {
	// Endpoint serves image metadata and tiles, e.g., https://rda.example.com
	Endpoint string

	// ManagerEndpoint serves graph registration, graph lookup, and the catalog.
	// Defaults to Endpoint.
	ManagerEndpoint string `toml:"manager_endpoint"`

	// UserEndpoint serves credential login.  Defaults to Endpoint.
	UserEndpoint string `toml:"user_endpoint"`

	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`

	// Token is a pre-issued token used instead of access/secret keys.
	Token string

	TimeoutSecs int `toml:"timeout_secs"`
	MetaCacheMB int `toml:"meta_cache_mb"`
}

// ApplyEnv fills credentials from the ACCESS_KEY and SECRET_KEY environment
// variables when they are set.
func (cfg *Config) ApplyEnv() {
	if ak := os.Getenv("ACCESS_KEY"); ak != "" {
		cfg.AccessKey = ak
	}
	if sk := os.Getenv("SECRET_KEY"); sk != "" {
		cfg.SecretKey = sk
	}
}

func (cfg Config) manager() string {
	if cfg.ManagerEndpoint != "" {
		return strings.TrimRight(cfg.ManagerEndpoint, "/")
	}
	return strings.TrimRight(cfg.Endpoint, "/")
}

func (cfg Config) user() string {
	if cfg.UserEndpoint != "" {
		return strings.TrimRight(cfg.UserEndpoint, "/")
	}
	return strings.TrimRight(cfg.Endpoint, "/")
}

// Client talks to the compute service.  It is safe for concurrent use once opened.
type Client struct {
	cfg Config

	mu      sync.RWMutex
	open    bool
	session *Session
	client  *http.Client
	cache   *freecache.Cache
	schema  *jsonschema.Schema
}

// NewClient returns an unopened client.
func NewClient(cfg Config) *Client {
	if cfg.TimeoutSecs <= 0 {
		cfg.TimeoutSecs = DefaultTimeoutSecs
	}
	if cfg.MetaCacheMB <= 0 {
		cfg.MetaCacheMB = DefaultMetaCacheMB
	}
	return &Client{cfg: cfg}
}

// Open prepares the metadata cache and authorization.  If credentials are
// configured, a first token is obtained so bad keys fail here.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return nil
	}
	if c.cfg.Endpoint == "" {
		return fmt.Errorf("no compute service endpoint configured")
	}
	schema, err := jsonschema.CompileString("metadata.json", metadataSchema)
	if err != nil {
		return fmt.Errorf("cannot compile metadata schema: %v", err)
	}
	base := &http.Client{Timeout: time.Duration(c.cfg.TimeoutSecs) * time.Second}
	session, err := NewSession(base, c.cfg)
	if err != nil {
		return err
	}
	if session.HasCredentials() {
		if _, err := session.ValidToken(ctx); err != nil {
			return fmt.Errorf("cannot authorize with %s: %w", c.cfg.user(), err)
		}
	}
	c.schema = schema
	c.session = session
	c.client = &http.Client{
		Timeout:   base.Timeout,
		Transport: session.Transport(nil),
	}
	c.cache = freecache.NewCache(c.cfg.MetaCacheMB * 1024 * 1024)
	c.open = true
	rda.Infof("Opened compute service client for %s\n", c.cfg.Endpoint)
	return nil
}

// Close drops cached metadata and idle connections.  A closed client may be
// opened again.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil
	}
	c.cache.Clear()
	c.client.CloseIdleConnections()
	c.open = false
	return nil
}

func (c *Client) state() (*http.Client, *freecache.Cache, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.open {
		return nil, nil, fmt.Errorf("compute service client is not open")
	}
	return c.client, c.cache, nil
}

// Endpoint returns the base URL serving metadata and tiles.
func (c *Client) Endpoint() string {
	return strings.TrimRight(c.cfg.Endpoint, "/")
}

// Session returns the session authorizing requests, or nil if not open.
func (c *Client) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// errorMessage extracts the "message" field of an error document, falling back
// to the raw body.
func errorMessage(body []byte) string {
	var m struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &m); err == nil && m.Message != "" {
		return m.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// do performs a request and returns the status and body.  Transport errors are
// returned verbatim.
func (c *Client) do(ctx context.Context, method, url string, body io.Reader, contentType string) (int, []byte, error) {
	client, _, err := c.state()
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	timedLog := rda.NewTimeLog()
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	timedLog.Debugf("%s %s returned response %d", method, url, resp.StatusCode)
	return resp.StatusCode, data, nil
}
