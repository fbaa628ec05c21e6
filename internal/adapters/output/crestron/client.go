package crestron

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"crestron-home-bridge/internal/domain/model"
	"crestron-home-bridge/internal/ports"
	"github.com/sirupsen/logrus"
)

const (
	APITimeout          = 30 * time.Second
	AuthRefreshInterval = 540 * time.Second

	headerAuthToken = "Crestron-RestAPI-AuthToken"
	headerAuthKey   = "Crestron-RestAPI-AuthKey"
)

type Client struct {
	mu          sync.Mutex
	host        string
	token       string
	authKey     string
	authExpires time.Time

	// serialises logins so concurrent callers share one auth key
	authMu sync.Mutex

	sessionMu  sync.Mutex
	httpClient *http.Client

	timeout time.Duration
	now     func() time.Time
	log     logrus.FieldLogger
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) { c.log = log }
}

func NewClient(host, token string, opts ...Option) *Client {
	c := &Client{
		host:    host,
		token:   token,
		timeout: APITimeout,
		now:     time.Now,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Factory adapts NewClient to ports.CrestronFactory.
func Factory(log logrus.FieldLogger) ports.CrestronFactory {
	return func(host, token string) ports.CrestronPort {
		return NewClient(host, token, WithLogger(log))
	}
}

func (c *Client) BaseURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return "https://" + c.host + "/cws/api"
}

// Configure swaps the credentials and forces a new login.
func (c *Client) Configure(host, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.host == host && c.token == token {
		return
	}
	c.host = host
	c.token = token
	c.authKey = ""
	c.authExpires = time.Time{}
}

// session lazily creates the pooled HTTP client. The hub serves a
// self-signed certificate, so verification is disabled.
func (c *Client) session() *http.Client {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if c.httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		c.httpClient = &http.Client{Transport: transport}
	}
	return c.httpClient
}

// Close releases pooled connections. The client can be reused afterwards;
// a new pool is created on the next request.
func (c *Client) Close() error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
		c.httpClient = nil
	}
	return nil
}

func (c *Client) currentKey() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	valid := c.authKey != "" && c.now().Before(c.authExpires)
	return c.authKey, valid
}

func (c *Client) clearKey() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authKey = ""
	c.authExpires = time.Time{}
}

// Authenticate logs in unless the current auth key is still valid.
func (c *Client) Authenticate(ctx context.Context) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	if _, valid := c.currentKey(); valid {
		return nil
	}

	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL()+"/login", nil)
	if err != nil {
		return &model.ConnectionError{Op: "login", Err: err}
	}
	req.Header.Set(headerAuthToken, token)

	resp, err := c.session().Do(req)
	if err != nil {
		c.log.Errorf("Connection error during authentication: %v", err)
		return connectionError("login", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Errorf("Authentication failed: %d", resp.StatusCode)
		return &model.AuthError{Status: resp.StatusCode}
	}

	var body struct {
		AuthKey string `json:"authkey"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return connectionError("login", err)
	}

	c.mu.Lock()
	c.authKey = body.AuthKey
	c.authExpires = c.now().Add(AuthRefreshInterval)
	c.mu.Unlock()
	c.log.Debug("Authentication successful")
	return nil
}

func (c *Client) GetLights(ctx context.Context) ([]model.Light, error) {
	var out struct {
		Lights []model.Light `json:"lights"`
	}
	if err := c.do(ctx, http.MethodGet, "/lights", nil, &out); err != nil {
		return nil, err
	}
	return out.Lights, nil
}

func (c *Client) GetSensors(ctx context.Context) ([]model.Sensor, error) {
	var out struct {
		Sensors []model.Sensor `json:"sensors"`
	}
	if err := c.do(ctx, http.MethodGet, "/sensors", nil, &out); err != nil {
		return nil, err
	}
	return out.Sensors, nil
}

func (c *Client) GetScenes(ctx context.Context) ([]model.Scene, error) {
	var out struct {
		Scenes []model.Scene `json:"scenes"`
	}
	if err := c.do(ctx, http.MethodGet, "/scenes", nil, &out); err != nil {
		return nil, err
	}
	return out.Scenes, nil
}

func (c *Client) SetLightState(ctx context.Context, lights []model.LightState) error {
	payload := map[string]any{"lights": lights}
	return c.do(ctx, http.MethodPost, "/lights/SetState", payload, nil)
}

func (c *Client) RecallScene(ctx context.Context, sceneID int) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/scenes/recall/%d", sceneID), nil, nil)
}

func (c *Client) SetMediaRoomSource(ctx context.Context, mediaRoomID, sourceID int) error {
	path := fmt.Sprintf("/mediarooms/%d/selectsource/%d", mediaRoomID, sourceID)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// do runs an authenticated request. A 401 on the first attempt drops the
// auth key and retries exactly once.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	for attempt := 0; attempt < 2; attempt++ {
		if err := c.Authenticate(ctx); err != nil {
			return err
		}
		key, _ := c.currentKey()

		status, err := c.send(ctx, method, path, key, body, out)
		if err != nil {
			c.log.Errorf("Connection error during API request: %s %s - %v", method, path, err)
			return connectionError(method+" "+path, err)
		}
		switch {
		case status == http.StatusOK:
			return nil
		case status == http.StatusUnauthorized && attempt == 0:
			c.log.Warn("Auth token expired, refreshing and retrying")
			c.clearKey()
			continue
		default:
			c.log.Errorf("API request failed: %s %s - %d", method, path, status)
			return &model.APIError{Method: method, Path: path, Status: status}
		}
	}
	// unreachable: the second attempt always returns
	return &model.APIError{Method: method, Path: path, Status: http.StatusUnauthorized}
}

// send performs one request and decodes a 200 body into out.
func (c *Client) send(ctx context.Context, method, path, key string, body []byte, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL()+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set(headerAuthKey, key)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.session().Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return 0, err
	}
	return resp.StatusCode, nil
}

func connectionError(op string, err error) error {
	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
	return &model.ConnectionError{Op: op, Timeout: timeout, Err: err}
}
