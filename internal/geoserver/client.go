package geoserver

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

	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/sigic/georef/internal/config"
)

var (
	ErrUnexpectedStatus  = errors.New("unexpected GeoServer response status")
	ErrMalformedResponse = errors.New("malformed GeoServer feature type")
)

// FeatureType is GeoServer's JSON feature type document. It is kept as a
// generic map so fields this service does not know survive a GET/PUT cycle.
type FeatureType map[string]any

// SetSRS overwrites featureType.srs.
func (ft FeatureType) SetSRS(srs string) error {
	inner, ok := ft["featureType"].(map[string]any)
	if !ok {
		return fmt.Errorf("%w: missing featureType object", ErrMalformedResponse)
	}
	inner["srs"] = srs
	return nil
}

func (ft FeatureType) SRS() string {
	inner, _ := ft["featureType"].(map[string]any)
	srs, _ := inner["srs"].(string)
	return srs
}

// Client talks to the GeoServer REST API of one workspace and datastore.
type Client struct {
	baseURL    string
	workspace  string
	datastore  string
	httpClient *http.Client
	username   string
	password   string
	basicAuth  bool
	logger     *zap.Logger
}

func NewClient(cfg config.GeoServerConfig, logger *zap.Logger) (*Client, error) {
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid GeoServer URL %q: %w", cfg.URL, err)
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		baseURL:   strings.TrimSuffix(cfg.URL, "/") + "/",
		workspace: cfg.Workspace,
		datastore: cfg.Datastore,
		logger:    logger.Named("geoserver"),
	}

	switch cfg.Auth {
	case "bearer":
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		c.httpClient = cc.Client(context.Background())
		c.httpClient.Timeout = timeout
	case "basic", "":
		c.httpClient = &http.Client{Timeout: timeout}
		c.username = cfg.Username
		c.password = cfg.Password
		c.basicAuth = true
	default:
		return nil, fmt.Errorf("unknown GeoServer auth mode %q", cfg.Auth)
	}
	return c, nil
}

func (c *Client) featureTypeURL(layer string) string {
	return c.baseURL + "rest/workspaces/" + url.PathEscape(c.workspace) +
		"/datastores/" + url.PathEscape(c.datastore) +
		"/featuretypes/" + url.PathEscape(layer) + ".json"
}

// GetFeatureType fetches the current feature type of layer.
func (c *Client) GetFeatureType(ctx context.Context, layer string) (FeatureType, error) {
	endpoint := c.featureTypeURL(layer)
	resp, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(http.MethodGet, layer, resp)
	}

	var ft FeatureType
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&ft); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return ft, nil
}

// PutFeatureType replaces the feature type of layer and asks GeoServer to
// recompute the listed bounding boxes.
func (c *Client) PutFeatureType(ctx context.Context, layer string, ft FeatureType, recalculate ...string) error {
	body, err := json.Marshal(ft)
	if err != nil {
		return fmt.Errorf("failed to encode feature type: %w", err)
	}

	endpoint := c.featureTypeURL(layer)
	if len(recalculate) > 0 {
		endpoint += "?recalculate=" + strings.Join(recalculate, ",")
	}

	resp, err := c.do(ctx, http.MethodPut, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return statusError(http.MethodPut, layer, resp)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.basicAuth {
		req.SetBasicAuth(c.username, c.password)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, endpoint, err)
	}
	c.logger.Debug("GeoServer request",
		zap.String("method", method),
		zap.String("url", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))
	return resp, nil
}

func statusError(method, layer string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%w: %s feature type %s returned %d: %s",
		ErrUnexpectedStatus, method, layer, resp.StatusCode, strings.TrimSpace(string(snippet)))
}
