// Package controller is the HTTP boundary to the network controller. The
// client implements both sides of the reconciliation: listing live state
// for the diff engine and mutating documents for the apply engine.
package controller

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

	"github.com/rs/zerolog"

	"github.com/openconverge/converge/pkg/apierror"
	"github.com/openconverge/converge/pkg/diff"
	"github.com/openconverge/converge/pkg/state"
)

// Config configures the controller client.
type Config struct {
	// BaseURL is the controller root, e.g. "https://192.168.1.1".
	BaseURL string `json:"baseUrl" yaml:"baseUrl" validate:"required,url"`

	// Site is the controller site name.
	Site string `json:"site,omitempty" yaml:"site,omitempty"`

	// APIKey authenticates every request via the X-API-Key header.
	// Usually a secret reference in the tool config.
	APIKey string `json:"apiKey" yaml:"apiKey"`

	// Timeout bounds one HTTP request.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// CallRecorder observes controller calls. Satisfied by telemetry.Metrics;
// nil disables recording.
type CallRecorder interface {
	RecordControllerCall(method, outcome string, d time.Duration)
}

// Client talks to one controller site.
type Client struct {
	http    *http.Client
	base    *url.URL
	site    string
	apiKey  string
	log     zerolog.Logger
	metrics CallRecorder
}

// envelope is the controller's uniform response body.
type envelope struct {
	Data []map[string]any `json:"data"`
}

// New builds a controller client. metrics may be nil.
func New(cfg Config, log zerolog.Logger, metrics CallRecorder) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse controller URL: %w", err)
	}
	site := cfg.Site
	if site == "" {
		site = "default"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		base:    base,
		site:    site,
		apiKey:  cfg.APIKey,
		log:     log.With().Str("component", "controller").Logger(),
		metrics: metrics,
	}, nil
}

func (c *Client) endpoint(coll state.Collection, id string) string {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/s/" + c.site + "/rest/" + pathFor(coll)
	if id != "" {
		u.Path += "/" + id
	}
	return u.String()
}

// List fetches a collection's live documents. Implements the diff engine's
// fetcher boundary.
func (c *Client) List(ctx context.Context, coll state.Collection) ([]diff.LiveEntity, error) {
	env, err := c.do(ctx, http.MethodGet, c.endpoint(coll, ""), nil, coll, "", "list")
	if err != nil {
		return nil, err
	}

	out := make([]diff.LiveEntity, 0, len(env.Data))
	for _, doc := range env.Data {
		id, _ := doc["_id"].(string)
		name, _ := doc["name"].(string)
		managed, _ := doc[state.ManagedByField].(string)
		out = append(out, diff.LiveEntity{
			ID:      id,
			Name:    name,
			Fields:  doc,
			Managed: managed == state.ManagedByValue,
		})
	}
	return out, nil
}

// Create posts a new document and returns the device-assigned id.
func (c *Client) Create(ctx context.Context, coll state.Collection, fields map[string]any) (string, error) {
	name, _ := fields["name"].(string)
	env, err := c.do(ctx, http.MethodPost, c.endpoint(coll, ""), fields, coll, name, "create")
	if err != nil {
		return "", err
	}
	if len(env.Data) == 0 {
		return "", apierror.Terminal("create response carries no document", nil).
			WithTarget(coll, name, "create")
	}
	id, _ := env.Data[0]["_id"].(string)
	if id == "" {
		return "", apierror.Terminal("create response carries no id", nil).
			WithTarget(coll, name, "create")
	}
	return id, nil
}

// Update patches an existing document.
func (c *Client) Update(ctx context.Context, coll state.Collection, id string, fields map[string]any) error {
	_, err := c.do(ctx, http.MethodPut, c.endpoint(coll, id), fields, coll, id, "update")
	return err
}

// Delete removes a document by id.
func (c *Client) Delete(ctx context.Context, coll state.Collection, id string) error {
	_, err := c.do(ctx, http.MethodDelete, c.endpoint(coll, id), nil, coll, id, "delete")
	return err
}

// Health probes the controller with a cheap authenticated request.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, c.endpoint(state.CollectionNetwork, ""), nil,
		state.CollectionNetwork, "", "health")
	return err
}

func (c *Client) do(
	ctx context.Context,
	method, endpoint string,
	body map[string]any,
	coll state.Collection,
	target, op string,
) (*envelope, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, apierror.Terminal("encode request body", err).WithTarget(coll, target, op)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, apierror.Terminal("build request", err).WithTarget(coll, target, op)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.record(op, "error", time.Since(start))
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		// Connection resets and timeouts are worth retrying.
		return nil, apierror.Transient("controller unreachable", err).WithTarget(coll, target, op)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.record(op, "error", time.Since(start))
		return nil, apierror.Transient("read response", err).WithTarget(coll, target, op)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.record(op, fmt.Sprintf("http_%d", resp.StatusCode), time.Since(start))
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, apierror.FromStatus(resp.StatusCode, msg).WithTarget(coll, target, op)
	}
	c.record(op, "ok", time.Since(start))

	env := &envelope{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, env); err != nil {
			return nil, apierror.Terminal("decode response body", err).WithTarget(coll, target, op)
		}
	}
	return env, nil
}

func (c *Client) record(op, outcome string, d time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordControllerCall(op, outcome, d)
}
