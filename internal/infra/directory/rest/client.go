// Package rest implements the directory service contract over its HTTP
// API. All calls share one rate limiter so the engine's fan-out never
// exceeds the remote quota, and HTTP failures are mapped onto the
// directory error taxonomy the retry layer classifies.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/devsweep/devsweep/internal/domain/directory"
	"github.com/devsweep/devsweep/pkg/common"
)

var _ directory.Client = (*Client)(nil)

// Config holds the connection parameters for the directory API.
type Config struct {
	// BaseURL is the API root, e.g. https://directory.example.com/v1.
	BaseURL string

	// Token is the bearer token attached to every request.
	Token string

	// RequestsPerSecond and Burst parameterize the shared rate limiter.
	RequestsPerSecond float64
	Burst             int
}

// Client is the HTTP implementation of the directory contract.
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	rateLimiter *common.RateLimiter
	tracer      trace.Tracer
}

// NewClient creates a directory client for the given API endpoint.
func NewClient(cfg Config, tracer trace.Tracer) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		token:       cfg.Token,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		rateLimiter: common.NewRateLimiter(rps, burst),
		tracer:      tracer,
	}
}

type accountResponse struct {
	ID        string `json:"id"`
	Email     string `json:"primaryEmail"`
	Suspended bool   `json:"suspended"`
	OrgUnit   string `json:"orgUnitPath"`
}

type deviceResponse struct {
	ID       string    `json:"deviceId"`
	Model    string    `json:"model"`
	Status   string    `json:"status"`
	LastSync time.Time `json:"lastSync"`
}

type devicePageResponse struct {
	Devices       []deviceResponse `json:"mobiledevices"`
	NextPageToken string           `json:"nextPageToken"`
}

// GetAccountState returns the directory state of the account identified by
// email.
func (c *Client) GetAccountState(ctx context.Context, email string) (directory.AccountState, error) {
	ctx, span := c.tracer.Start(ctx, "directory_rest.get_account_state",
		trace.WithAttributes(attribute.String("email", email)))
	defer span.End()

	var body accountResponse
	path := "/accounts/" + url.PathEscape(email)
	if err := c.do(ctx, http.MethodGet, path, &body); err != nil {
		span.RecordError(err)
		return directory.AccountState{}, err
	}

	return directory.AccountState{
		ID:        body.ID,
		Email:     body.Email,
		Suspended: body.Suspended,
		OrgUnit:   body.OrgUnit,
	}, nil
}

// ListDevices returns one page of the account's mobile-device
// registrations. Callers pass the previous page's NextPageToken to
// continue and must drain every page.
func (c *Client) ListDevices(ctx context.Context, email string, pageToken string) (directory.DevicePage, error) {
	ctx, span := c.tracer.Start(ctx, "directory_rest.list_devices",
		trace.WithAttributes(
			attribute.String("email", email),
			attribute.Bool("has_page_token", pageToken != ""),
		))
	defer span.End()

	path := "/accounts/" + url.PathEscape(email) + "/devices"
	if pageToken != "" {
		path += "?pageToken=" + url.QueryEscape(pageToken)
	}

	var body devicePageResponse
	if err := c.do(ctx, http.MethodGet, path, &body); err != nil {
		span.RecordError(err)
		return directory.DevicePage{}, err
	}

	devices := make([]directory.Device, 0, len(body.Devices))
	for _, d := range body.Devices {
		devices = append(devices, directory.Device{
			ID:       d.ID,
			Model:    d.Model,
			Status:   d.Status,
			LastSync: d.LastSync,
		})
	}
	span.SetAttributes(attribute.Int("device_count", len(devices)))
	return directory.DevicePage{Devices: devices, NextPageToken: body.NextPageToken}, nil
}

// RemoveDevice revokes a device registration by its device ID.
func (c *Client) RemoveDevice(ctx context.Context, deviceID string) error {
	ctx, span := c.tracer.Start(ctx, "directory_rest.remove_device",
		trace.WithAttributes(attribute.String("device_id", deviceID)))
	defer span.End()

	if err := c.do(ctx, http.MethodDelete, "/devices/"+url.PathEscape(deviceID), nil); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// do executes one rate-limited request and decodes a JSON response into
// out when it is non-nil.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network-level failures are transient by classification.
		return directory.NewTransientError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// statusError maps an HTTP failure status onto the directory error
// taxonomy.
func (c *Client) statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := fmt.Sprintf("%d %s: %s", resp.StatusCode, http.StatusText(resp.StatusCode), string(data))

	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		return directory.NewNotFoundError(resp.Request.URL.Path)
	case http.StatusTooManyRequests:
		return directory.NewRateLimitError(detail)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return directory.NewTransientError(detail)
	case http.StatusInternalServerError:
		return directory.NewInternalError(detail)
	default:
		return directory.NewInvalidRequestError(detail)
	}
}
