// Package fleet talks to the fleet service that owns car and driver availability.
package fleet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rentalcore/internal/config"
	"rentalcore/internal/domain"
)

var (
	_ domain.FleetReleaser  = (*Client)(nil)
	_ domain.DriverReleaser = (*Client)(nil)
)

// StatusError is returned for any non-2xx answer.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("fleet: http %d", e.StatusCode)
	}
	return fmt.Sprintf("fleet: http %d: %s", e.StatusCode, e.Body)
}

// Client releases cars and drivers once a rental is settled.
type Client struct {
	baseURL    string
	apiKey     string
	apiExtra   string
	httpClient *http.Client
}

type releaseDriverRequest struct {
	IncrementCompletedTrips bool `json:"increment_completed_trips"`
}

func NewClient(cfg config.FleetConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		apiExtra:   cfg.APIExtra,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ReleaseCar marks the car available again.
func (c *Client) ReleaseCar(ctx context.Context, carID int64) error {
	if carID == 0 {
		return errors.New("fleet: car id is required")
	}
	endpoint := fmt.Sprintf("%s/api/v1/cars/%d/release", c.baseURL, carID)
	return c.doPost(ctx, endpoint, nil)
}

// ReleaseDriver frees the driver and bumps their completed trip counter.
func (c *Client) ReleaseDriver(ctx context.Context, driverID int64) error {
	if driverID == 0 {
		return errors.New("fleet: driver id is required")
	}
	endpoint := fmt.Sprintf("%s/api/v1/drivers/%d/release", c.baseURL, driverID)
	return c.doPost(ctx, endpoint, releaseDriverRequest{IncrementCompletedTrips: true})
}

func (c *Client) doPost(ctx context.Context, endpoint string, body any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.addHeaders(req)
	return c.do(req)
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fleet: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) addHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if c.apiExtra != "" {
		req.Header.Set("x-api-extra", c.apiExtra)
	}
}
