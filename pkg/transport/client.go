// Package transport implements the HTTP client the edge agent uses to talk
// to the golfsync cloud API.
package transport

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

	apperrors "golfsync/internal/errors"
	"golfsync/internal/models"

	"github.com/sirupsen/logrus"
)

// Client is the edge-side view of the cloud sync API.
type Client interface {
	PushRecords(ctx context.Context, records []models.SyncRecord) ([]models.ApplyResult, error)
	RegisterDevice(ctx context.Context, device models.DeviceRecord) error
	FetchEntities(ctx context.Context, deviceID string, entityType models.EntityType, since *time.Time) ([]models.PendingEntity, error)
	AckEntities(ctx context.Context, deviceID string, entityType models.EntityType, entityIDs []string) error
}

// SyncRequest is the body of POST /api/v1/sync.
type SyncRequest struct {
	Records []models.SyncRecord `json:"records"`
}

// SyncResponse is the body returned by POST /api/v1/sync.
type SyncResponse struct {
	Results []models.ApplyResult `json:"results"`
}

// SyncLogRequest is the body of POST /api/v1/devices/{deviceId}/sync-log.
type SyncLogRequest struct {
	EntityType models.EntityType `json:"entity_type"`
	EntityIDs  []string          `json:"entity_ids"`
	Direction  string            `json:"direction"`
}

// EntitiesResponse is the body returned by GET /api/v1/devices/{deviceId}/entities.
type EntitiesResponse struct {
	Entities []models.PendingEntity `json:"entities"`
}

type HTTPClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	logger    *logrus.Logger
}

func NewClient(baseURL, authToken string, httpClient *http.Client, logger *logrus.Logger) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &HTTPClient{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		authToken: authToken,
		client:    httpClient,
		logger:    logger,
	}
}

// PushRecords sends a batch of sync records to the cloud apply endpoint.
// Failures are classified so the caller can decide between retry and
// terminal abandonment.
func (c *HTTPClient) PushRecords(ctx context.Context, records []models.SyncRecord) ([]models.ApplyResult, error) {
	var resp SyncResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/sync", SyncRequest{Records: records}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (c *HTTPClient) RegisterDevice(ctx context.Context, device models.DeviceRecord) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/devices/register", device, nil)
}

// FetchEntities returns entities the cloud has that this device has not yet
// synced down. When since is non-nil only entities updated after it are
// returned.
func (c *HTTPClient) FetchEntities(ctx context.Context, deviceID string, entityType models.EntityType, since *time.Time) ([]models.PendingEntity, error) {
	path := fmt.Sprintf("/api/v1/devices/%s/entities?entity_type=%s", deviceID, entityType)
	if since != nil {
		path += "&since=" + since.UTC().Format(time.RFC3339Nano)
	}

	var resp EntitiesResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entities, nil
}

// AckEntities records that this device has received the given entities so
// they drop out of future FetchEntities results.
func (c *HTTPClient) AckEntities(ctx context.Context, deviceID string, entityType models.EntityType, entityIDs []string) error {
	body := SyncLogRequest{
		EntityType: entityType,
		EntityIDs:  entityIDs,
		Direction:  string(models.DirectionFromCloud),
	}
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/v1/devices/%s/sync-log", deviceID), body, nil)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperrors.NewTimeoutError(method+" "+path, c.client.Timeout.String())
		}
		// Connection refused, DNS failure. Worth retrying.
		return apperrors.NewCloudAPIError(method+" "+path, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.WithFields(logrus.Fields{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
		}).Warn("Cloud API request failed")
		return apperrors.NewCloudAPIError(method+" "+path, resp.StatusCode,
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody)))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
