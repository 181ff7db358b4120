package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/parkops/gatebridge/internal/constants"
	"github.com/parkops/gatebridge/internal/models"
)

// Alternate ingestion paths tried after the primary endpoint is
// exhausted. Older server deployments expose different routes.
var defaultAltPaths = []string{"/api/vehicle/add", "/api/vehicles", "/parkir/add"}

// RESTConfig holds the secondary HTTP channel settings.
type RESTConfig struct {
	BaseURL     string        `yaml:"base_url"`
	VehiclePath string        `yaml:"vehicle_path"`
	HealthPath  string        `yaml:"health_path"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RESTClient posts vehicle events over HTTP when the realtime channel
// is unavailable.
type RESTClient struct {
	cfg      RESTConfig
	altPaths []string
	http     *http.Client
	logger   zerolog.Logger
}

// NewRESTClient builds the secondary channel client.
func NewRESTClient(cfg RESTConfig, logger zerolog.Logger) *RESTClient {
	if cfg.VehiclePath == "" {
		cfg.VehiclePath = "/api/vehicle/add"
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/api/test-connection"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.DefaultRequestTimeout
	}
	return &RESTClient{
		cfg:      cfg,
		altPaths: defaultAltPaths,
		http:     &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}
}

// PostJSON sends the vehicle payload as a JSON body to the primary path.
func (c *RESTClient) PostJSON(ctx context.Context, payload models.VehiclePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return models.NewDeliveryError(models.FailureMalformed, models.TargetSecondaryChannel, err)
	}
	return c.do(ctx, c.cfg.VehiclePath, "application/json", bytes.NewReader(body))
}

// PostForm sends the vehicle payload as multipart form fields, attaching
// the snapshot image when one exists. Some server builds reject JSON
// bodies but accept the form encoding.
func (c *RESTClient) PostForm(ctx context.Context, payload models.VehiclePayload, attachmentPath string) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"vehicleId":   payload.VehicleID,
		"ticketId":    payload.TicketID,
		"plateNumber": payload.PlateNumber,
		"vehicleType": payload.VehicleType,
		"timestamp":   payload.Timestamp.Format(time.RFC3339),
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return models.NewDeliveryError(models.FailureMalformed, models.TargetSecondaryChannel, err)
		}
	}

	if attachmentPath != "" {
		if err := attachFile(w, attachmentPath); err != nil {
			c.logger.Warn().Err(err).Str("path", attachmentPath).Msg("Skipping unreadable snapshot attachment")
		}
	}

	if err := w.Close(); err != nil {
		return models.NewDeliveryError(models.FailureMalformed, models.TargetSecondaryChannel, err)
	}

	return c.do(ctx, c.cfg.VehiclePath, w.FormDataContentType(), &buf)
}

// PostAlternate walks the alternate ingestion paths with the JSON body,
// returning nil on the first success.
func (c *RESTClient) PostAlternate(ctx context.Context, payload models.VehiclePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return models.NewDeliveryError(models.FailureMalformed, models.TargetSecondaryChannel, err)
	}

	var lastErr error
	for _, path := range c.altPaths {
		if path == c.cfg.VehiclePath {
			continue
		}
		if err := c.do(ctx, path, "application/json", bytes.NewReader(body)); err != nil {
			lastErr = err
			continue
		}
		c.logger.Info().Str("path", path).Msg("Alternate endpoint accepted vehicle event")
		return nil
	}
	if lastErr == nil {
		lastErr = models.NewDeliveryError(models.FailureTransient, models.TargetSecondaryChannel,
			fmt.Errorf("no alternate endpoints configured"))
	}
	return lastErr
}

// Probe checks the server health endpoint, falling back to the base URL
// for servers without one.
func (c *RESTClient) Probe(ctx context.Context) error {
	if err := c.get(ctx, c.cfg.HealthPath); err == nil {
		return nil
	}
	return c.get(ctx, "")
}

func (c *RESTClient) do(ctx context.Context, path, contentType string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), body)
	if err != nil {
		return models.NewDeliveryError(models.FailureTransient, models.TargetSecondaryChannel, err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return models.NewDeliveryError(models.FailureTransient, models.TargetSecondaryChannel, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return classifyStatus(resp.StatusCode)
}

func (c *RESTClient) get(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return err
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *RESTClient) url(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

// classifyStatus maps HTTP status codes onto delivery failure classes.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return models.NewDeliveryError(models.FailureAuthRejected, models.TargetSecondaryChannel,
			fmt.Errorf("server returned status %d", code))
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return models.NewDeliveryError(models.FailureValidation, models.TargetSecondaryChannel,
			fmt.Errorf("server returned status %d", code))
	default:
		return models.NewDeliveryError(models.FailureTransient, models.TargetSecondaryChannel,
			fmt.Errorf("server returned status %d", code))
	}
}

func attachFile(w *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := w.CreateFormFile("image", filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}
