// Package camera fetches entry snapshots from an IP camera over HTTP.
// Snapshots are saved locally and optionally archived to object storage;
// a missing or unreachable camera never blocks event delivery.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/parkops/gatebridge/internal/constants"
	"github.com/parkops/gatebridge/internal/models"
	"github.com/parkops/gatebridge/pkg/objectstore"
)

// Config holds the snapshot camera settings.
type Config struct {
	Enabled     bool          `yaml:"enabled"`
	SnapshotURL string        `yaml:"snapshot_url"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	SaveDir     string        `yaml:"save_dir"`
	Bucket      string        `yaml:"bucket"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Client captures snapshots from the configured camera.
type Client struct {
	cfg    Config
	http   *http.Client
	store  objectstore.ObjectStorageClient
	logger zerolog.Logger
}

// New builds a camera client. store may be nil when object storage
// archival is not configured.
func New(cfg Config, store objectstore.ObjectStorageClient, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.DefaultProbeTimeout
	}
	if cfg.SaveDir == "" {
		cfg.SaveDir = "snapshots"
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		store:  store,
		logger: logger,
	}
}

// Available reports whether a camera is configured and enabled.
func (c *Client) Available() bool {
	return c.cfg.Enabled && c.cfg.SnapshotURL != ""
}

// Capture fetches one snapshot, saves it under the save directory named
// after the ticket id, and returns a reference to the stored image. When
// object storage is wired the reference is the bucket object key,
// otherwise the local file path.
func (c *Client) Capture(ctx context.Context, ticketID string) (string, error) {
	if !c.Available() {
		return "", models.NewDeliveryError(models.FailureHardwareAbsent, models.TargetCamera,
			errors.New("camera disabled or not configured"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.SnapshotURL, nil)
	if err != nil {
		return "", models.NewDeliveryError(models.FailureTransient, models.TargetCamera, err)
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", models.NewDeliveryError(models.FailureTransient, models.TargetCamera, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", models.NewDeliveryError(models.FailureAuthRejected, models.TargetCamera,
			fmt.Errorf("camera returned status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return "", models.NewDeliveryError(models.FailureTransient, models.TargetCamera,
			fmt.Errorf("camera returned status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", models.NewDeliveryError(models.FailureTransient, models.TargetCamera, err)
	}

	name := fmt.Sprintf("%s.jpg", ticketID)
	localPath, err := c.saveLocal(name, data)
	if err != nil {
		return "", models.NewDeliveryError(models.FailureTransient, models.TargetCamera, err)
	}

	if c.store != nil && c.cfg.Bucket != "" {
		key, err := c.store.Upload(ctx, c.cfg.Bucket, name, bytes.NewReader(data), int64(len(data)), "image/jpeg")
		if err != nil {
			c.logger.Warn().Err(err).Str("ticket_id", ticketID).Msg("Snapshot archival failed, keeping local copy")
			return localPath, nil
		}
		return key, nil
	}

	return localPath, nil
}

// Probe checks the snapshot endpoint responds.
func (c *Client) Probe(ctx context.Context) error {
	if c.cfg.SnapshotURL == "" {
		return errors.New("camera: no snapshot URL configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.SnapshotURL, nil)
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
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("camera returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) saveLocal(name string, data []byte) (string, error) {
	if err := os.MkdirAll(c.cfg.SaveDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(c.cfg.SaveDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
