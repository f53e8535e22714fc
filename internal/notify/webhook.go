package notify

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/conveyr/pipeline-api/internal/models"
)

// Config holds the webhook endpoint settings.
type Config struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

// Webhook posts delivered parquet artifacts to an HTTP endpoint as a
// multipart upload, with basic auth when credentials are configured.
type Webhook struct {
	cfg    Config
	client *resty.Client
	logger zerolog.Logger
}

// NewWebhook creates a webhook sender.
func NewWebhook(cfg Config, logger zerolog.Logger) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := resty.New().SetTimeout(cfg.Timeout)
	if cfg.Username != "" && cfg.Password != "" {
		client.SetBasicAuth(cfg.Username, cfg.Password)
	}

	return &Webhook{
		cfg:    cfg,
		client: client,
		logger: logger.With().Str("component", "webhook").Logger(),
	}
}

// Send posts one artifact. The database and forecast type ride along as
// form fields so the receiver can route the file.
func (w *Webhook) Send(ctx context.Context, database, forecastType, localPath string) error {
	name := filepath.Base(localPath)
	if !strings.EqualFold(filepath.Ext(localPath), models.ArtifactExt) {
		return errors.Errorf("refusing to send non-parquet file %s", name)
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return errors.Wrapf(err, "stat %s", localPath)
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetFile("file", localPath).
		SetFormData(map[string]string{
			"filename":      name,
			"file_size":     strconv.FormatInt(info.Size(), 10),
			"file_type":     "parquet",
			"database":      database,
			"forecast_type": forecastType,
		}).
		Post(w.cfg.URL)
	if err != nil {
		return errors.Wrapf(err, "post %s", name)
	}
	if resp.IsError() {
		return errors.Errorf("webhook rejected %s: status %d", name, resp.StatusCode())
	}

	w.logger.Info().
		Str("file", name).
		Int("status", resp.StatusCode()).
		Msg("Artifact posted to webhook")
	return nil
}
