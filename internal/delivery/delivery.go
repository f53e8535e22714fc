package delivery

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/conveyr/pipeline-api/internal/models"
)

// Conn is one open transfer session against the remote host.
type Conn interface {
	MkdirAll(path string) error
	Create(path string) (io.WriteCloser, error)
	Stat(path string) (os.FileInfo, error)
	Close() error
}

// Dialer opens transfer sessions.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Config holds the remote endpoint settings for artifact delivery.
type Config struct {
	Host           string
	Port           int
	Username       string
	Password       string
	RemoteRoot     string
	ConnectTimeout time.Duration
	Retries        int
	RetryInterval  time.Duration
}

// Batch groups the artifacts extracted from one database.
type Batch struct {
	Database string
	Files    []string
}

// Client uploads artifact batches over SFTP. A single session is opened per
// Deliver call and reused for every file in every batch.
type Client struct {
	cfg    Config
	dialer Dialer
	logger zerolog.Logger
	sleep  func(time.Duration)
}

// NewClient builds a delivery client with password authentication.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Port <= 0 {
		cfg.Port = 22
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	if cfg.RemoteRoot == "" {
		cfg.RemoteRoot = models.DefaultRemoteRoot
	}
	return &Client{
		cfg:    cfg,
		dialer: &sshDialer{cfg: cfg},
		logger: logger.With().Str("component", "delivery").Logger(),
		sleep:  time.Sleep,
	}
}

// Deliver uploads every batch and reports one upload unit per file. It never
// returns an error: a failed file is recorded in its unit and the remaining
// files still get their turn. The session is closed before returning.
func (c *Client) Deliver(ctx context.Context, batches []Batch, forecastType string) []models.UploadUnit {
	units := c.plan(batches, forecastType)
	if len(units) == 0 {
		return units
	}

	conn, attempts, err := c.connect(ctx)
	if err != nil {
		c.logger.Error().Err(err).Int("attempts", attempts).Msg("Could not open transfer session")
		for i := range units {
			units[i].Attempts = attempts
			units[i].Error = err.Error()
		}
		return units
	}
	defer conn.Close()

	for i := range units {
		c.upload(ctx, conn, &units[i])
	}
	return units
}

// plan derives the remote path for every file up front so that failed
// uploads still report where they were headed.
func (c *Client) plan(batches []Batch, forecastType string) []models.UploadUnit {
	var units []models.UploadUnit
	for _, batch := range batches {
		for _, local := range batch.Files {
			query := strings.TrimSuffix(filepath.Base(local), models.ArtifactExt)
			units = append(units, models.UploadUnit{
				Database:   batch.Database,
				LocalPath:  local,
				RemotePath: models.RemotePath(c.cfg.RemoteRoot, batch.Database, forecastType, query),
			})
		}
	}
	return units
}

func (c *Client) connect(ctx context.Context) (Conn, int, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Retries; attempt++ {
		conn, err := c.dialer.Dial(ctx)
		if err == nil {
			return conn, attempt, nil
		}
		lastErr = err
		if !transient(err) || attempt == c.cfg.Retries {
			return nil, attempt, lastErr
		}
		c.logger.Warn().Err(err).Int("attempt", attempt).Msg("Transfer session dial failed, retrying")
		c.sleep(time.Duration(attempt) * c.cfg.RetryInterval)
		if err := ctx.Err(); err != nil {
			return nil, attempt, err
		}
	}
	return nil, c.cfg.Retries, lastErr
}

func (c *Client) upload(ctx context.Context, conn Conn, unit *models.UploadUnit) {
	if err := ctx.Err(); err != nil {
		unit.Error = err.Error()
		return
	}

	for attempt := 1; attempt <= c.cfg.Retries; attempt++ {
		unit.Attempts = attempt
		err := c.put(conn, unit.LocalPath, unit.RemotePath)
		if err == nil {
			unit.Delivered = true
			unit.Error = ""
			c.logger.Info().
				Str("remote", unit.RemotePath).
				Int("attempt", attempt).
				Msg("Uploaded artifact")
			return
		}
		unit.Error = err.Error()
		if !transient(err) {
			c.logger.Error().Err(err).Str("remote", unit.RemotePath).Msg("Upload failed permanently")
			return
		}
		if attempt < c.cfg.Retries {
			c.logger.Warn().
				Err(err).
				Str("remote", unit.RemotePath).
				Int("attempt", attempt).
				Msg("Upload failed, retrying")
			c.sleep(time.Duration(attempt) * c.cfg.RetryInterval)
			if ctx.Err() != nil {
				return
			}
		}
	}
	c.logger.Error().
		Str("remote", unit.RemotePath).
		Int("attempts", unit.Attempts).
		Msg("Upload failed after retries")
}

// put copies one local file to the remote path and verifies the remote size
// matches before declaring success.
func (c *Client) put(conn Conn, localPath, remotePath string) error {
	local, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "open %s", localPath)
	}
	defer local.Close()

	info, err := local.Stat()
	if err != nil {
		return errors.Wrapf(err, "stat %s", localPath)
	}

	if err := conn.MkdirAll(path.Dir(remotePath)); err != nil {
		return errors.Wrapf(err, "create remote directory %s", path.Dir(remotePath))
	}

	remote, err := conn.Create(remotePath)
	if err != nil {
		return errors.Wrapf(err, "create remote file %s", remotePath)
	}

	_, err = io.Copy(remote, local)
	closeErr := remote.Close()
	if err != nil {
		return errors.Wrapf(err, "copy to %s", remotePath)
	}
	if closeErr != nil {
		return errors.Wrapf(closeErr, "close remote file %s", remotePath)
	}

	stat, err := conn.Stat(remotePath)
	if err != nil {
		return errors.Wrapf(err, "verify %s", remotePath)
	}
	if stat.Size() != info.Size() {
		return errors.Errorf("size mismatch for %s: remote has %d of %d bytes", remotePath, stat.Size(), info.Size())
	}
	return nil
}

// transient reports whether a failure is worth retrying. Missing local
// files, credential rejections and permission errors never heal on their
// own; everything else is assumed to be a network hiccup.
func transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "authentication failed") ||
		strings.Contains(msg, "permission denied") {
		return false
	}
	return true
}
