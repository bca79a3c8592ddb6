package gcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
	"github.com/yungbote/pdfsum-backend/internal/platform/objectstore"
)

// Store reads and writes document PDFs in a single GCS bucket, or in a
// fake-gcs emulator speaking the JSON API.
type Store struct {
	log           *logger.Logger
	client        *storage.Client
	bucket        string
	mode          Mode
	emulatorHost  string
	httpClient    *http.Client
	readTimeout   time.Duration
	attrsTimeout  time.Duration
	uploadTimeout time.Duration
}

var _ objectstore.ReadWriter = (*Store)(nil)

func NewStore(log *logger.Logger) (*Store, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("gcs config: %w", err)
	}
	return NewStoreWithConfig(log, cfg)
}

func NewStoreWithConfig(log *logger.Logger, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("gcs config: %w", err)
	}
	cfg.EmulatorHost = strings.TrimRight(cfg.EmulatorHost, "/")
	if cfg.Mode == ModeEmulator {
		// The storage client only honors the emulator through the environment.
		_ = os.Setenv("STORAGE_EMULATOR_HOST", cfg.EmulatorHost)
	}
	client, err := storage.NewClient(context.Background(), cfg.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	s := &Store{
		log:           log.With("service", "GCSStore"),
		client:        client,
		bucket:        cfg.Bucket,
		mode:          cfg.Mode,
		emulatorHost:  cfg.EmulatorHost,
		httpClient:    http.DefaultClient,
		readTimeout:   2 * time.Minute,
		attrsTimeout:  30 * time.Second,
		uploadTimeout: 2 * time.Minute,
	}
	s.log.Info("Document bucket ready",
		"mode", cfg.Mode,
		"mode_source", cfg.ModeSource(),
		"emulator_host", s.emulatorHost,
		"bucket", cfg.Bucket,
	)
	return s, nil
}

func (s *Store) isEmulatorMode() bool {
	return s.mode == ModeEmulator && s.emulatorHost != ""
}

func (s *Store) emulatorObjectURL(key string, media bool) string {
	u := fmt.Sprintf("%s/storage/v1/b/%s/o/%s", s.emulatorHost, url.PathEscape(s.bucket), url.PathEscape(key))
	if media {
		u += "?alt=media"
	}
	return u
}

// Put uploads r under key.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	defer cancel()
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func (s *Store) OpenRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	// The reader outlives this call, so cancel is attached to Close.
	ctx2, cancel := context.WithTimeout(ctx, s.readTimeout)
	if s.isEmulatorMode() {
		req, err := http.NewRequestWithContext(ctx2, http.MethodGet, s.emulatorObjectURL(key, true), nil)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed creating emulator range request: %w", err)
		}
		if offset > 0 || length >= 0 {
			if length >= 0 {
				req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
			} else {
				req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
			}
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed emulator range request: %w", err)
		}
		if resp.StatusCode == http.StatusNotFound {
			_ = resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("%s: %w", key, objectstore.ErrNotFound)
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			_ = resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("emulator range read failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return &readCloserWithCancel{ReadCloser: resp.Body, cancel: cancel}, nil
	}
	r, err := s.client.Bucket(s.bucket).Object(key).NewRangeReader(ctx2, offset, length)
	if err != nil {
		cancel()
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%s: %w", key, objectstore.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open GCS range reader: %w", err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (s *Store) Size(ctx context.Context, key string) (int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, s.attrsTimeout)
	defer cancel()
	if s.isEmulatorMode() {
		req, err := http.NewRequestWithContext(ctx2, http.MethodGet, s.emulatorObjectURL(key, false), nil)
		if err != nil {
			return 0, fmt.Errorf("failed creating emulator attrs request: %w", err)
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return 0, fmt.Errorf("failed emulator attrs request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return 0, fmt.Errorf("%s: %w", key, objectstore.ErrNotFound)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return 0, fmt.Errorf("emulator attrs failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		var payload struct {
			Size string `json:"size"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return 0, fmt.Errorf("decode emulator attrs: %w", err)
		}
		size, err := strconv.ParseInt(strings.TrimSpace(payload.Size), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("emulator attrs size %q: %w", payload.Size, err)
		}
		return size, nil
	}
	attrs, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx2)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return 0, fmt.Errorf("%s: %w", key, objectstore.ErrNotFound)
		}
		return 0, fmt.Errorf("failed to fetch GCS object attrs: %w", err)
	}
	return attrs.Size, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.attrsTimeout)
	defer cancel()
	if err := s.client.Bucket(s.bucket).Object(key).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", key, s.bucket, err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}
