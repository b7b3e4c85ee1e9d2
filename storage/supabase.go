package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Supabase defaults.
const (
	DefaultBucket  = "registros"
	DefaultTable   = "registro"
	DefaultTimeout = 30 * time.Second
)

// SupabaseConfig configures the Supabase REST store.
type SupabaseConfig struct {
	URL string `json:"url" yaml:"url"`
	Key string `json:"key" yaml:"key"`
	// Bucket and Table are set from the enclosing storage Config.
	Bucket string `json:"-" yaml:"-"`
	Table  string `json:"-" yaml:"-"`
}

// Supabase stores artifacts in a storage bucket and records in a REST table.
type Supabase struct {
	cfg    SupabaseConfig
	base   *url.URL
	client *http.Client
	logger *zap.SugaredLogger
}

// SupabaseOption customizes a Supabase store.
type SupabaseOption func(*Supabase)

// WithSupabaseHTTPClient overrides the HTTP client used for all requests.
func WithSupabaseHTTPClient(client *http.Client) SupabaseOption {
	return func(s *Supabase) { s.client = client }
}

// NewSupabase validates cfg and returns a store. No request is made.
func NewSupabase(cfg SupabaseConfig, logger *zap.SugaredLogger, opts ...SupabaseOption) (*Supabase, error) {
	if cfg.URL == "" || cfg.Key == "" {
		return nil, errors.New("supabase url and key are required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse supabase url")
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.Errorf("supabase url %q must be absolute", cfg.URL)
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	s := &Supabase{
		cfg:    cfg,
		base:   base,
		client: &http.Client{Timeout: DefaultTimeout},
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// PublicURL returns the public address of an object in the configured bucket.
func (s *Supabase) PublicURL(name string) string {
	return s.endpoint("storage", "v1", "object", "public", s.cfg.Bucket, name)
}

// UploadArtifact uploads a JPEG object and returns its public URL.
func (s *Supabase) UploadArtifact(ctx context.Context, name string, data []byte) (string, error) {
	target := s.endpoint("storage", "v1", "object", s.cfg.Bucket, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return "", errors.Wrapf(ErrArtifactUpload, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	s.authorize(req)

	if err := s.do(req); err != nil {
		return "", errors.Wrapf(ErrArtifactUpload, "%s: %v", name, err)
	}

	ref := s.PublicURL(name)
	s.logger.Debugw("artifact uploaded", "name", name, "bytes", len(data), "url", ref)
	return ref, nil
}

// InsertRecord inserts one row into the configured table.
func (s *Supabase) InsertRecord(ctx context.Context, record Record) error {
	body, err := json.Marshal(record)
	if err != nil {
		return errors.Wrapf(ErrRecordInsert, "encode: %v", err)
	}
	target := s.endpoint("rest", "v1", s.cfg.Table)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(ErrRecordInsert, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")
	s.authorize(req)

	if err := s.do(req); err != nil {
		return errors.Wrapf(ErrRecordInsert, "%s: %v", s.cfg.Table, err)
	}
	s.logger.Debugw("record inserted", "table", s.cfg.Table, "image", record.Image)
	return nil
}

// Close releases idle connections.
func (s *Supabase) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Supabase) authorize(req *http.Request) {
	req.Header.Set("apikey", s.cfg.Key)
	req.Header.Set("Authorization", "Bearer "+s.cfg.Key)
}

func (s *Supabase) do(req *http.Request) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (s *Supabase) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return s.base.String() + "/" + strings.Join(escaped, "/")
}
