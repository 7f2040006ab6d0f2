package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Config stores blob-store connectivity settings. Endpoint addresses the S3
// API; PublicEndpoint is the base under which uploaded objects are reachable
// by consumers (a CDN or the bucket website host).
type Config struct {
	Endpoint       string
	PublicEndpoint string
	Bucket         string
	Region         string
	AccessKey      string
	SecretKey      string
	UseSSL         bool
	RequestTimeout time.Duration
}

const (
	defaultRequestTimeout  = 60 * time.Second
	defaultSignedReadTTL   = time.Hour
	unsignedPayload        = "UNSIGNED-PAYLOAD"
	defaultRegion          = "us-east-1"
	downloadDirPermissions = 0o755
)

// TransientError marks network-level failures (dial, reset, timeout) that a
// later attempt of the same job may not hit again.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// StatusError reports a well-formed but unsuccessful blob-store response.
type StatusError struct {
	Op     string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Status)
}

// UploadedObject describes one object placed by UploadDirectory.
type UploadedObject struct {
	OriginalName string
	Key          string
	URL          string
}

// Client is a minimal S3 client over net/http with SigV4 signing. It performs
// no retries; retry policy lives at the job-attempt level.
type Client struct {
	cfg        Config
	endpoint   *url.URL
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// New builds a Client from the provided configuration.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	trimmedEndpoint := strings.TrimSpace(cfg.Endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("blob endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("blob bucket is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = defaultRegion
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	endpoint := trimmedEndpoint
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse blob endpoint: %w", err)
		}
		if parsed.Scheme != "" {
			scheme = parsed.Scheme
		}
		endpoint = parsed.Host
	}
	base := &url.URL{Scheme: scheme, Host: endpoint}
	if base.Host == "" {
		return nil, fmt.Errorf("blob endpoint %q has no host", cfg.Endpoint)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		endpoint:   base,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     logger,
		now:        time.Now,
	}, nil
}

// SignedReadURL issues a presigned GET URL for the given key.
func (c *Client) SignedReadURL(key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = defaultSignedReadTTL
	}
	target := c.objectURL(key)
	signed, err := presignGet(target, c.cfg.AccessKey, c.cfg.SecretKey, c.cfg.Region, c.now().UTC(), ttl)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return signed, nil
}

// DownloadToFile streams the body of url to localPath, creating parent
// directories as needed. Network failures surface as TransientError; any
// non-2xx response surfaces as StatusError.
func (c *Client) DownloadToFile(ctx context.Context, rawURL, localPath string) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create download request: %w", err)
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return &TransientError{Op: "download " + localPath, Err: err}
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return &StatusError{Op: "download " + localPath, Status: response.StatusCode}
	}
	if err := os.MkdirAll(filepath.Dir(localPath), downloadDirPermissions); err != nil {
		return fmt.Errorf("prepare download directory: %w", err)
	}
	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	if _, err := io.Copy(out, response.Body); err != nil {
		out.Close()
		os.Remove(localPath)
		if isNetworkErr(err) {
			return &TransientError{Op: "download " + localPath, Err: err}
		}
		return fmt.Errorf("write %s: %w", localPath, err)
	}
	return out.Close()
}

// UploadFile PUTs the file at localPath under key and returns the public URL.
func (c *Client) UploadFile(ctx context.Context, localPath, key string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", localPath, err)
	}

	target := c.objectURL(key)
	request, err := http.NewRequestWithContext(ctx, http.MethodPut, target.String(), file)
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	request.ContentLength = info.Size()
	if contentType := contentTypeForFile(localPath); contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	signRequest(request, c.cfg.AccessKey, c.cfg.SecretKey, c.cfg.Region, unsignedPayload, c.now().UTC())

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", &TransientError{Op: "upload " + key, Err: err}
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", &StatusError{Op: "upload " + key, Status: response.StatusCode}
	}
	return c.PublicURL(key), nil
}

// UploadDirectory uploads every immediate child file of localDir as
// <destPrefix>/<filename> and returns the uploaded objects in directory
// listing order.
func (c *Client) UploadDirectory(ctx context.Context, localDir, destPrefix string) ([]UploadedObject, error) {
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", localDir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	prefix := strings.TrimRight(strings.TrimSpace(destPrefix), "/")
	uploaded := make([]UploadedObject, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		key := name
		if prefix != "" {
			key = prefix + "/" + name
		}
		publicURL, err := c.UploadFile(ctx, filepath.Join(localDir, name), key)
		if err != nil {
			return nil, err
		}
		uploaded = append(uploaded, UploadedObject{OriginalName: name, Key: key, URL: publicURL})
	}
	return uploaded, nil
}

// PublicURL derives the consumer-facing URL for an uploaded key.
func (c *Client) PublicURL(key string) string {
	trimmedKey := strings.TrimLeft(strings.TrimSpace(key), "/")
	base := strings.TrimSpace(c.cfg.PublicEndpoint)
	if base == "" {
		return c.objectURL(key).String()
	}
	trimmedBase := strings.TrimRight(base, "/")
	if trimmedKey == "" {
		return trimmedBase
	}
	return trimmedBase + "/" + trimmedKey
}

func (c *Client) objectURL(key string) *url.URL {
	path := "/" + strings.TrimLeft(c.cfg.Bucket, "/")
	trimmedKey := strings.TrimLeft(strings.TrimSpace(key), "/")
	if trimmedKey != "" {
		path += "/" + trimmedKey
	}
	u := *c.endpoint
	u.Path = path
	return &u
}

func contentTypeForFile(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".mp4":
		return "video/mp4"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

func isNetworkErr(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}
