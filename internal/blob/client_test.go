package blob

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	client, err := New(Config{
		Endpoint:       endpoint,
		PublicEndpoint: "https://cdn.example.test",
		Bucket:         "media",
		Region:         "us-east-1",
		AccessKey:      "AKIDEXAMPLE",
		SecretKey:      "secret",
	}, nil)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	return client
}

func TestUploadFileSignsAndReturnsPublicURL(t *testing.T) {
	var gotPath, gotAuth, gotHash string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotHash = r.Header.Get("x-amz-content-sha256")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dir := t.TempDir()
	local := filepath.Join(dir, "a_processed.jpg")
	if err := os.WriteFile(local, []byte("jpeg-bytes"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	client := newTestClient(t, server.URL)
	publicURL, err := client.UploadFile(context.Background(), local, "users/42/post-1/processed/a_processed.jpg")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if gotPath != "/media/users/42/post-1/processed/a_processed.jpg" {
		t.Fatalf("unexpected upload path %q", gotPath)
	}
	if !strings.HasPrefix(gotAuth, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/") {
		t.Fatalf("missing SigV4 authorization, got %q", gotAuth)
	}
	if gotHash != unsignedPayload {
		t.Fatalf("expected unsigned payload marker, got %q", gotHash)
	}
	if publicURL != "https://cdn.example.test/users/42/post-1/processed/a_processed.jpg" {
		t.Fatalf("unexpected public URL %q", publicURL)
	}
}

func TestUploadFileBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer server.Close()

	dir := t.TempDir()
	local := filepath.Join(dir, "a.jpg")
	if err := os.WriteFile(local, []byte("x"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	client := newTestClient(t, server.URL)
	_, err := client.UploadFile(context.Background(), local, "k")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", statusErr.Status)
	}
}

func TestUploadDirectoryUploadsImmediateChildren(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dir := t.TempDir()
	for _, name := range []string{"a_master.m3u8", "a_480p.m3u8", "a_thumbnail.jpg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	client := newTestClient(t, server.URL)
	uploaded, err := client.UploadDirectory(context.Background(), dir, "users/42/post-1/processed/")
	if err != nil {
		t.Fatalf("upload directory: %v", err)
	}
	if len(uploaded) != 3 {
		t.Fatalf("expected 3 uploads, got %d", len(uploaded))
	}
	if len(paths) != 3 {
		t.Fatalf("expected 3 PUT requests, got %d", len(paths))
	}
	for _, obj := range uploaded {
		if !strings.HasPrefix(obj.Key, "users/42/post-1/processed/") {
			t.Fatalf("unexpected key %q", obj.Key)
		}
		if !strings.HasPrefix(obj.URL, "https://cdn.example.test/users/42/post-1/processed/") {
			t.Fatalf("unexpected url %q", obj.URL)
		}
	}
	if uploaded[0].OriginalName != "a_480p.m3u8" {
		t.Fatalf("expected sorted listing, got first %q", uploaded[0].OriginalName)
	}
}

func TestDownloadToFileWritesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("video-bytes"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	target := filepath.Join(t.TempDir(), "downloads", "post-1", "a.mp4")
	if err := client.DownloadToFile(context.Background(), server.URL+"/media/a.mp4", target); err != nil {
		t.Fatalf("download: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != "video-bytes" {
		t.Fatalf("unexpected file content %q", data)
	}
}

func TestDownloadToFileStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	err := client.DownloadToFile(context.Background(), server.URL+"/missing", filepath.Join(t.TempDir(), "f"))
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
}

func TestDownloadToFileNetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL
	server.Close()

	client := newTestClient(t, endpoint)
	err := client.DownloadToFile(context.Background(), endpoint+"/gone", filepath.Join(t.TempDir(), "f"))
	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("expected TransientError, got %v", err)
	}
}

func TestSignedReadURLCarriesSignature(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:9000")
	client.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	signed, err := client.SignedReadURL("users/42/post-1/original/a.mp4", time.Hour)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	parsed, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("parse presigned url: %v", err)
	}
	query := parsed.Query()
	if query.Get("X-Amz-Algorithm") != "AWS4-HMAC-SHA256" {
		t.Fatalf("missing algorithm parameter: %s", signed)
	}
	if query.Get("X-Amz-Expires") != "3600" {
		t.Fatalf("expected 3600s expiry, got %q", query.Get("X-Amz-Expires"))
	}
	if query.Get("X-Amz-Signature") == "" {
		t.Fatalf("missing signature: %s", signed)
	}
	if parsed.Path != "/media/users/42/post-1/original/a.mp4" {
		t.Fatalf("unexpected path %q", parsed.Path)
	}
}

func TestSignedReadURLDeterministic(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:9000")
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	client.now = func() time.Time { return fixed }

	first, err := client.SignedReadURL("k", time.Hour)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	second, err := client.SignedReadURL("k", time.Hour)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if first != second {
		t.Fatalf("expected deterministic signature for fixed clock")
	}
}

func TestPublicURLFallsBackToObjectURL(t *testing.T) {
	client, err := New(Config{Endpoint: "http://127.0.0.1:9000", Bucket: "media"}, nil)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	if got := client.PublicURL("a/b.jpg"); got != "http://127.0.0.1:9000/media/a/b.jpg" {
		t.Fatalf("unexpected fallback URL %q", got)
	}
}
