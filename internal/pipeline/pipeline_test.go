package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"mediaqueue/internal/blob"
	"mediaqueue/internal/encoder"
)

// fakeRunner emulates encoder invocations: it records each argv, creates the
// output file named by the final argument, and fails invocations whose argv
// matches a configured substring.
type fakeRunner struct {
	mu          sync.Mutex
	invocations [][]string
	failMatch   string
	progress    []float64
}

func (r *fakeRunner) Run(ctx context.Context, args []string, onProgress encoder.Progress) error {
	r.mu.Lock()
	r.invocations = append(r.invocations, append([]string(nil), args...))
	r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	joined := strings.Join(args, " ")
	if r.failMatch != "" && strings.Contains(joined, r.failMatch) {
		return &encoder.RunError{Code: 1, StderrTail: "simulated failure"}
	}
	for _, pct := range r.progress {
		if onProgress != nil {
			onProgress(pct)
		}
	}
	output := args[len(args)-1]
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return err
	}
	return os.WriteFile(output, []byte("artifact"), 0o644)
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.invocations)
}

// fakeUploader mirrors the real client's directory walk, mapping each
// immediate child file to a URL under a fixed CDN base.
type fakeUploader struct {
	mu       sync.Mutex
	uploads  []string
	failWith error
}

func (u *fakeUploader) UploadDirectory(ctx context.Context, localDir, destPrefix string) ([]blob.UploadedObject, error) {
	if u.failWith != nil {
		return nil, u.failWith
	}
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	prefix := strings.TrimRight(destPrefix, "/")
	objects := make([]blob.UploadedObject, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key := prefix + "/" + entry.Name()
		u.mu.Lock()
		u.uploads = append(u.uploads, key)
		u.mu.Unlock()
		objects = append(objects, blob.UploadedObject{
			OriginalName: entry.Name(),
			Key:          key,
			URL:          "https://cdn.example.test/" + key,
		})
	}
	return objects, nil
}

var errUploadDown = errors.New("blob store unreachable")

func writeInput(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(fmt.Sprintf("input:%s", name)), 0o644); err != nil {
		t.Fatalf("write input fixture: %v", err)
	}
	return path
}
