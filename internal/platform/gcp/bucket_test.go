package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
	"github.com/yungbote/pdfsum-backend/internal/platform/objectstore"
)

func newEmulatorStore(t *testing.T, objects map[string][]byte) (*Store, func() []string) {
	t.Helper()
	var (
		mu     sync.Mutex
		ranges []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "/storage/v1/b/docs/o/"
		if !strings.HasPrefix(r.URL.Path, prefix) {
			http.NotFound(w, r)
			return
		}
		data, ok := objects[strings.TrimPrefix(r.URL.Path, prefix)]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("alt") != "media" {
			fmt.Fprintf(w, `{"name":"x","size":"%d"}`, len(data))
			return
		}
		rng := r.Header.Get("Range")
		mu.Lock()
		ranges = append(ranges, rng)
		mu.Unlock()
		if rng == "" {
			_, _ = w.Write(data)
			return
		}
		var start, end int
		if _, err := fmt.Sscanf(rng, "bytes=%d-%d", &start, &end); err != nil {
			http.Error(w, "bad range", http.StatusBadRequest)
			return
		}
		if end >= len(data) {
			end = len(data) - 1
		}
		w.Header().Set("Content-Range", "bytes "+strconv.Itoa(start)+"-"+strconv.Itoa(end)+"/"+strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(data[start : end+1])
	}))
	t.Cleanup(srv.Close)
	t.Setenv("STORAGE_EMULATOR_HOST", srv.URL)

	s, err := NewStoreWithConfig(logger.Nop(), Config{Bucket: "docs", Mode: ModeEmulator, EmulatorHost: srv.URL})
	if err != nil {
		t.Fatalf("NewStoreWithConfig: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), ranges...)
	}
}

func TestStoreEmulatorRangeAndSize(t *testing.T) {
	s, ranges := newEmulatorStore(t, map[string][]byte{"report.pdf": []byte("0123456789")})
	ctx := context.Background()

	size, err := s.Size(ctx, "report.pdf")
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 10 {
		t.Fatalf("size: want=10 got=%d", size)
	}

	rc, err := s.OpenRange(ctx, "report.pdf", 3, 4)
	if err != nil {
		t.Fatalf("OpenRange: %v", err)
	}
	got, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "3456" {
		t.Fatalf("range body: want=3456 got=%q", got)
	}
	if got := ranges(); len(got) != 1 || got[0] != "bytes=3-6" {
		t.Fatalf("range header: %v", got)
	}
}

func TestStoreEmulatorNotFound(t *testing.T) {
	s, _ := newEmulatorStore(t, map[string][]byte{})
	ctx := context.Background()

	if _, err := s.Size(ctx, "missing.pdf"); !errors.Is(err, objectstore.ErrNotFound) {
		t.Fatalf("Size: want ErrNotFound, got %v", err)
	}
	if _, err := s.OpenRange(ctx, "missing.pdf", 0, -1); !errors.Is(err, objectstore.ErrNotFound) {
		t.Fatalf("OpenRange: want ErrNotFound, got %v", err)
	}
}

func TestStoreEmulatorFeedsReaderAt(t *testing.T) {
	payload := []byte(strings.Repeat("abcdefghij", 50))
	s, _ := newEmulatorStore(t, map[string][]byte{"doc.pdf": payload})

	ra, err := objectstore.NewReaderAt(context.Background(), s, "doc.pdf")
	if err != nil {
		t.Fatalf("NewReaderAt: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := ra.ReadAt(buf, 495); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(buf) != "fghij" {
		t.Fatalf("ReadAt: want=fghij got=%q", buf)
	}
}
