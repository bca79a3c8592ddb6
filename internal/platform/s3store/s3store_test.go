package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
	"github.com/yungbote/pdfsum-backend/internal/platform/objectstore"
)

const noSuchKeyXML = `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`

func newTestStore(t *testing.T, objects map[string][]byte) *Store {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/docs/")
		if r.Method == http.MethodDelete {
			delete(objects, key)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		data, ok := objects[key]
		if !ok {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, noSuchKeyXML)
			return
		}
		switch r.Method {
		case http.MethodHead:
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			var start, end int
			if _, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end); err != nil {
				_, _ = w.Write(data)
				return
			}
			if end >= len(data) {
				end = len(data) - 1
			}
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
			w.Header().Set("Content-Length", strconv.Itoa(end-start+1))
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write(data[start : end+1])
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)

	s, err := New(logger.Nop(), Config{
		Bucket:          "docs",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestStoreRangeAndSize(t *testing.T) {
	s := newTestStore(t, map[string][]byte{"report.pdf": []byte("0123456789")})
	ctx := context.Background()

	size, err := s.Size(ctx, "report.pdf")
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 10 {
		t.Fatalf("size: want=10 got=%d", size)
	}
	rc, err := s.OpenRange(ctx, "report.pdf", 2, 3)
	if err != nil {
		t.Fatalf("OpenRange: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "234" {
		t.Fatalf("range body: want=234 got=%q", got)
	}
}

func TestStoreNotFound(t *testing.T) {
	s := newTestStore(t, map[string][]byte{})
	ctx := context.Background()

	if _, err := s.Size(ctx, "missing.pdf"); !errors.Is(err, objectstore.ErrNotFound) {
		t.Fatalf("Size: want ErrNotFound, got %v", err)
	}
	if _, err := s.OpenRange(ctx, "missing.pdf", 0, 10); !errors.Is(err, objectstore.ErrNotFound) {
		t.Fatalf("OpenRange: want ErrNotFound, got %v", err)
	}
}

func TestStoreDelete(t *testing.T) {
	objects := map[string][]byte{"report.pdf": []byte("0123456789")}
	s := newTestStore(t, objects)
	ctx := context.Background()

	if err := s.Delete(ctx, "report.pdf"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Size(ctx, "report.pdf"); !errors.Is(err, objectstore.ErrNotFound) {
		t.Fatalf("Size after delete: want ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, "report.pdf"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(logger.Nop(), Config{Region: "us-east-1"}); !errors.Is(err, objectstore.ErrNoBucket) {
		t.Fatalf("New: want ErrNoBucket, got %v", err)
	}
}
