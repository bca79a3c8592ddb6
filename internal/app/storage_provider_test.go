package app

import (
	"errors"
	"fmt"
	"testing"

	"github.com/yungbote/pdfsum-backend/internal/data/repos/testutil"
	"github.com/yungbote/pdfsum-backend/internal/platform/gcp"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
	"github.com/yungbote/pdfsum-backend/internal/platform/objectstore"
	"github.com/yungbote/pdfsum-backend/internal/platform/s3store"
)

func TestClassifyStorageProviderBootstrapError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want StorageProviderBootstrapErrorCode
	}{
		{"invalid mode", &gcp.ConfigError{Code: gcp.ConfigErrorInvalidMode, Value: "bad"}, StorageProviderBootstrapErrorInvalidMode},
		{"missing emulator host", &gcp.ConfigError{Code: gcp.ConfigErrorMissingEmulatorHost}, StorageProviderBootstrapErrorMissingEmulatorHost},
		{"invalid emulator host", fmt.Errorf("validate: %w", &gcp.ConfigError{Code: gcp.ConfigErrorInvalidEmulatorHost, Value: "fake-gcs:4443"}), StorageProviderBootstrapErrorInvalidEmulatorHost},
		{"missing bucket", fmt.Errorf("GCS_BUCKET_NAME: %w", objectstore.ErrNoBucket), StorageProviderBootstrapErrorMissingBucket},
		{"connect", errors.New("dial tcp: refused"), StorageProviderBootstrapErrorConnectFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyStorageProviderBootstrapError(ObjectStoreGCS, tc.err)
			if got.Code != tc.want {
				t.Fatalf("code=%q want %q", got.Code, tc.want)
			}
			if !errors.Is(got, tc.err) {
				t.Fatalf("cause not preserved: %v", got)
			}
		})
	}
}

func TestResolveObjectStore(t *testing.T) {
	log := testutil.Logger(t)

	store, closer, err := resolveObjectStore(log, "memory")
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := store.(*objectstore.Memory); !ok || closer != nil {
		t.Fatalf("memory driver returned %T closer=%v", store, closer)
	}

	_, _, err = resolveObjectStore(log, "ftp")
	var bootErr *StorageProviderBootstrapError
	if !errors.As(err, &bootErr) || bootErr.Code != StorageProviderBootstrapErrorInvalidDriver {
		t.Fatalf("ftp err=%v", err)
	}
}

func TestResolveObjectStoreWrapsProviderFailures(t *testing.T) {
	origGCS, origS3 := newGCSStore, newS3Store
	t.Cleanup(func() { newGCSStore, newS3Store = origGCS, origS3 })
	newGCSStore = func(*logger.Logger) (*gcp.Store, error) {
		return nil, &gcp.ConfigError{Code: gcp.ConfigErrorMissingEmulatorHost}
	}
	newS3Store = func(*logger.Logger) (*s3store.Store, error) { return nil, errors.New("dial tcp: refused") }

	cases := []struct {
		driver string
		want   StorageProviderBootstrapErrorCode
	}{
		{"gcs", StorageProviderBootstrapErrorMissingEmulatorHost},
		{"S3", StorageProviderBootstrapErrorConnectFailed},
	}
	for _, tc := range cases {
		_, _, err := resolveObjectStore(testutil.Logger(t), tc.driver)
		var bootErr *StorageProviderBootstrapError
		if !errors.As(err, &bootErr) || bootErr.Code != tc.want {
			t.Fatalf("%s: err=%v want code %q", tc.driver, err, tc.want)
		}
	}
}
