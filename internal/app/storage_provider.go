package app

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/yungbote/pdfsum-backend/internal/platform/gcp"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
	"github.com/yungbote/pdfsum-backend/internal/platform/objectstore"
	"github.com/yungbote/pdfsum-backend/internal/platform/s3store"
)

const (
	ObjectStoreGCS    = "gcs"
	ObjectStoreS3     = "s3"
	ObjectStoreMemory = "memory"
)

var (
	newGCSStore = func(log *logger.Logger) (*gcp.Store, error) { return gcp.NewStore(log) }
	newS3Store  = func(log *logger.Logger) (*s3store.Store, error) { return s3store.New(log, s3store.ConfigFromEnv()) }
)

type StorageProviderBootstrapErrorCode string

const (
	StorageProviderBootstrapErrorInvalidDriver       StorageProviderBootstrapErrorCode = "invalid_driver"
	StorageProviderBootstrapErrorInvalidMode         StorageProviderBootstrapErrorCode = "invalid_mode"
	StorageProviderBootstrapErrorMissingEmulatorHost StorageProviderBootstrapErrorCode = "missing_emulator_host"
	StorageProviderBootstrapErrorInvalidEmulatorHost StorageProviderBootstrapErrorCode = "invalid_emulator_host"
	StorageProviderBootstrapErrorMissingBucket       StorageProviderBootstrapErrorCode = "missing_bucket"
	StorageProviderBootstrapErrorConnectFailed       StorageProviderBootstrapErrorCode = "connect_failed"
)

type StorageProviderBootstrapError struct {
	Code   StorageProviderBootstrapErrorCode
	Driver string
	Cause  error
}

func (e *StorageProviderBootstrapError) Error() string {
	if e == nil {
		return "object storage bootstrap failed"
	}
	return fmt.Sprintf("object storage bootstrap failed (code=%s driver=%q): %v", e.Code, e.Driver, e.Cause)
}

func (e *StorageProviderBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// resolveObjectStore builds the store selected by OBJECT_STORE_DRIVER. The
// returned closer is nil for stores that hold no connections.
func resolveObjectStore(log *logger.Logger, driver string) (objectstore.ReadWriter, io.Closer, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	log.Info("Selecting object storage provider", "driver", driver)
	switch driver {
	case ObjectStoreGCS, "":
		s, err := newGCSStore(log)
		if err != nil {
			return nil, nil, bootstrapFailed(log, ObjectStoreGCS, err)
		}
		return s, s, nil
	case ObjectStoreS3:
		s, err := newS3Store(log)
		if err != nil {
			return nil, nil, bootstrapFailed(log, ObjectStoreS3, err)
		}
		return s, nil, nil
	case ObjectStoreMemory:
		log.Warn("Using in-memory object store; uploads do not survive a restart")
		return objectstore.NewMemory(), nil, nil
	}
	err := &StorageProviderBootstrapError{
		Code:   StorageProviderBootstrapErrorInvalidDriver,
		Driver: driver,
		Cause:  fmt.Errorf("unsupported OBJECT_STORE_DRIVER %q (allowed: gcs, s3, memory)", driver),
	}
	log.Error("Object storage provider selection failed", "driver", driver, "error_code", err.Code, "error", err)
	return nil, nil, err
}

func bootstrapFailed(log *logger.Logger, driver string, err error) error {
	classified := classifyStorageProviderBootstrapError(driver, err)
	log.Error("Object storage provider bootstrap failed", "driver", driver, "error_code", classified.Code, "error", classified)
	return classified
}

func classifyStorageProviderBootstrapError(driver string, err error) *StorageProviderBootstrapError {
	out := &StorageProviderBootstrapError{Code: StorageProviderBootstrapErrorConnectFailed, Driver: driver, Cause: err}
	if errors.Is(err, objectstore.ErrNoBucket) {
		out.Code = StorageProviderBootstrapErrorMissingBucket
		return out
	}
	var cfgErr *gcp.ConfigError
	if errors.As(err, &cfgErr) {
		switch cfgErr.Code {
		case gcp.ConfigErrorInvalidMode:
			out.Code = StorageProviderBootstrapErrorInvalidMode
		case gcp.ConfigErrorMissingEmulatorHost:
			out.Code = StorageProviderBootstrapErrorMissingEmulatorHost
		case gcp.ConfigErrorInvalidEmulatorHost:
			out.Code = StorageProviderBootstrapErrorInvalidEmulatorHost
		}
	}
	return out
}
