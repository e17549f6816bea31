// Package blob is the single entry point to object storage. Callers depend
// on Store and obtain a backend through Open; only this package imports the
// concrete implementations.
package blob

import (
	"context"
	"fmt"

	"custodyledger/internal/blob/core"
	"custodyledger/internal/infra/blob/fs"
	"custodyledger/internal/infra/blob/memory"
	"custodyledger/internal/infra/blob/s3"
)

type (
	Store      = core.Store
	Object     = core.Object
	PutOptions = core.PutOptions
	Driver     = core.Driver
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrNotFound    = core.ErrNotFound
	ErrExists      = core.ErrExists
	ErrInvalidKey  = core.ErrInvalidKey
	ErrUnsupported = core.ErrUnsupported
)

// Options selects and configures a backend.
type Options struct {
	Driver          Driver
	Root            string
	Bucket          string
	Region          string
	Endpoint        string
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
}

// Open returns the backend named by opts.Driver; an empty driver means fs.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case DriverFilesystem, "":
		st, err := fs.New(opts.Root)
		if err != nil {
			return nil, err
		}
		return st, nil
	case DriverMemory:
		return memory.New(), nil
	case DriverS3:
		st, err := s3.New(ctx, s3.Config{
			Bucket:          opts.Bucket,
			Region:          opts.Region,
			Endpoint:        opts.Endpoint,
			PathStyle:       opts.UsePathStyle,
			AccessKeyID:     opts.AccessKeyID,
			SecretAccessKey: opts.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", opts.Driver)
	}
}
