package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	lodeapi "github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/sluice/lode"
)

// Output backends for the results dataset.
const (
	outputBackendFS   = "fs"
	outputBackendS3   = "s3"
	outputBackendNone = "none"
)

// outputChoice holds the resolved results dataset configuration.
type outputChoice struct {
	backend     string // fs, s3 or none
	dataset     string
	path        string // fs: directory, s3: bucket/prefix
	region      string
	endpoint    string
	pathStyle   bool
	includeData bool
	batchSize   int
}

// enabled reports whether results are persisted at all.
func (o outputChoice) enabled() bool {
	return o.backend != outputBackendNone && o.path != ""
}

func (o outputChoice) validate() error {
	switch o.backend {
	case outputBackendFS, outputBackendS3, outputBackendNone:
	default:
		return fmt.Errorf("invalid --output-backend %q (must be fs, s3 or none)", o.backend)
	}
	if o.backend == outputBackendS3 {
		if o.path == "" {
			return errors.New("--output-path is required for the s3 backend (format: bucket/prefix)")
		}
		if bucket, _ := lode.ParseS3Path(o.path); bucket == "" {
			return fmt.Errorf("invalid --output-path %q: bucket name is empty", o.path)
		}
	}
	if o.backend != outputBackendS3 && (o.region != "" || o.endpoint != "" || o.pathStyle) {
		return errors.New("--output-region, --output-endpoint and --output-s3-path-style require --output-backend s3")
	}
	if o.batchSize < 0 {
		return fmt.Errorf("--output-batch-size must be >= 0, got %d", o.batchSize)
	}
	return nil
}

func (o outputChoice) s3Config() lode.S3Config {
	bucket, prefix := lode.ParseS3Path(o.path)
	return lode.S3Config{
		Bucket:       bucket,
		Prefix:       prefix,
		Region:       o.region,
		Endpoint:     o.endpoint,
		UsePathStyle: o.pathStyle,
	}
}

func (o outputChoice) datasetID() string {
	if o.dataset == "" {
		return lode.DefaultDataset
	}
	return o.dataset
}

// buildStoragePath returns a human-readable location of a trace's
// records, used in completion events.
func buildStoragePath(o outputChoice, cfg lode.Config) string {
	partition := fmt.Sprintf("datasets/%s/partitions/source=%s/day=%s/trace_id=%s",
		cfg.Dataset, cfg.Source, cfg.Day, cfg.TraceID)
	switch o.backend {
	case outputBackendFS:
		return filepath.Join(o.path, filepath.FromSlash(partition))
	case outputBackendS3:
		bucket, prefix := lode.ParseS3Path(o.path)
		if prefix == "" {
			return "s3://" + bucket + "/" + partition
		}
		return "s3://" + bucket + "/" + strings.TrimSuffix(prefix, "/") + "/" + partition
	default:
		return ""
	}
}

// newLodeConfig builds the partition keys of a trace started at startTime.
func newLodeConfig(o outputChoice, source, combinerName, traceID string, startTime time.Time) lode.Config {
	return lode.Config{
		Dataset:  o.datasetID(),
		Source:   source,
		Combiner: combinerName,
		Day:      lode.DeriveDay(startTime),
		TraceID:  traceID,
	}
}

// buildLodeClient opens the write client for the configured backend.
func buildLodeClient(ctx context.Context, o outputChoice, cfg lode.Config) (*lode.LodeClient, error) {
	switch o.backend {
	case outputBackendFS:
		return lode.NewLodeClient(cfg, o.path)
	case outputBackendS3:
		return lode.NewLodeS3Client(ctx, cfg, o.s3Config())
	default:
		return nil, fmt.Errorf("unknown output backend: %s", o.backend)
	}
}

// openReadDataset opens the results dataset for reading.
func openReadDataset(ctx context.Context, o outputChoice) (lodeapi.Dataset, error) {
	switch o.backend {
	case outputBackendFS:
		return lode.NewReadDatasetFS(o.datasetID(), o.path)
	case outputBackendS3:
		return lode.NewReadDatasetS3(ctx, o.datasetID(), o.s3Config())
	default:
		return nil, fmt.Errorf("unknown output backend: %s (must be fs or s3)", o.backend)
	}
}
