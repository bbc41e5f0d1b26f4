package lode

import (
	"context"
	"fmt"
	"sync"

	"github.com/justapithecus/lode/lode"
)

// hiveKeys is the partition layout shared by the write and read paths.
var hiveKeys = []string{"source", "day", "trace_id", "record_kind"}

// LodeClient is a Lode-backed implementation of Client.
type LodeClient struct {
	dataset lode.Dataset
	config  Config

	storeFactory lode.StoreFactory
	storeOnce    sync.Once
	store        lode.Store
	storeErr     error
}

// NewLodeClient creates a client with filesystem storage rooted at root.
func NewLodeClient(cfg Config, root string) (*LodeClient, error) {
	return NewLodeClientWithFactory(cfg, lode.NewFSFactory(root))
}

// NewLodeClientWithFactory creates a client with a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewLodeClientWithFactory(cfg Config, factory lode.StoreFactory) (*LodeClient, error) {
	ds, err := newDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return newClient(ds, cfg, factory), nil
}

func newClient(ds lode.Dataset, cfg Config, factory lode.StoreFactory) *LodeClient {
	return &LodeClient{dataset: ds, config: cfg, storeFactory: factory}
}

func newDataset(id string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(id),
		factory,
		lode.WithHiveLayout(hiveKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// WriteResults writes a batch of results as one snapshot.
func (c *LodeClient) WriteResults(ctx context.Context, results []ResultRecord) error {
	if len(results) == 0 {
		return nil
	}
	records := make([]any, 0, len(results))
	for _, r := range results {
		records = append(records, r.toMap())
	}
	if _, err := c.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return WrapWriteError(err, c.partitionPath(RecordKindResult))
	}
	return nil
}

// WriteSummary writes the summary record as its own snapshot.
func (c *LodeClient) WriteSummary(ctx context.Context, summary SummaryRecord) error {
	if _, err := c.dataset.Write(ctx, []any{summary.toMap()}, lode.Metadata{}); err != nil {
		return WrapWriteError(err, c.partitionPath(RecordKindSummary))
	}
	return nil
}

// Close releases client resources. Datasets hold no open handles.
func (c *LodeClient) Close() error {
	return nil
}

func (c *LodeClient) partitionPath(kind string) string {
	return fmt.Sprintf("%s/source=%s/day=%s/trace_id=%s/record_kind=%s",
		c.config.Dataset, c.config.Source, c.config.Day, c.config.TraceID, kind)
}

// Verify LodeClient implements Client.
var _ Client = (*LodeClient)(nil)
