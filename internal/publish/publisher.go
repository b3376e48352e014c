// Package publish uploads finished segments to object storage.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	bulkerr "github.com/arkilian/csvbulkload/internal/errors"
	"github.com/arkilian/csvbulkload/internal/sstable"
	"github.com/arkilian/csvbulkload/internal/storage"
)

// Published describes one uploaded segment.
type Published struct {
	Descriptor sstable.Descriptor
	Prefix     string
	Objects    []string
}

// Publisher uploads segment components under <prefix>/<keyspace>/<table>/.
type Publisher struct {
	store  storage.ObjectStorage
	prefix string
	logger *slog.Logger
}

// NewPublisher creates a publisher writing to store.
func NewPublisher(store storage.ObjectStorage, prefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{store: store, prefix: prefix, logger: logger}
}

// ObjectPrefix returns the object key prefix of a table.
func (p *Publisher) ObjectPrefix(keyspace, table string) string {
	return path.Join(p.prefix, keyspace, table)
}

// Publish uploads every component of each segment, TOC last. A segment whose
// upload fails has its already uploaded objects removed and publishing stops.
func (p *Publisher) Publish(ctx context.Context, keyspace, table string, segments []sstable.SegmentInfo) ([]Published, error) {
	prefix := p.ObjectPrefix(keyspace, table)
	published := make([]Published, 0, len(segments))

	for _, seg := range segments {
		objects, err := p.publishSegment(ctx, prefix, seg.Descriptor)
		if err != nil {
			return published, bulkerr.NewStorageError(bulkerr.CodeUploadFailed,
				fmt.Sprintf("failed to publish segment %s", seg.Descriptor), err)
		}
		published = append(published, Published{
			Descriptor: seg.Descriptor,
			Prefix:     prefix,
			Objects:    objects,
		})
		p.logger.Info("segment published",
			"segment", seg.Descriptor.String(),
			"prefix", prefix,
			"objects", len(objects))
	}
	return published, nil
}

func (p *Publisher) publishSegment(ctx context.Context, prefix string, desc sstable.Descriptor) ([]string, error) {
	var uploaded []string
	for _, c := range sstable.AllComponents {
		local := desc.Filename(c)
		key := path.Join(prefix, filepath.Base(local))

		if err := p.store.Upload(ctx, local, key); err != nil {
			var result *multierror.Error
			result = multierror.Append(result, fmt.Errorf("upload %s: %w", key, err))
			for _, done := range uploaded {
				if derr := p.store.Delete(context.WithoutCancel(ctx), done); derr != nil {
					result = multierror.Append(result, fmt.Errorf("cleanup %s: %w", done, derr))
				}
			}
			return nil, result.ErrorOrNil()
		}
		uploaded = append(uploaded, key)
	}
	return uploaded, nil
}
