// Package batcher groups parsed records into size- and count-bounded batches
// in a single pass with constant memory.
package batcher

import (
	"encoding/json"
	"io"
)

// recordOverhead approximates the per-record serialization cost inside the
// entries array (separator plus slack).
const recordOverhead = 2

// RecordSource yields records one at a time; io.EOF terminates the sequence
type RecordSource interface {
	Next() (json.RawMessage, error)
}

// Batch is an ordered group of records sent in one ingestion request
type Batch struct {
	Records []json.RawMessage
	Bytes   int
}

// Count returns the number of records in the batch
func (b *Batch) Count() int {
	return len(b.Records)
}

// Batcher lazily assembles batches from a record source. Every yielded batch
// satisfies Bytes <= maxBytes unless it is a singleton whose one record
// already exceeds the limit; such records are sent alone rather than dropped.
// Count never exceeds maxCount.
type Batcher struct {
	src      RecordSource
	maxBytes int
	maxCount int
	carry    json.RawMessage // record that overflowed the previous batch
	done     bool
}

// New creates a batcher over src bounded by maxBytes and maxCount
func New(src RecordSource, maxBytes, maxCount int) *Batcher {
	return &Batcher{
		src:      src,
		maxBytes: maxBytes,
		maxCount: maxCount,
	}
}

// Next returns the next full batch, or io.EOF once the source is exhausted
// and no records remain. A source error is returned as-is; the partial batch
// is discarded since the whole blob will be retried.
func (b *Batcher) Next() (*Batch, error) {
	if b.done {
		return nil, io.EOF
	}

	batch := &Batch{}
	if b.carry != nil {
		b.append(batch, b.carry)
		b.carry = nil
		if batch.Bytes > b.maxBytes {
			// Oversized singleton goes out alone.
			return batch, nil
		}
	}

	for batch.Count() < b.maxCount {
		rec, err := b.src.Next()
		if err == io.EOF {
			b.done = true
			break
		}
		if err != nil {
			return nil, err
		}

		size := len(rec) + recordOverhead
		if batch.Count() > 0 && batch.Bytes+size > b.maxBytes {
			b.carry = rec
			return batch, nil
		}

		b.append(batch, rec)
		if batch.Bytes > b.maxBytes {
			// First record alone exceeds the limit: yield immediately.
			return batch, nil
		}
	}

	if batch.Count() == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

func (b *Batcher) append(batch *Batch, rec json.RawMessage) {
	batch.Records = append(batch.Records, rec)
	batch.Bytes += len(rec) + recordOverhead
}
