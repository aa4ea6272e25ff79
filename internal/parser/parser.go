// Package parser turns a chunked blob byte stream into a lazy sequence of
// newline-delimited JSON records.
//
// The accumulator is deliberately explicit (carry-over buffer plus delimiter
// scan) instead of relying on bufio line iteration, so chunk-boundary
// behavior is testable in isolation from the network layer. Memory held is
// proportional to one chunk plus one line, never to blob size.
package parser

import (
	"bytes"
	"encoding/json"
	"io"
)

// Parser consumes a byte stream and yields one record per valid JSON line.
// Lines that fail to parse are counted and skipped, never aborting the
// stream. A non-empty trailing line without a terminating newline is parsed
// under the same rule at end of stream.
type Parser struct {
	r       io.Reader
	chunk   []byte // fixed-size read buffer
	avail   []byte // unconsumed remainder of the current chunk
	pending []byte // partial line carried across chunk boundaries
	eof     bool
	done    bool
	skipped int
}

// New creates a parser reading r in chunks of chunkSize bytes
func New(r io.Reader, chunkSize int) *Parser {
	return &Parser{
		r:     r,
		chunk: make([]byte, chunkSize),
	}
}

// Next returns the next record, or io.EOF once the stream is exhausted.
// Any other error is a transient read failure; the caller must abort the
// blob without committing a checkpoint.
func (p *Parser) Next() (json.RawMessage, error) {
	if p.done {
		return nil, io.EOF
	}

	for {
		if idx := bytes.IndexByte(p.avail, '\n'); idx >= 0 {
			p.pending = append(p.pending, p.avail[:idx]...)
			p.avail = p.avail[idx+1:]

			if rec, ok := p.takeLine(); ok {
				return rec, nil
			}
			continue
		}

		p.pending = append(p.pending, p.avail...)
		p.avail = nil

		if p.eof {
			p.done = true
			if rec, ok := p.takeLine(); ok {
				return rec, nil
			}
			return nil, io.EOF
		}

		n, err := p.r.Read(p.chunk)
		p.avail = p.chunk[:n]
		if err == io.EOF {
			p.eof = true
		} else if err != nil {
			p.done = true
			return nil, err
		}
	}
}

// Skipped returns the number of malformed lines seen so far
func (p *Parser) Skipped() int {
	return p.skipped
}

// takeLine consumes the pending buffer as one line. Blank lines are ignored,
// malformed lines increment the skip counter, valid JSON is copied out so
// the returned record does not alias the reused buffers.
func (p *Parser) takeLine() (json.RawMessage, bool) {
	line := bytes.TrimSpace(p.pending)
	p.pending = p.pending[:0]

	if len(line) == 0 {
		return nil, false
	}
	if !json.Valid(line) {
		p.skipped++
		return nil, false
	}

	rec := make(json.RawMessage, len(line))
	copy(rec, line)
	return rec, true
}
