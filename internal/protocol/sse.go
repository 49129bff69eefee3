// ABOUTME: Incremental decoder for the blank-line-delimited event framing.
// ABOUTME: Chunk-boundary insensitive: partial blocks buffer until complete.

package protocol

import (
	"bytes"
	"strings"
)

// doneSentinel marks a payload that carries no event and is silently ignored.
const doneSentinel = "[DONE]"

// blockDecoder splits an event-stream byte sequence into per-block data
// payloads. Feed may be called with arbitrarily split chunks; a block is
// only surfaced once its terminating blank line has been seen (or Flush is
// called at end of stream). CR and CRLF line endings are normalized to LF,
// including a CRLF pair straddling a chunk boundary.
type blockDecoder struct {
	buf    []byte
	heldCR bool
}

// Feed appends a chunk and returns the data payloads of every block it
// completed, in order. Blocks without data lines yield nothing.
func (d *blockDecoder) Feed(chunk []byte) []string {
	for _, b := range chunk {
		if d.heldCR {
			d.heldCR = false
			d.buf = append(d.buf, '\n')
			if b == '\n' {
				continue
			}
		}
		if b == '\r' {
			d.heldCR = true
			continue
		}
		d.buf = append(d.buf, b)
	}

	var payloads []string
	for {
		i := bytes.Index(d.buf, []byte("\n\n"))
		if i < 0 {
			break
		}
		block := d.buf[:i]
		d.buf = d.buf[i+2:]
		if payload, ok := blockData(block); ok {
			payloads = append(payloads, payload)
		}
	}
	return payloads
}

// Flush parses whatever remains buffered as a final block. Call once, at end
// of stream.
func (d *blockDecoder) Flush() (string, bool) {
	if d.heldCR {
		d.heldCR = false
		d.buf = append(d.buf, '\n')
	}
	block := d.buf
	d.buf = nil
	if len(block) == 0 {
		return "", false
	}
	return blockData(block)
}

// blockData extracts a block's payload: its data: lines stripped of the
// prefix and newline-joined. Blocks with no data lines are not payloads.
func blockData(block []byte) (string, bool) {
	var dataLines []string
	for _, line := range strings.Split(string(block), "\n") {
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		line = strings.TrimPrefix(line, "data:")
		line = strings.TrimPrefix(line, " ")
		dataLines = append(dataLines, line)
	}
	if len(dataLines) == 0 {
		return "", false
	}
	return strings.Join(dataLines, "\n"), true
}
