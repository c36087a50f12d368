package gateway

import (
	"bytes"
	"encoding/binary"
)

// demuxer splits the engine's multiplexed stdout/stderr stream into two
// buffers. Frames carry an 8-byte header: byte 0 is the stream kind (1 is
// stdout, 2 is stderr), bytes 4-7 a big-endian payload length. The demuxer
// is a state machine over the byte stream, so frames may arrive split across
// any number of writes.
type demuxer struct {
	stdout bytes.Buffer
	stderr bytes.Buffer

	header    [8]byte
	headerLen int
	remaining int
	kind      byte
}

func (d *demuxer) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		if d.remaining == 0 {
			// Collecting header bytes.
			n := copy(d.header[d.headerLen:], p)
			d.headerLen += n
			p = p[n:]
			if d.headerLen < len(d.header) {
				break
			}
			d.kind = d.header[0]
			d.remaining = int(binary.BigEndian.Uint32(d.header[4:8]))
			d.headerLen = 0
			continue
		}
		n := len(p)
		if n > d.remaining {
			n = d.remaining
		}
		switch d.kind {
		case 1:
			d.stdout.Write(p[:n])
		case 2:
			d.stderr.Write(p[:n])
		default:
			// Unknown stream kind: payload is discarded.
		}
		d.remaining -= n
		p = p[n:]
	}
	return total, nil
}

func (d *demuxer) Stdout() string { return d.stdout.String() }
func (d *demuxer) Stderr() string { return d.stderr.String() }
