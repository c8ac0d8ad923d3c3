package transport

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/treemover/treemover/internal/bufpool"
	"github.com/treemover/treemover/internal/faults"
)

// Wire frame, shared by the TCP and QUIC transports:
//
//	bytes  0..4   path_length  uint32, big-endian
//	bytes  4..8   reserved, zero on send, ignored on receive
//	bytes  8..16  offset       uint64, big-endian
//	bytes 16..24  length       uint64, big-endian
//	then path_length bytes of UTF-8 relative path (forward slashes)
//	then exactly length bytes of chunk payload
const (
	headerSize    = 24
	maxPathLength = 4096

	// Payload bytes stream through fixed buffers of this size, so sender
	// and receiver memory use is independent of chunk size.
	copyBufferSize = 4 << 20
)

var framePool = bufpool.New(copyBufferSize)

// writeFrame writes the header, path, and exactly p.Length payload bytes
// read from p.Data to w.
func writeFrame(w io.Writer, p Payload) error {
	rel := p.RelativePath
	if len(rel) == 0 || len(rel) > maxPathLength {
		return faults.Protocolf("invalid relative path length %d", len(rel))
	}

	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(len(rel)))
	binary.BigEndian.PutUint64(header[8:16], uint64(p.Offset))
	binary.BigEndian.PutUint64(header[16:24], uint64(p.Length))

	if _, err := w.Write(header[:]); err != nil {
		return faults.WrapConnection(err, "write frame header")
	}
	if _, err := io.WriteString(w, rel); err != nil {
		return faults.WrapConnection(err, "write frame path")
	}

	buf := framePool.Get()
	defer framePool.Put(buf)

	remaining := p.Length
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(p.Data, buf[:n]); err != nil {
			return faults.WrapIO(err, "read chunk from source")
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return faults.WrapConnection(err, "write chunk payload")
		}
		remaining -= n
	}
	return nil
}

// readFrame reads one frame from r and writes its payload into the file
// dest_root/relative_path at the announced offset, creating parent
// directories as needed.
func readFrame(r io.Reader, destRoot string) (rel string, length int64, err error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return "", 0, faults.WrapProtocol(err, "truncated frame header")
	}

	pathLen := binary.BigEndian.Uint32(header[0:4])
	offset := int64(binary.BigEndian.Uint64(header[8:16]))
	length = int64(binary.BigEndian.Uint64(header[16:24]))
	if pathLen == 0 || pathLen > maxPathLength {
		return "", 0, faults.Protocolf("invalid path length %d in frame header", pathLen)
	}
	if offset < 0 || length < 0 {
		return "", 0, faults.Protocolf("invalid frame range offset=%d length=%d", offset, length)
	}

	pathBytes := make([]byte, pathLen)
	if _, err := io.ReadFull(r, pathBytes); err != nil {
		return "", 0, faults.WrapProtocol(err, "truncated frame path")
	}
	rel = string(pathBytes)
	if err := validateRelPath(rel); err != nil {
		return rel, 0, err
	}

	destPath := filepath.Join(destRoot, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return rel, 0, faults.WrapIO(err, "create destination directories")
	}
	f, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return rel, 0, faults.WrapIO(err, "open destination file")
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return rel, 0, faults.WrapIO(err, "seek destination file")
	}

	buf := framePool.Get()
	defer framePool.Put(buf)

	remaining := length
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return rel, 0, faults.WrapProtocol(err, "premature end of chunk stream")
			}
			return rel, 0, faults.WrapConnection(err, "read chunk payload")
		}
		if _, err := f.Write(buf[:n]); err != nil {
			return rel, 0, faults.WrapIO(err, "write destination file")
		}
		remaining -= n
	}
	return rel, length, nil
}

// validateRelPath rejects absolute paths and parent-directory traversal.
func validateRelPath(rel string) error {
	if strings.HasPrefix(rel, "/") || strings.Contains(rel, "\x00") {
		return faults.Protocolf("invalid relative path %q", rel)
	}
	clean := path.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return faults.Protocolf("relative path %q escapes destination root", rel)
	}
	return nil
}
