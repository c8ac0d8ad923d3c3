// Package chunker plans chunk-granular transfers: it enumerates the
// regular files under a root and splits each file into contiguous,
// non-overlapping byte ranges.
package chunker

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/treemover/treemover/internal/faults"
)

// FileChunk describes one contiguous byte range of a file. For a file of
// size S and chunk size C the chunk set partitions [0, S) exactly: offsets
// strictly increasing, no gaps, no overlaps, last chunk possibly shorter
// than C. A zero-byte file yields a single chunk of size 0.
type FileChunk struct {
	Path   string
	Offset int64
	Size   int64
}

// ChunkFile splits the file at path into chunks of at most chunkSize bytes.
func ChunkFile(path string, chunkSize int64) ([]FileChunk, error) {
	if chunkSize <= 0 {
		return nil, faults.Configf("chunk size must be positive, got %d", chunkSize)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, faults.WrapIO(err, "stat source file")
	}
	if !info.Mode().IsRegular() {
		return nil, faults.IOf("not a regular file: %s", path)
	}

	size := info.Size()
	if size == 0 {
		return []FileChunk{{Path: path, Offset: 0, Size: 0}}, nil
	}

	chunks := make([]FileChunk, 0, (size+chunkSize-1)/chunkSize)
	for offset := int64(0); offset < size; offset += chunkSize {
		n := chunkSize
		if remaining := size - offset; remaining < n {
			n = remaining
		}
		chunks = append(chunks, FileChunk{Path: path, Offset: offset, Size: n})
	}
	return chunks, nil
}

// EnumerateFiles returns every regular file reachable under root, or root
// itself if it is a regular file. Paths are returned in lexicographic order
// of their slash-normalized path relative to root; this order is stable
// across runs and determines chunk assignment order.
func EnumerateFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, faults.WrapIO(err, "stat transfer root")
	}
	if info.Mode().IsRegular() {
		return []string{root}, nil
	}
	if !info.IsDir() {
		return nil, faults.IOf("not a regular file or directory: %s", root)
	}

	type entry struct {
		rel  string
		path string
	}
	var entries []entry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		entries = append(entries, entry{rel: filepath.ToSlash(rel), path: path})
		return nil
	})
	if err != nil {
		return nil, faults.WrapIO(err, "walk transfer root")
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })
	files := make([]string, len(entries))
	for i, e := range entries {
		files[i] = e.path
	}
	return files, nil
}

// RelativePath returns the slash-normalized path of file relative to root.
// If file equals root (single-file transfer), the base name is returned.
func RelativePath(root, file string) (string, error) {
	if file == root {
		return filepath.Base(file), nil
	}
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return "", faults.WrapIO(err, "relativize path")
	}
	return filepath.ToSlash(rel), nil
}

// TotalSize sums the sizes of the given files.
func TotalSize(files []string) (int64, error) {
	var total int64
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			return 0, faults.WrapIO(err, "stat source file")
		}
		total += info.Size()
	}
	return total, nil
}
