// Package enroll holds the owner's reference embeddings.
//
// A ReferenceSet is loaded once at startup and never modified afterwards.
// Re-enrollment writes a whole new cache file.
package enroll

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	cacheMagic   = "VSGE"
	cacheVersion = uint32(1)
)

var (
	// ErrEmptySet is returned when there is nothing to persist or load.
	ErrEmptySet = errors.New("reference set is empty")
	// ErrDimMismatch is returned when vectors of different sizes are mixed.
	ErrDimMismatch = errors.New("reference vectors differ in dimension")
	// ErrBadCache is returned for cache files that are not ours or are truncated.
	ErrBadCache = errors.New("invalid embeddings cache")
)

// ReferenceSet is an immutable, ordered set of equally sized embeddings.
type ReferenceSet struct {
	vectors [][]float32
	dim     int
}

// NewReferenceSet copies vectors into a new set. All vectors must share one dimension.
func NewReferenceSet(vectors [][]float32) (*ReferenceSet, error) {
	if len(vectors) == 0 {
		return nil, ErrEmptySet
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: zero-length vector", ErrDimMismatch)
	}

	copied := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: row %d has %d, want %d", ErrDimMismatch, i, len(v), dim)
		}
		copied[i] = append([]float32(nil), v...)
	}
	return &ReferenceSet{vectors: copied, dim: dim}, nil
}

// Len returns the number of reference vectors. A nil set has length 0.
func (s *ReferenceSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.vectors)
}

// Dim returns the shared vector dimension.
func (s *ReferenceSet) Dim() int {
	if s == nil {
		return 0
	}
	return s.dim
}

// Vectors returns the rows. Callers must not modify them.
func (s *ReferenceSet) Vectors() [][]float32 {
	if s == nil {
		return nil
	}
	return s.vectors
}

// Save writes the set to path, replacing any previous cache.
func Save(path string, set *ReferenceSet) error {
	if set.Len() == 0 {
		return ErrEmptySet
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".features-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := encode(w, set); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads a cache written by Save.
func Load(path string) (*ReferenceSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decode(bytes.NewReader(data))
}

func encode(w io.Writer, set *ReferenceSet) error {
	if _, err := io.WriteString(w, cacheMagic); err != nil {
		return err
	}
	header := []uint32{cacheVersion, uint32(set.Len()), uint32(set.Dim())}
	if err := binary.Write(w, binary.BigEndian, header); err != nil {
		return err
	}
	for _, v := range set.vectors {
		if err := binary.Write(w, binary.BigEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func decode(r *bytes.Reader) (*ReferenceSet, error) {
	magic := make([]byte, len(cacheMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != cacheMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrBadCache)
	}

	var header [3]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: short header", ErrBadCache)
	}
	version, rows, dim := header[0], header[1], header[2]
	if version != cacheVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadCache, version)
	}
	if rows == 0 || dim == 0 {
		return nil, fmt.Errorf("%w: %d rows of dimension %d", ErrBadCache, rows, dim)
	}
	if want := int64(rows) * int64(dim) * 4; int64(r.Len()) != want {
		return nil, fmt.Errorf("%w: expected %d bytes of vectors, found %d", ErrBadCache, want, r.Len())
	}

	vectors := make([][]float32, rows)
	for i := range vectors {
		vectors[i] = make([]float32, dim)
		if err := binary.Read(r, binary.BigEndian, vectors[i]); err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrBadCache, i, err)
		}
	}
	return &ReferenceSet{vectors: vectors, dim: int(dim)}, nil
}
