package index

import (
	"fmt"
	"os"

	mmap "github.com/blevesearch/mmap-go"

	xerrors "github.com/Aman-CERP/xrefsearch/internal/errors"
)

// mappedFile is a read-only memory mapping of an index file. The mapping is
// shared by every request goroutine; nothing ever writes through it.
type mappedFile struct {
	path string
	data []byte
	m    mmap.MMap
}

// openMapped maps path read-only. Zero-length files cannot be mapped and are
// represented by an empty buffer, which every lookup treats as "no records".
func openMapped(path string) (*mappedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xerrors.New(xerrors.ErrCodeIndexMissing, fmt.Sprintf("index file %s not found", path), err)
		}
		return nil, xerrors.New(xerrors.ErrCodeIndexMap, fmt.Sprintf("open %s", path), err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, xerrors.New(xerrors.ErrCodeIndexMap, fmt.Sprintf("stat %s", path), err)
	}
	if info.Size() == 0 {
		return &mappedFile{path: path}, nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, xerrors.New(xerrors.ErrCodeIndexMap, fmt.Sprintf("mmap %s", path), err)
	}
	return &mappedFile{path: path, data: m, m: m}, nil
}

// Bytes returns the mapped contents.
func (mf *mappedFile) Bytes() []byte {
	if mf == nil {
		return nil
	}
	return mf.data
}

// Close unmaps the file. The buffer must not be used afterwards.
func (mf *mappedFile) Close() error {
	if mf == nil || mf.m == nil {
		return nil
	}
	err := mf.m.Unmap()
	mf.m = nil
	mf.data = nil
	return err
}
