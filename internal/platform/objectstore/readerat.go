package objectstore

import (
	"context"
	"fmt"
	"io"
	"sync"
)

const defaultBlockSize = 256 << 10

// ReaderAt serves random reads over a Store with ranged requests, keeping a
// small cache of fixed-size blocks. PDF parsers seek heavily near the end of
// the file and around the xref table, so most reads hit the cache.
type ReaderAt struct {
	ctx       context.Context
	store     Store
	key       string
	size      int64
	blockSize int64
	maxBlocks int

	mu     sync.Mutex
	blocks map[int64][]byte
	order  []int64
	// Fetches counts ranged requests issued.
	Fetches int
}

func NewReaderAt(ctx context.Context, store Store, key string) (*ReaderAt, error) {
	size, err := store.Size(ctx, key)
	if err != nil {
		return nil, err
	}
	return &ReaderAt{
		ctx:       ctx,
		store:     store,
		key:       key,
		size:      size,
		blockSize: defaultBlockSize,
		maxBlocks: 64,
		blocks:    make(map[int64][]byte),
	}, nil
}

func (r *ReaderAt) Size() int64 { return r.size }

func (r *ReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("objectstore: negative offset %d", off)
	}
	if off >= r.size {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) && off < r.size {
		idx := off / r.blockSize
		blk, err := r.block(idx)
		if err != nil {
			return n, err
		}
		within := off - idx*r.blockSize
		if within >= int64(len(blk)) {
			break
		}
		c := copy(p[n:], blk[within:])
		n += c
		off += int64(c)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *ReaderAt) block(idx int64) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.blocks[idx]; ok {
		return b, nil
	}
	start := idx * r.blockSize
	length := r.blockSize
	if start+length > r.size {
		length = r.size - start
	}
	rc, err := r.store.OpenRange(r.ctx, r.key, start, length)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	buf, err := io.ReadAll(io.LimitReader(rc, length))
	if err != nil {
		return nil, fmt.Errorf("objectstore: read %s [%d,+%d): %w", r.key, start, length, err)
	}
	r.Fetches++
	if len(r.order) >= r.maxBlocks {
		evict := r.order[0]
		r.order = r.order[1:]
		delete(r.blocks, evict)
	}
	r.blocks[idx] = buf
	r.order = append(r.order, idx)
	return buf, nil
}
