package source

import (
	"context"
	"errors"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultBlockSize is the granularity of cached range reads.
const DefaultBlockSize = 512 * 1024

// BlockCache is a shared LRU of fixed-size blocks keyed by (url, block index).
// Wrapping a RangeReader with it turns arbitrary ranged reads into
// block-aligned reads against the underlying source, so repeated requests for
// the same raster (headers, neighboring tiles) stop hitting the backend.
type BlockCache struct {
	blockSize int64
	blocks    *lru.Cache[string, []byte]
}

// NewBlockCache creates a cache holding up to maxBlocks blocks of blockSize
// bytes each. blockSize <= 0 selects DefaultBlockSize.
func NewBlockCache(blockSize int64, maxBlocks int) (*BlockCache, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if maxBlocks <= 0 {
		return nil, fmt.Errorf("block cache needs a positive capacity, got %d", maxBlocks)
	}
	blocks, err := lru.New[string, []byte](maxBlocks)
	if err != nil {
		return nil, err
	}
	return &BlockCache{blockSize: blockSize, blocks: blocks}, nil
}

// Wrap returns a RangeReader that satisfies reads from the cache, falling
// back to src block by block.
func (c *BlockCache) Wrap(src RangeReader) RangeReader {
	return &cachingSource{src: src, cache: c}
}

// Len reports how many blocks are currently cached.
func (c *BlockCache) Len() int { return c.blocks.Len() }

type cachingSource struct {
	src   RangeReader
	cache *BlockCache
}

func (s *cachingSource) ReadRange(ctx context.Context, off int64, n int) ([]byte, error) {
	if off < 0 || n < 0 {
		return nil, fmt.Errorf("invalid range %d+%d", off, n)
	}
	if n == 0 {
		return nil, nil
	}

	bs := s.cache.blockSize
	out := make([]byte, 0, n)
	for idx := off / bs; int64(len(out)) < int64(n); idx++ {
		block, err := s.block(ctx, idx)
		if err != nil {
			// A missing first block is a real error; a short tail just ends
			// the read early.
			if len(out) > 0 && errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, err
		}

		start := int64(0)
		if idx == off/bs {
			start = off - idx*bs
		}
		if start >= int64(len(block)) {
			break
		}
		out = append(out, block[start:]...)
		if int64(len(block)) < bs {
			break // hit end of file
		}
	}
	if int64(len(out)) > int64(n) {
		out = out[:n]
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("read at %d past end of %s: %w", off, s.src.URL(), io.ErrUnexpectedEOF)
	}
	return out, nil
}

func (s *cachingSource) block(ctx context.Context, idx int64) ([]byte, error) {
	key := fmt.Sprintf("%s#%d", s.src.URL(), idx)
	if block, ok := s.cache.blocks.Get(key); ok {
		return block, nil
	}
	block, err := s.src.ReadRange(ctx, idx*s.cache.blockSize, int(s.cache.blockSize))
	if err != nil {
		return nil, err
	}
	s.cache.blocks.Add(key, block)
	return block, nil
}

func (s *cachingSource) Size() int64 { return s.src.Size() }

func (s *cachingSource) URL() string { return s.src.URL() }

func (s *cachingSource) Close() error { return s.src.Close() }
