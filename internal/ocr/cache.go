package ocr

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru"

	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

// Cached memoises page results keyed by source content hash and page
// position. Pages without a content hash in ctx bypass the cache.
type Cached struct {
	inner  Recognizer
	cache  *lru.Cache
	logger *slog.Logger
}

func NewCached(inner Recognizer, size int, logger *slog.Logger) (*Cached, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 256
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("ocr cache: %w", err)
	}
	return &Cached{inner: inner, cache: c, logger: logger}, nil
}

func (c *Cached) Recognize(ctx context.Context, page entity.Page) (Result, error) {
	hash, ok := contentHashFromCtx(ctx)
	if !ok {
		return c.inner.Recognize(ctx, page)
	}
	key := fmt.Sprintf("%s|%s|%d", hash, page.Entry, page.Index)
	if v, ok := c.cache.Get(key); ok {
		c.logger.Debug("ocr.cache.hit", "page", page.Index, "entry", page.Entry)
		return v.(Result), nil
	}
	res, err := c.inner.Recognize(ctx, page)
	if err != nil {
		return res, err
	}
	c.cache.Add(key, res)
	return res, nil
}

// Len reports the number of cached pages.
func (c *Cached) Len() int { return c.cache.Len() }
