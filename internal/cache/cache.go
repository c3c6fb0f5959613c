// File: internal/cache/cache.go
// Description: Attack chain cache keyed by a findings signature and the vulnerability set. A
// bounded in-memory LRU with per-entry TTL, an optional persistent second tier and
// single-flight computation for concurrent identical signatures.

package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
	"github.com/xkilldash9x/scalpel-contract/internal/config"
)

const (
	DefaultTTL        = 24 * time.Hour
	DefaultMaxEntries = 128
)

// canonical sorts map keys so equal values always encode to equal bytes.
var canonical = jsoniter.Config{SortMapKeys: true, EscapeHTML: false}.Froze()

// Signature is the hex SHA-256 of the findings encoded in ID order. It does not
// depend on the order of the input slice.
func Signature(findings []schemas.Finding) (string, error) {
	encoded := make([][]byte, len(findings))
	order := make([]int, len(findings))
	for i, f := range findings {
		b, err := canonical.Marshal(f)
		if err != nil {
			return "", fmt.Errorf("failed to encode finding %s: %w", f.ID, err)
		}
		encoded[i] = b
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		fa, fb := findings[order[a]], findings[order[b]]
		if fa.ID != fb.ID {
			return fa.ID < fb.ID
		}
		return string(encoded[order[a]]) < string(encoded[order[b]])
	})

	h := sha256.New()
	h.Write([]byte("["))
	for i, idx := range order {
		if i > 0 {
			h.Write([]byte(","))
		}
		h.Write(encoded[idx])
	}
	h.Write([]byte("]"))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Key derives the cache key for one reasoning run from the findings signature and
// the IDs of the vulnerabilities handed to it. The same findings reasoned over a
// different vulnerability set get a different key. Vulnerability order does not
// matter.
func Key(signature string, vulns []schemas.Vulnerability) string {
	ids := make([]string, len(vulns))
	for i, v := range vulns {
		ids[i] = v.ID
	}
	sort.Strings(ids)

	h := sha256.New()
	h.Write([]byte(signature))
	for _, id := range ids {
		h.Write([]byte{0})
		h.Write([]byte(id))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Cacheable reports whether an orchestration result may be stored. Only clean,
// completed runs qualify.
func Cacheable(r *schemas.ChainReport) bool {
	return r != nil && r.State == "DONE" && !r.Degraded()
}

type entry struct {
	signature string
	report    *schemas.ChainReport
	createdAt time.Time
	ttl       time.Duration
}

func (e *entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.After(e.createdAt.Add(e.ttl))
}

// ComputeFunc produces the report for a signature on a cache miss.
type ComputeFunc func(ctx context.Context) (*schemas.ChainReport, error)

// Cache is safe for concurrent use.
type Cache struct {
	mu    sync.Mutex
	ttl   time.Duration
	max   int
	ll    *list.List
	items map[string]*list.Element

	group  singleflight.Group
	store  schemas.ReportStore
	logger *zap.Logger
	now    func() time.Time
}

// New creates a cache. store may be nil, which disables the persistent tier.
func New(cfg config.CacheConfig, store schemas.ReportStore, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	return &Cache{
		ttl:    cfg.TTL,
		max:    cfg.MaxEntries,
		ll:     list.New(),
		items:  make(map[string]*list.Element),
		store:  store,
		logger: logger.Named("chain_cache"),
		now:    time.Now,
	}
}

// Len returns the number of in-memory entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Get returns a copy of the cached report. The memory tier is consulted first,
// then the persistent tier; a persistent hit is promoted into memory.
func (c *Cache) Get(ctx context.Context, signature string) (*schemas.ChainReport, bool) {
	if r, ok := c.getMemory(signature); ok {
		return r, true
	}
	if c.store == nil {
		return nil, false
	}

	e, err := c.store.LoadCacheEntry(ctx, signature)
	if err != nil {
		c.logger.Warn("Persistent cache lookup failed", zap.String("signature", signature), zap.Error(err))
		return nil, false
	}
	if e == nil || e.Report == nil {
		return nil, false
	}
	now := c.now()
	if e.Expired(now) {
		if err := c.store.DeleteCacheEntry(ctx, signature); err != nil {
			c.logger.Warn("Failed to delete expired cache entry", zap.String("signature", signature), zap.Error(err))
		}
		return nil, false
	}
	c.putMemory(signature, e.Report, e.CreatedAt, e.TTL)
	c.logger.Debug("Promoted persistent cache entry", zap.String("signature", signature))
	return clone(e.Report), true
}

// Put stores a copy of the report under signature. A ttl of zero uses the default.
func (c *Cache) Put(ctx context.Context, signature string, report *schemas.ChainReport, ttl time.Duration) {
	if report == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	created := c.now()
	c.putMemory(signature, report, created, ttl)
	if c.store == nil {
		return
	}
	err := c.store.SaveCacheEntry(ctx, schemas.CacheEntry{
		Signature: signature,
		Report:    clone(report),
		CreatedAt: created,
		TTL:       ttl,
	})
	if err != nil {
		c.logger.Warn("Persistent cache write failed", zap.String("signature", signature), zap.Error(err))
	}
}

// Invalidate removes a signature from both tiers.
func (c *Cache) Invalidate(ctx context.Context, signature string) {
	c.mu.Lock()
	if el, ok := c.items[signature]; ok {
		c.removeElement(el)
	}
	c.mu.Unlock()
	if c.store != nil {
		if err := c.store.DeleteCacheEntry(ctx, signature); err != nil {
			c.logger.Warn("Persistent cache delete failed", zap.String("signature", signature), zap.Error(err))
		}
	}
}

// GetOrCompute returns the cached report for signature or computes it. Concurrent
// callers with the same signature share one computation. The computation runs on
// a context detached from the caller, so a caller giving up does not abort it for
// the others; that caller just returns ctx.Err(). The bool reports a cache hit.
func (c *Cache) GetOrCompute(ctx context.Context, signature string, fn ComputeFunc) (*schemas.ChainReport, bool, error) {
	if r, ok := c.Get(ctx, signature); ok {
		return r, true, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(signature, func() (interface{}, error) {
		// A concurrent leader may have filled the entry between the miss and here.
		if r, ok := c.getMemory(signature); ok {
			return r, nil
		}
		r, err := fn(detached)
		if err != nil {
			return r, err
		}
		if Cacheable(r) {
			c.Put(detached, signature, r, 0)
		} else {
			c.logger.Debug("Result not cached",
				zap.String("signature", signature),
				zap.Bool("degraded", r.Degraded()))
		}
		return r, nil
	})

	select {
	case res := <-ch:
		r, _ := res.Val.(*schemas.ChainReport)
		if res.Shared {
			r = clone(r)
		}
		return r, false, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (c *Cache) getMemory(signature string) (*schemas.ChainReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[signature]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if e.expired(c.now()) {
		c.removeElement(el)
		return nil, false
	}
	c.ll.MoveToFront(el)
	return clone(e.report), true
}

func (c *Cache) putMemory(signature string, report *schemas.ChainReport, created time.Time, ttl time.Duration) {
	stored := clone(report)
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[signature]; ok {
		e := el.Value.(*entry)
		e.report, e.createdAt, e.ttl = stored, created, ttl
		c.ll.MoveToFront(el)
		return
	}
	c.items[signature] = c.ll.PushFront(&entry{signature: signature, report: stored, createdAt: created, ttl: ttl})
	for c.ll.Len() > c.max {
		oldest := c.ll.Back()
		c.logger.Debug("Evicting least recently used entry", zap.String("signature", oldest.Value.(*entry).signature))
		c.removeElement(oldest)
	}
}

// removeElement requires c.mu.
func (c *Cache) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*entry).signature)
}

// clone deep-copies a report so cached values are never aliased by callers.
func clone(r *schemas.ChainReport) *schemas.ChainReport {
	if r == nil {
		return nil
	}
	b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(r)
	if err != nil {
		cp := *r
		return &cp
	}
	var out schemas.ChainReport
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(b, &out); err != nil {
		cp := *r
		return &cp
	}
	return &out
}
