package store

import (
	"context"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// MemoryCache is a sharded in-memory Cache. It backs tests and single-node
// runs where no redis is configured; shard selection hashes the key so hot
// rooms do not contend on one lock.
type MemoryCache struct {
	shards    []memoryShard
	shardMask uint64
	closed    bool
	mu        sync.RWMutex // guards closed
}

type memoryShard struct {
	mu      sync.RWMutex
	strings map[string]string
	sets    map[string]map[string]struct{}
}

// NewMemoryCache creates a cache with shardCount shards, rounded up to a
// power of two.
func NewMemoryCache(shardCount int) *MemoryCache {
	if shardCount < 1 {
		shardCount = 1
	}
	if shardCount&(shardCount-1) != 0 {
		shardCount = nextPowerOf2(shardCount)
	}

	shards := make([]memoryShard, shardCount)
	for i := range shards {
		shards[i].strings = make(map[string]string)
		shards[i].sets = make(map[string]map[string]struct{})
	}

	return &MemoryCache{
		shards:    shards,
		shardMask: uint64(shardCount - 1),
	}
}

func nextPowerOf2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (c *MemoryCache) shardFor(key string) *memoryShard {
	return &c.shards[xxhash.Sum64String(key)&c.shardMask]
}

func (c *MemoryCache) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrStoreClosed
	}
	return nil
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	sd := c.shardFor(key)
	sd.mu.RLock()
	defer sd.mu.RUnlock()
	val, ok := sd.strings[key]
	if !ok {
		return "", ErrCacheMiss
	}
	return val, nil
}

func (c *MemoryCache) Set(_ context.Context, key, value string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	sd := c.shardFor(key)
	sd.mu.Lock()
	defer sd.mu.Unlock()
	sd.strings[key] = value
	return nil
}

func (c *MemoryCache) Del(_ context.Context, keys ...string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	for _, key := range keys {
		sd := c.shardFor(key)
		sd.mu.Lock()
		delete(sd.strings, key)
		delete(sd.sets, key)
		sd.mu.Unlock()
	}
	return nil
}

func (c *MemoryCache) SAdd(_ context.Context, key string, members ...string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	sd := c.shardFor(key)
	sd.mu.Lock()
	defer sd.mu.Unlock()
	sd.addMembers(key, members)
	return nil
}

func (c *MemoryCache) SRem(_ context.Context, key string, members ...string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	sd := c.shardFor(key)
	sd.mu.Lock()
	defer sd.mu.Unlock()
	sd.removeMembers(key, members)
	return nil
}

func (c *MemoryCache) SMembers(_ context.Context, key string) ([]string, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	sd := c.shardFor(key)
	sd.mu.RLock()
	defer sd.mu.RUnlock()
	set, ok := sd.sets[key]
	if !ok {
		return nil, nil
	}
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	sort.Strings(members)
	return members, nil
}

// Pipeline locks every involved shard in index order, applies all ops, then
// releases. Readers observe either none or all of the pipeline's effects.
func (c *MemoryCache) Pipeline(_ context.Context, ops []CacheOp) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	indexes := make(map[uint64]struct{}, len(ops))
	for _, op := range ops {
		indexes[xxhash.Sum64String(op.Key)&c.shardMask] = struct{}{}
	}
	order := make([]uint64, 0, len(indexes))
	for i := range indexes {
		order = append(order, i)
	}
	sort.Slice(order, func(a, b int) bool { return order[a] < order[b] })

	for _, i := range order {
		c.shards[i].mu.Lock()
	}
	defer func() {
		for _, i := range order {
			c.shards[i].mu.Unlock()
		}
	}()

	for _, op := range ops {
		sd := c.shardFor(op.Key)
		switch op.Kind {
		case OpSet:
			sd.strings[op.Key] = op.Value
		case OpDel:
			delete(sd.strings, op.Key)
			delete(sd.sets, op.Key)
		case OpSAdd:
			sd.addMembers(op.Key, op.Members)
		case OpSRem:
			sd.removeMembers(op.Key, op.Members)
		}
	}
	return nil
}

func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (sd *memoryShard) addMembers(key string, members []string) {
	set, ok := sd.sets[key]
	if !ok {
		set = make(map[string]struct{})
		sd.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
}

func (sd *memoryShard) removeMembers(key string, members []string) {
	set, ok := sd.sets[key]
	if !ok {
		return
	}
	for _, m := range members {
		delete(set, m)
	}
	if len(set) == 0 {
		delete(sd.sets, key)
	}
}
