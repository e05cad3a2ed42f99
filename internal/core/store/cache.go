package store

import "context"

// Cache is the low-latency key-value tier holding live session state. It is
// authoritative for any entity with an active session; the durable tier may
// lag it by one write.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, keys ...string) error

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// Pipeline applies ops as one atomic unit. Mutations that pair an entity
	// write with its room-index update go through here so a room never
	// references an id whose entity write was lost.
	Pipeline(ctx context.Context, ops []CacheOp) error

	Close() error
}

// CacheOpKind discriminates pipeline operations.
type CacheOpKind uint8

const (
	OpSet CacheOpKind = iota
	OpDel
	OpSAdd
	OpSRem
)

// CacheOp is one step of an atomic pipeline.
type CacheOp struct {
	Kind    CacheOpKind
	Key     string
	Value   string
	Members []string
}

func SetOp(key, value string) CacheOp {
	return CacheOp{Kind: OpSet, Key: key, Value: value}
}

func DelOp(key string) CacheOp {
	return CacheOp{Kind: OpDel, Key: key}
}

func SAddOp(key string, members ...string) CacheOp {
	return CacheOp{Kind: OpSAdd, Key: key, Members: members}
}

func SRemOp(key string, members ...string) CacheOp {
	return CacheOp{Kind: OpSRem, Key: key, Members: members}
}
