package store

import "errors"

var (
	// ErrCacheMiss is returned by Cache.Get when the key is absent.
	ErrCacheMiss = errors.New("cache miss")
	// ErrDurableMiss is returned by Durable.Get when no row exists.
	ErrDurableMiss = errors.New("no durable record")
	// ErrEntityNotFound means the entity is absent from both tiers.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("store is closed")
)
