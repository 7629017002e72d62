package query

import (
	"context"
	"fmt"
)

// Get is Fetch with a typed fetcher.
func Get[T any](ctx context.Context, c *Cache, key Key, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	value, err := c.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("query: entry %s holds %T", key.Tag(), value)
	}
	return typed, nil
}

// Subscribe is Cache.Subscribe with a typed fetcher.
func Subscribe[T any](ctx context.Context, c *Cache, key Key, fetch func(ctx context.Context) (T, error)) (*Subscription, error) {
	return c.Subscribe(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
}
