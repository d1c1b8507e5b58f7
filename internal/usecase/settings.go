package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
)

type ParamGetter interface {
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
}

// paramCache loads a fixed set of SSM parameters once per process. A failed
// load is not cached, so the next invocation tries again.
type paramCache struct {
	params ParamGetter
	prefix string
	keys   []string

	mu     sync.RWMutex
	loaded bool
	values map[string]string
}

func newParamCache(p ParamGetter, prefix string, keys ...string) (*paramCache, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	return &paramCache{params: p, prefix: prefix, keys: keys}, nil
}

// load returns the cached values keyed by the suffix passed to newParamCache.
func (c *paramCache) load(ctx context.Context) (map[string]string, error) {
	c.mu.RLock()
	if c.loaded {
		v := c.values
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.values, nil
	}

	names := make([]string, 0, len(c.keys))
	for _, k := range c.keys {
		names = append(names, c.prefix+k)
	}
	raw, err := c.params.GetParameters(ctx, names...)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(c.keys))
	for _, k := range c.keys {
		v := strings.TrimSpace(raw[c.prefix+k])
		if v == "" {
			return nil, errors.New("usecase: parameter " + c.prefix + k + " is empty")
		}
		values[k] = v
	}
	c.values = values
	c.loaded = true
	return values, nil
}
