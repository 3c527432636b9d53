package shift

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"github.com/fuelops/stationledger/internal/reconcile"
	"github.com/fuelops/stationledger/internal/shared"
)

// PreviewCache memoises preview breakdowns in redis keyed by the shift version and the request.
type PreviewCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewPreviewCache returns nil when no redis client is configured.
func NewPreviewCache(client *redis.Client, ttl time.Duration) *PreviewCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &PreviewCache{client: client, ttl: ttl}
}

func previewKey(sh Shift, in PreviewInput) (string, error) {
	raw, err := json.Marshal(struct {
		Version int64        `json:"v"`
		Input   PreviewInput `json:"in"`
	}{sh.UpdatedAt.UnixNano(), in})
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(raw)
	return shared.PreviewCacheKey(sh.ID.String(), hex.EncodeToString(sum[:16])), nil
}

// Fetch returns the cached breakdowns or builds them once across concurrent callers.
func (c *PreviewCache) Fetch(ctx context.Context, sh Shift, in PreviewInput, build func(context.Context) ([]reconcile.PumperBreakdown, error)) ([]reconcile.PumperBreakdown, error) {
	if c == nil {
		return build(ctx)
	}
	key, err := previewKey(sh, in)
	if err != nil {
		return nil, err
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var rows []reconcile.PumperBreakdown
		if err := json.Unmarshal(payload, &rows); err == nil {
			return rows, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return build(ctx)
	}

	// The build is shared, so one caller's cancellation must not fail the others.
	buildCtx := context.WithoutCancel(ctx)
	resultChan := c.group.DoChan(key, func() (interface{}, error) {
		rows, err := build(buildCtx)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(rows); err == nil {
			_ = c.client.Set(buildCtx, key, raw, c.ttl).Err()
		}
		return rows, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]reconcile.PumperBreakdown), nil
	}
}
