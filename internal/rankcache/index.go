// Package rankcache mirrors the materialized ranking into Redis for fast
// neighbor lookups and provides the lock that keeps ranking runs from
// overlapping across processes.
package rankcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/abhisek/chapterquiz/internal/ranking"
)

// DefaultPrefix namespaces every key the package writes.
const DefaultPrefix = "chapterquiz"

// Index keeps the ranking as a sorted set scored by rank plus a hash of
// encoded entries.
type Index struct {
	client *redis.Client
	prefix string
}

var _ ranking.Index = (*Index)(nil)

// NewIndex creates an index under prefix (DefaultPrefix when empty).
func NewIndex(client *redis.Client, prefix string) *Index {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Index{client: client, prefix: prefix}
}

func (x *Index) ranksKey() string   { return fmt.Sprintf("%s:ranking:rank", x.prefix) }
func (x *Index) entriesKey() string { return fmt.Sprintf("%s:ranking:entries", x.prefix) }

// Replace swaps the indexed ranking for entries atomically.
func (x *Index) Replace(ctx context.Context, entries []ranking.Entry) error {
	members := make([]redis.Z, 0, len(entries))
	fields := make(map[string]any, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode entry %s: %w", e.UserID, err)
		}
		members = append(members, redis.Z{Score: float64(e.Rank), Member: e.UserID})
		fields[e.UserID] = data
	}

	_, err := x.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, x.ranksKey(), x.entriesKey())
		if len(members) > 0 {
			pipe.ZAdd(ctx, x.ranksKey(), members...)
			pipe.HSet(ctx, x.entriesKey(), fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace ranking index: %w", err)
	}
	return nil
}

// Neighborhood returns the user's entry with up to k neighbors on each
// side, or nil when the user is not indexed.
func (x *Index) Neighborhood(ctx context.Context, userID string, k int) (*ranking.Neighborhood, error) {
	pos, err := x.client.ZRank(ctx, x.ranksKey(), userID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rank lookup: %w", err)
	}

	k = max(k, 0)
	start := max(pos-int64(k), 0)
	ids, err := x.client.ZRange(ctx, x.ranksKey(), start, pos+int64(k)).Result()
	if err != nil {
		return nil, fmt.Errorf("range lookup: %w", err)
	}

	vals, err := x.client.HMGet(ctx, x.entriesKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("entry lookup: %w", err)
	}

	n := &ranking.Neighborhood{Above: []ranking.Entry{}, Below: []ranking.Entry{}}
	self := int(pos - start)
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// Sorted set and hash disagree; let the caller use the store.
			return nil, fmt.Errorf("entry for %s missing from index", ids[i])
		}
		var e ranking.Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode entry %s: %w", ids[i], err)
		}
		switch {
		case i < self:
			n.Above = append(n.Above, e)
		case i == self:
			n.Self = e
		default:
			n.Below = append(n.Below, e)
		}
	}
	return n, nil
}
