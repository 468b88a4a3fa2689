package store

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"customerintel/pkg/types"
)

// RedisStore keeps the current segment set and the per-customer membership
// histories. Segments are replaced wholesale on every clustering run;
// membership records only accumulate.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore parses a redis:// URL, connects and pings.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

func segmentsKey(orgID string) string { return "ci:segments:" + orgID }

func membershipKey(orgID, customerID string) string {
	return "ci:memberships:" + orgID + ":" + customerID
}

func membershipIndexKey(orgID string) string { return "ci:memberships:" + orgID + ":index" }

// ReplaceSegments overwrites the organization's segment set.
func (s *RedisStore) ReplaceSegments(ctx context.Context, orgID string, segments []types.Segment) error {
	data, err := sonic.Marshal(segments)
	if err != nil {
		return fmt.Errorf("marshaling segments: %w", err)
	}
	if err := s.client.Set(ctx, segmentsKey(orgID), data, 0).Err(); err != nil {
		return fmt.Errorf("storing segments for %s: %w", orgID, err)
	}
	return nil
}

// Segments returns the segment set from the latest clustering run, or nil
// when no run has stored one yet.
func (s *RedisStore) Segments(ctx context.Context, orgID string) ([]types.Segment, error) {
	data, err := s.client.Get(ctx, segmentsKey(orgID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading segments for %s: %w", orgID, err)
	}
	var segments []types.Segment
	if err := sonic.Unmarshal(data, &segments); err != nil {
		return nil, fmt.Errorf("unmarshaling segments: %w", err)
	}
	return segments, nil
}

// AppendMemberships appends one record per customer to their history list
// and tracks the customer in the organization's index set.
func (s *RedisStore) AppendMemberships(ctx context.Context, orgID string, records []types.SegmentMembershipRecord) error {
	pipe := s.client.Pipeline()
	for _, rec := range records {
		data, err := sonic.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshaling membership for %s: %w", rec.CustomerID, err)
		}
		pipe.RPush(ctx, membershipKey(orgID, rec.CustomerID), data)
		pipe.SAdd(ctx, membershipIndexKey(orgID), rec.CustomerID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storing memberships for %s: %w", orgID, err)
	}
	return nil
}

// Histories returns every customer's membership records in append order.
func (s *RedisStore) Histories(ctx context.Context, orgID string) (map[string][]types.SegmentMembershipRecord, error) {
	customerIDs, err := s.client.SMembers(ctx, membershipIndexKey(orgID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing customers for %s: %w", orgID, err)
	}

	histories := make(map[string][]types.SegmentMembershipRecord, len(customerIDs))
	for _, cid := range customerIDs {
		raw, err := s.client.LRange(ctx, membershipKey(orgID, cid), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("loading history for %s: %w", cid, err)
		}
		records := make([]types.SegmentMembershipRecord, 0, len(raw))
		for _, item := range raw {
			var rec types.SegmentMembershipRecord
			if err := sonic.Unmarshal([]byte(item), &rec); err != nil {
				return nil, fmt.Errorf("unmarshaling membership for %s: %w", cid, err)
			}
			records = append(records, rec)
		}
		histories[cid] = records
	}
	return histories, nil
}

// ExpireHistories sets a TTL on every membership list, bounding retention.
func (s *RedisStore) ExpireHistories(ctx context.Context, orgID string, ttl time.Duration) error {
	customerIDs, err := s.client.SMembers(ctx, membershipIndexKey(orgID)).Result()
	if err != nil {
		return fmt.Errorf("listing customers for %s: %w", orgID, err)
	}
	pipe := s.client.Pipeline()
	for _, cid := range customerIDs {
		pipe.Expire(ctx, membershipKey(orgID, cid), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("setting ttls for %s: %w", orgID, err)
	}
	return nil
}
