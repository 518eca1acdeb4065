// Package featurestore persists feature payloads by ID.
package featurestore

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammed-shakir/geohash-spatial-index/internal/cache/keys"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/cache/redisstore"
)

type FeatureStore interface {
	MGetFeatures(ctx context.Context, layer string, ids []string) (map[string][]byte, error)

	PutFeatures(ctx context.Context, layer string, feats map[string][]byte, ttl time.Duration) error

	DelFeatures(ctx context.Context, layer string, ids []string) error
}

type redisFeatureStore struct {
	cli        *redisstore.Client
	defaultTTL time.Duration
}

func NewRedisStore(cli *redisstore.Client, defaultTTL time.Duration) FeatureStore {
	return &redisFeatureStore{
		cli:        cli,
		defaultTTL: defaultTTL,
	}
}

func (s *redisFeatureStore) MGetFeatures(
	ctx context.Context,
	layer string,
	ids []string,
) (map[string][]byte, error) {
	if len(ids) == 0 {
		return map[string][]byte{}, nil
	}

	ks := make([]string, len(ids))
	for i, id := range ids {
		ks[i] = keys.FeatureKey(layer, id)
	}

	raw, err := s.cli.MGet(ctx, ks)
	if err != nil {
		return nil, fmt.Errorf("featurestore redis MGET %d keys: %w", len(ks), err)
	}

	out := make(map[string][]byte, len(raw))
	for i, id := range ids {
		if v, ok := raw[ks[i]]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (s *redisFeatureStore) PutFeatures(
	ctx context.Context,
	layer string,
	feats map[string][]byte,
	ttl time.Duration,
) error {
	if len(feats) == 0 {
		return nil
	}

	t := ttl
	if t <= 0 {
		t = s.defaultTTL
	}

	kv := make(map[string][]byte, len(feats))
	for id, body := range feats {
		kv[keys.FeatureKey(layer, id)] = body
	}
	if err := s.cli.MSetWithTTL(ctx, kv, t); err != nil {
		return fmt.Errorf("featurestore redis MSET %d keys: %w", len(kv), err)
	}
	return nil
}

func (s *redisFeatureStore) DelFeatures(
	ctx context.Context,
	layer string,
	ids []string,
) error {
	if len(ids) == 0 {
		return nil
	}
	ks := make([]string, len(ids))
	for i, id := range ids {
		ks[i] = keys.FeatureKey(layer, id)
	}
	if err := s.cli.Del(ctx, ks...); err != nil {
		return fmt.Errorf("featurestore redis DEL %d keys: %w", len(ks), err)
	}
	return nil
}
