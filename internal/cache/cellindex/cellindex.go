// Package cellindex maintains the per-cell feature-ID sets in Redis.
package cellindex

import (
	"context"
	"fmt"
	"sort"

	"github.com/mohammed-shakir/geohash-spatial-index/internal/cache/keys"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/cache/redisstore"
)

type CellIndex interface {
	GetIDs(ctx context.Context, layer string, length int, cell string) ([]string, error)

	// AddID registers the feature under every cell of its cover.
	AddID(ctx context.Context, layer string, length int, cells []string, id string) error

	// RemoveID drops the feature from every cell of its cover.
	RemoveID(ctx context.Context, layer string, length int, cells []string, id string) error

	// DelCells wipes the ID sets of the given cells outright.
	DelCells(ctx context.Context, layer string, length int, cells []string) error
}

type redisCellIndex struct {
	cli *redisstore.Client
}

func NewRedisIndex(cli *redisstore.Client) CellIndex {
	return &redisCellIndex{cli: cli}
}

func (ci *redisCellIndex) GetIDs(
	ctx context.Context,
	layer string,
	length int,
	cell string,
) ([]string, error) {
	key := keys.CellIndexKey(layer, length, cell, "")

	ids, err := ci.cli.SMembers(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("cellindex redis SMEMBERS: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)
	return ids, nil
}

func (ci *redisCellIndex) AddID(
	ctx context.Context,
	layer string,
	length int,
	cells []string,
	id string,
) error {
	if id == "" || len(cells) == 0 {
		return nil
	}
	for _, cell := range cells {
		key := keys.CellIndexKey(layer, length, cell, "")
		if err := ci.cli.SAdd(ctx, key, id); err != nil {
			return fmt.Errorf("cellindex redis SADD %q: %w", key, err)
		}
	}
	return nil
}

func (ci *redisCellIndex) RemoveID(
	ctx context.Context,
	layer string,
	length int,
	cells []string,
	id string,
) error {
	if id == "" || len(cells) == 0 {
		return nil
	}
	for _, cell := range cells {
		key := keys.CellIndexKey(layer, length, cell, "")
		if err := ci.cli.SRem(ctx, key, id); err != nil {
			return fmt.Errorf("cellindex redis SREM %q: %w", key, err)
		}
	}
	return nil
}

func (ci *redisCellIndex) DelCells(
	ctx context.Context,
	layer string,
	length int,
	cells []string,
) error {
	if len(cells) == 0 {
		return nil
	}
	ks := make([]string, len(cells))
	for i, cell := range cells {
		ks[i] = keys.CellIndexKey(layer, length, cell, "")
	}
	if err := ci.cli.Del(ctx, ks...); err != nil {
		return fmt.Errorf("cellindex redis DEL %d keys: %w", len(ks), err)
	}
	return nil
}
