package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/geohash-spatial-index/internal/cache/keys"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/mapper/geohashmapper"
	"github.com/mohammed-shakir/geohash-spatial-index/pkg/geohash"
)

type fakeCache struct {
	deleted [][]string
}

func (f *fakeCache) MGet(context.Context, []string) (map[string][]byte, error) {
	return map[string][]byte{}, nil
}

func (f *fakeCache) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (f *fakeCache) Del(_ context.Context, ks ...string) error {
	f.deleted = append(f.deleted, ks)
	return nil
}

func (f *fakeCache) allDeleted() []string {
	var out []string
	for _, batch := range f.deleted {
		out = append(out, batch...)
	}
	return out
}

type fakeCellIndex struct {
	calls []struct {
		layer  string
		length int
		cells  []string
	}
}

func (f *fakeCellIndex) DelCells(_ context.Context, layer string, length int, cells []string) error {
	f.calls = append(f.calls, struct {
		layer  string
		length int
		cells  []string
	}{layer, length, cells})
	return nil
}

type fakeHot struct {
	reset []string
}

func (f *fakeHot) Reset(cells ...string) { f.reset = append(f.reset, cells...) }

func newTestRunner(c *fakeCache, ci *fakeCellIndex, hot *fakeHot) *Runner {
	return New(InvalidationConfig{Enabled: true, Driver: DriverKafka}, c, geohashmapper.New(16), Options{
		LenRange:  []int{5, 6},
		Hotness:   hot,
		CellIndex: ci,
	})
}

func msg(t *testing.T, v any) *sarama.ConsumerMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &sarama.ConsumerMessage{Value: b, Timestamp: time.Now()}
}

func TestHandleMessage_WireEventByCells(t *testing.T) {
	c := &fakeCache{}
	ci := &fakeCellIndex{}
	hot := &fakeHot{}
	r := newTestRunner(c, ci, hot)

	w := WireEvent{
		Layer:   "demo:places",
		Cells:   []string{"u33db"},
		Lengths: []int{5},
		Version: 1,
		Op:      "update",
	}
	if err := r.handleMessage(context.Background(), msg(t, w)); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}

	want := keys.Key("demo:places", 5, "u33db", "")
	deleted := c.allDeleted()
	if len(deleted) != 1 || deleted[0] != want {
		t.Fatalf("deleted=%v want [%s]", deleted, want)
	}
	if len(ci.calls) != 1 || ci.calls[0].length != 5 || ci.calls[0].cells[0] != "u33db" {
		t.Fatalf("cell index calls: %+v", ci.calls)
	}
	if len(hot.reset) != 1 || hot.reset[0] != "u33db" {
		t.Fatalf("hotness reset: %v", hot.reset)
	}
}

func TestHandleMessage_WireEventVersionReplayIsSkipped(t *testing.T) {
	c := &fakeCache{}
	r := newTestRunner(c, &fakeCellIndex{}, &fakeHot{})

	w := WireEvent{Layer: "l", Cells: []string{"u33db"}, Lengths: []int{5}, Version: 2, Op: "update"}
	if err := r.handleMessage(context.Background(), msg(t, w)); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := r.handleMessage(context.Background(), msg(t, w)); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(c.deleted) != 1 {
		t.Fatalf("replay must not delete again: %v", c.deleted)
	}

	w.Version = 3
	if err := r.handleMessage(context.Background(), msg(t, w)); err != nil {
		t.Fatalf("newer: %v", err)
	}
	if len(c.deleted) != 2 {
		t.Fatalf("newer version must apply: %v", c.deleted)
	}
}

func TestHandleMessage_WireEventByKey(t *testing.T) {
	c := &fakeCache{}
	r := newTestRunner(c, &fakeCellIndex{}, &fakeHot{})

	w := WireEvent{Key: "demo:6:u33dbf:filters=:f=0000000000000000", Version: 1, Op: "delete"}
	if err := r.handleMessage(context.Background(), msg(t, w)); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	deleted := c.allDeleted()
	if len(deleted) != 1 || deleted[0] != w.Key {
		t.Fatalf("deleted=%v", deleted)
	}
}

func TestHandleMessage_SpatialEventByBBox(t *testing.T) {
	c := &fakeCache{}
	ci := &fakeCellIndex{}
	hot := &fakeHot{}
	r := newTestRunner(c, ci, hot)

	ev := map[string]any{
		"version": 1,
		"op":      "update",
		"layer":   "demo:places",
		"ts":      time.Now().Format(time.RFC3339),
		"bbox":    map[string]any{"x1": 13.38, "y1": 52.52, "x2": 13.41, "y2": 52.54, "srid": "EPSG:4326"},
	}
	if err := r.handleMessage(context.Background(), msg(t, ev)); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}

	// the cover runs at the max length and coarser lengths invalidate
	// by cell prefix
	berlin6, _ := geohash.Encode(52.53, 13.394904, 6)
	found5, found6 := false, false
	for _, k := range c.allDeleted() {
		if strings.HasPrefix(k, "demo:places:6:"+berlin6) {
			found6 = true
		}
		if strings.HasPrefix(k, "demo:places:5:"+berlin6[:5]) {
			found5 = true
		}
	}
	if !found5 || !found6 {
		t.Fatalf("prefix deletion missing: len5=%v len6=%v keys=%v", found5, found6, c.allDeleted())
	}

	if len(ci.calls) != 2 {
		t.Fatalf("expected DelCells per length, got %+v", ci.calls)
	}
	if len(hot.reset) == 0 {
		t.Fatalf("hotness not reset")
	}
}

func TestHandleMessage_RejectsInvalidEvents(t *testing.T) {
	r := newTestRunner(&fakeCache{}, &fakeCellIndex{}, &fakeHot{})

	bad := &sarama.ConsumerMessage{Value: []byte("not json"), Timestamp: time.Now()}
	if err := r.handleMessage(context.Background(), bad); err == nil {
		t.Fatalf("expected decode error")
	}

	ev := map[string]any{"version": 2, "op": "update", "layer": "l", "ts": time.Now().Format(time.RFC3339)}
	if err := r.handleMessage(context.Background(), msg(t, ev)); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestReadiness_FollowsAssignment(t *testing.T) {
	r := newTestRunner(&fakeCache{}, &fakeCellIndex{}, &fakeHot{})

	if ready, _ := r.Readiness(); ready {
		t.Fatalf("ready before any assignment")
	}
	r.assignMu.Lock()
	r.assigned.Store(true)
	r.assign = map[int32]struct{}{0: {}, 1: {}}
	r.assignMu.Unlock()

	ready, parts := r.Readiness()
	if !ready || len(parts) != 2 {
		t.Fatalf("ready=%v parts=%v", ready, parts)
	}
}
