package settings

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCache_ServesFromCacheWithinTTL(t *testing.T) {
	loads := 0
	c := NewCache(time.Minute, func(ctx context.Context) (int, error) {
		loads++
		return loads, nil
	})

	for i := 0; i < 3; i++ {
		v, err := c.Get(context.Background())
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if v != 1 {
			t.Fatalf("expected cached value 1, got %d", v)
		}
	}
	if loads != 1 {
		t.Errorf("expected 1 load, got %d", loads)
	}
}

func TestCache_ReloadsAfterExpiry(t *testing.T) {
	loads := 0
	c := NewCache(time.Minute, func(ctx context.Context) (int, error) {
		loads++
		return loads, nil
	})

	now := time.Now()
	c.now = func() time.Time { return now }

	if _, err := c.Get(context.Background()); err != nil {
		t.Fatal(err)
	}

	now = now.Add(61 * time.Second)
	v, err := c.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != 2 {
		t.Errorf("expected reload after expiry, got %d", v)
	}
}

func TestCache_InvalidateForcesReload(t *testing.T) {
	loads := 0
	c := NewCache(time.Minute, func(ctx context.Context) (int, error) {
		loads++
		return loads, nil
	})

	if _, err := c.Get(context.Background()); err != nil {
		t.Fatal(err)
	}

	c.Invalidate()

	v, err := c.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != 2 {
		t.Errorf("expected reload after invalidation, got %d", v)
	}
}

func TestCache_LoadErrorNotCached(t *testing.T) {
	calls := 0
	c := NewCache(time.Minute, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("store down")
		}
		return 42, nil
	})

	if _, err := c.Get(context.Background()); err == nil {
		t.Fatal("expected error on first load")
	}

	v, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if v != 42 {
		t.Errorf("expected 42 after retry, got %d", v)
	}
}

// A settings write within the TTL window must still be observed by the next
// read, via invalidation rather than expiry.
func TestPipelineService_UpdateObservedWithinTTL(t *testing.T) {
	store := &fakePipelineStore{settings: DefaultPipelineSettings()}
	svc := NewPipelineService(store)

	if _, err := svc.Get(context.Background()); err != nil {
		t.Fatal(err)
	}

	interval := 10
	if _, err := svc.Update(context.Background(), PipelineSettingsUpdate{IntervalMinutes: &interval}); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	got, err := svc.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.IntervalMinutes != 10 {
		t.Errorf("expected interval 10 after update, got %d", got.IntervalMinutes)
	}
}

func TestPipelineService_RejectsOutOfRange(t *testing.T) {
	store := &fakePipelineStore{settings: DefaultPipelineSettings()}
	svc := NewPipelineService(store)

	interval := 1
	if _, err := svc.Update(context.Background(), PipelineSettingsUpdate{IntervalMinutes: &interval}); err == nil {
		t.Error("expected validation error for interval_minutes=1")
	}

	threshold := 1.5
	if _, err := svc.Update(context.Background(), PipelineSettingsUpdate{SimilarityThreshold: &threshold}); err == nil {
		t.Error("expected validation error for similarity_threshold=1.5")
	}
}

type fakePipelineStore struct {
	settings PipelineSettings
}

func (f *fakePipelineStore) GetPipelineSettings(ctx context.Context) (PipelineSettings, error) {
	return f.settings, nil
}

func (f *fakePipelineStore) UpdatePipelineSettings(ctx context.Context, u PipelineSettingsUpdate) (PipelineSettings, error) {
	if u.IntervalMinutes != nil {
		f.settings.IntervalMinutes = *u.IntervalMinutes
	}
	if u.SimilarityThreshold != nil {
		f.settings.SimilarityThreshold = *u.SimilarityThreshold
	}
	if u.TopK != nil {
		f.settings.TopK = *u.TopK
	}
	return f.settings, nil
}
