package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/viewlabs/viewband/pkg/envelope"
)

func openSampleStore(t *testing.T) *SampleStore {
	t.Helper()
	s, err := NewSampleStore("sqlite", filepath.Join(t.TempDir(), "samples.db"))
	if err != nil {
		t.Fatalf("NewSampleStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSampleStoreInsertAndCount(t *testing.T) {
	ctx := context.Background()
	s := openSampleStore(t)

	samples := []envelope.Sample{
		{EntityID: "chan-a", AgeDays: 1, Value: 100},
		{EntityID: "chan-a", AgeDays: 2, Value: 250},
		{EntityID: "chan-b", AgeDays: 1, Value: 90},
	}
	if err := s.InsertSamples(ctx, samples); err != nil {
		t.Fatalf("InsertSamples: %v", err)
	}

	n, err := s.CountSamples(ctx)
	if err != nil {
		t.Fatalf("CountSamples: %v", err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
}

func TestSampleStorePaging(t *testing.T) {
	ctx := context.Background()
	s := openSampleStore(t)

	var samples []envelope.Sample
	for i := 0; i < 25; i++ {
		samples = append(samples, envelope.Sample{
			EntityID: "chan-a",
			AgeDays:  i,
			Value:    int64(100 + i),
		})
	}
	if err := s.InsertSamples(ctx, samples); err != nil {
		t.Fatalf("InsertSamples: %v", err)
	}

	q := envelope.SampleQuery{MinAge: 0, MaxAge: 100, Limit: 10}
	var got []envelope.Sample
	pages := 0
	for {
		page, err := s.ListSamples(ctx, q)
		if err != nil {
			t.Fatalf("ListSamples page %d: %v", pages, err)
		}
		got = append(got, page.Samples...)
		pages++
		if page.NextID == 0 {
			if len(page.Samples) == 10 && len(got) < len(samples) {
				t.Fatal("cursor dropped mid-stream")
			}
			break
		}
		q.AfterID = page.NextID
	}

	if len(got) != 25 {
		t.Fatalf("paged %d samples in %d pages, want 25", len(got), pages)
	}
	if pages < 3 {
		t.Errorf("got %d pages, want at least 3 with limit 10", pages)
	}
	for i, smp := range got {
		if smp.AgeDays != i {
			t.Fatalf("page order broken at index %d: age %d", i, smp.AgeDays)
		}
	}
}

func TestSampleStoreFilters(t *testing.T) {
	ctx := context.Background()
	s := openSampleStore(t)

	err := s.InsertSamples(ctx, []envelope.Sample{
		{EntityID: "chan-a", AgeDays: 50, Value: 100},
		{EntityID: "chan-a", AgeDays: 150, Value: 200},
		{EntityID: "chan-a", AgeDays: 400, Value: 300},
		{EntityID: "chan-b", AgeDays: 150, Value: 999},
	})
	if err != nil {
		t.Fatalf("InsertSamples: %v", err)
	}

	page, err := s.ListSamples(ctx, envelope.SampleQuery{MinAge: 90, MaxAge: 365, Limit: 100})
	if err != nil {
		t.Fatalf("ListSamples: %v", err)
	}
	if len(page.Samples) != 2 {
		t.Fatalf("age window returned %d samples, want 2: %+v", len(page.Samples), page.Samples)
	}

	page, err = s.ListSamples(ctx, envelope.SampleQuery{
		MinAge: 0, MaxAge: 1000, Limit: 100, EntityID: "chan-b",
	})
	if err != nil {
		t.Fatalf("ListSamples: %v", err)
	}
	if len(page.Samples) != 1 || page.Samples[0].Value != 999 {
		t.Fatalf("entity filter returned %+v, want the single chan-b row", page.Samples)
	}
}

func TestSampleStoreEmptyPage(t *testing.T) {
	ctx := context.Background()
	s := openSampleStore(t)

	page, err := s.ListSamples(ctx, envelope.SampleQuery{MinAge: 0, MaxAge: 100, Limit: 10})
	if err != nil {
		t.Fatalf("ListSamples: %v", err)
	}
	if len(page.Samples) != 0 || page.NextID != 0 {
		t.Errorf("empty table returned %+v", page)
	}
}

func TestSampleStoreRejectsUnknownDriver(t *testing.T) {
	if _, err := NewSampleStore("mysql", "dsn"); err == nil {
		t.Error("expected error for unsupported driver")
	}
}
