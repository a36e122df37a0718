package usage

import (
	"context"
	"testing"
	"time"

	"github.com/tessera-social/app_platform/internal/app/storage/memory"
	platformerrors "github.com/tessera-social/app_platform/internal/errors"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAllowOutboundWithinLimit(t *testing.T) {
	svc := New(memory.New(), nil).WithClock(fixedClock(time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)))
	for i := 0; i < 3; i++ {
		if err := svc.AllowOutbound(context.Background(), "u1", 3); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	err := svc.AllowOutbound(context.Background(), "u1", 3)
	se := platformerrors.GetServiceError(err)
	if se == nil || se.Code != platformerrors.CodeQuota {
		t.Fatalf("fourth call should hit the quota, got %v", err)
	}
	if se.Details["dimension"] != "outbound_per_minute" {
		t.Fatalf("details = %v", se.Details)
	}
}

func TestAllowOutboundZeroLimitBlocks(t *testing.T) {
	svc := New(memory.New(), nil)
	err := svc.AllowOutbound(context.Background(), "u1", 0)
	if se := platformerrors.GetServiceError(err); se == nil || se.Code != platformerrors.CodeQuota {
		t.Fatalf("zero limit must block immediately, got %v", err)
	}
}

func TestAllowOutboundBucketsAreFixedWindows(t *testing.T) {
	store := memory.New()
	base := time.Date(2026, 8, 24, 10, 30, 50, 0, time.UTC)
	svc := New(store, nil).WithClock(fixedClock(base))

	if err := svc.AllowOutbound(context.Background(), "u1", 1); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := svc.AllowOutbound(context.Background(), "u1", 1); err == nil {
		t.Fatal("second call in the same minute must block")
	}

	// The next minute bucket starts fresh.
	svc.WithClock(fixedClock(base.Add(time.Minute)))
	if err := svc.AllowOutbound(context.Background(), "u1", 1); err != nil {
		t.Fatalf("new bucket should pass: %v", err)
	}
}

func TestRecordDeliveriesAccumulates(t *testing.T) {
	store := memory.New()
	now := time.Date(2026, 8, 24, 23, 59, 0, 0, time.UTC)
	svc := New(store, nil).WithClock(fixedClock(now))

	if err := svc.RecordDeliveries(context.Background(), "u1", 3); err != nil {
		t.Fatal(err)
	}
	if err := svc.RecordDeliveries(context.Background(), "u1", 2); err != nil {
		t.Fatal(err)
	}
	if err := svc.RecordDeliveries(context.Background(), "u1", 0); err != nil {
		t.Fatal(err)
	}

	total, err := svc.DeliveriesToday(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 {
		t.Fatalf("total = %d, want 5", total)
	}

	// A minute later but past midnight UTC is a new day bucket.
	svc.WithClock(fixedClock(now.Add(2 * time.Minute)))
	nextDay, err := svc.DeliveriesToday(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if nextDay != 0 {
		t.Fatalf("next day total = %d, want 0", nextDay)
	}
}

func TestBucketKeysAreUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	local := time.Date(2026, 8, 24, 2, 15, 0, 0, loc) // 21:15 on the 23rd in UTC
	if got := DayBucket(local); got != "20260823" {
		t.Fatalf("day bucket = %q", got)
	}
	if got := MinuteBucket(local); got != "202608232115" {
		t.Fatalf("minute bucket = %q", got)
	}
}
