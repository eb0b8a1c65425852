package store

import (
	"testing"
	"time"
)

func mustSample(t *testing.T, db *DB, entityID int64, at time.Time, upload, download uint64) {
	t.Helper()
	if _, err := db.AddStatsSample(&StatsSample{
		EntityID:    entityID,
		Kind:        KindLocation,
		CollectedAt: at,
		Upload:      upload,
		Download:    download,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestLatestStatByEntity(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if s, err := db.LatestStatByEntity(1, KindLocation); err != nil || s != nil {
		t.Fatalf("expected nil, nil before any samples, got %+v, %v", s, err)
	}

	mustSample(t, db, 1, base, 100, 200)
	mustSample(t, db, 1, base.Add(time.Second), 150, 260)

	latest, err := db.LatestStatByEntity(1, KindLocation)
	if err != nil {
		t.Fatal(err)
	}
	if latest.Upload != 150 || latest.Download != 260 {
		t.Fatalf("got %+v", latest)
	}
}

func TestStatsInRangeDeltasClampOnReset(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mustSample(t, db, 10, base, 1000, 2000)
	mustSample(t, db, 10, base.Add(time.Second), 1500, 2500)
	// Simulate an interface restart: counters reset to a small value.
	mustSample(t, db, 10, base.Add(2*time.Second), 50, 80)

	got, err := db.StatsInRange(10, KindLocation, base, "second")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d deltas, want 3", len(got))
	}
	if got[0].UploadDelta != 1000 || got[0].DownloadDelta != 2000 {
		t.Fatalf("first delta should equal raw counters when there's no predecessor: %+v", got[0])
	}
	if got[1].UploadDelta != 500 || got[1].DownloadDelta != 500 {
		t.Fatalf("second delta wrong: %+v", got[1])
	}
	if got[2].UploadDelta != 50 || got[2].DownloadDelta != 80 {
		t.Fatalf("expected reset counters clamped to the raw value, got %+v", got[2])
	}
}

func TestStatsInRangeSeedsFromSampleBeforeRange(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mustSample(t, db, 20, base, 100, 100)
	mustSample(t, db, 20, base.Add(time.Second), 180, 220)

	got, err := db.StatsInRange(20, KindLocation, base.Add(time.Second), "second")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d deltas, want 1", len(got))
	}
	if got[0].UploadDelta != 80 || got[0].DownloadDelta != 120 {
		t.Fatalf("expected delta seeded from sample before range start, got %+v", got[0])
	}
}

func TestStatsInRangeHourlyBucketing(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mustSample(t, db, 30, base, 0, 0)
	mustSample(t, db, 30, base.Add(30*time.Minute), 100, 100)
	mustSample(t, db, 30, base.Add(59*time.Minute), 200, 200)
	mustSample(t, db, 30, base.Add(90*time.Minute), 260, 260)

	got, err := db.StatsInRange(30, KindLocation, base, "hour")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d hourly buckets, want 2", len(got))
	}
	if got[0].UploadDelta != 200 {
		t.Fatalf("first hour bucket should sum the deltas of its three samples, got %+v", got[0])
	}
	if got[1].UploadDelta != 60 {
		t.Fatalf("second hour bucket wrong, got %+v", got[1])
	}
}

func TestStatsInRangeInvalidAggregation(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.StatsInRange(1, KindLocation, time.Now(), "minute"); err == nil {
		t.Fatal("expected error for unsupported aggregation")
	}
}

func TestPurgeOldStats(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mustSample(t, db, 40, base, 1, 1)
	mustSample(t, db, 40, base.Add(48*time.Hour), 2, 2)

	if err := db.PurgeOldStats(base.Add(24 * time.Hour)); err != nil {
		t.Fatal(err)
	}

	got, err := db.StatsInRange(40, KindLocation, base, "second")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one surviving sample after purge, got %d", len(got))
	}
}
