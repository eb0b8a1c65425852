package store

import "testing"

func TestConnectionHistoryLifecycle(t *testing.T) {
	db := openTestDB(t)

	id, err := db.BeginConnectionHistory(1, KindLocation, "10.0.0.5")
	if err != nil {
		t.Fatal(err)
	}

	open, err := db.ListConnectionHistory(1, KindLocation, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 || open[0].End != nil {
		t.Fatalf("expected one open entry, got %+v", open)
	}

	if err := db.EndConnectionHistory(id); err != nil {
		t.Fatal(err)
	}

	closed, err := db.ListConnectionHistory(1, KindLocation, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(closed) != 1 || closed[0].End == nil {
		t.Fatalf("expected entry to be closed, got %+v", closed)
	}
}

func TestEndConnectionHistoryAlreadyClosed(t *testing.T) {
	db := openTestDB(t)

	id, err := db.BeginConnectionHistory(2, KindTunnel, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.EndConnectionHistory(id); err != nil {
		t.Fatal(err)
	}
	if err := db.EndConnectionHistory(id); err == nil {
		t.Fatal("expected not-found error ending an already-closed entry")
	}
}

func TestConnectionHistorySeparatesKinds(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.BeginConnectionHistory(5, KindLocation, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := db.BeginConnectionHistory(5, KindTunnel, ""); err != nil {
		t.Fatal(err)
	}

	locs, err := db.ListConnectionHistory(5, KindLocation, 10)
	if err != nil {
		t.Fatal(err)
	}
	tuns, err := db.ListConnectionHistory(5, KindTunnel, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(locs) != 1 || len(tuns) != 1 {
		t.Fatalf("expected entity id 5 to have one entry per kind, got locs=%d tuns=%d", len(locs), len(tuns))
	}
}
