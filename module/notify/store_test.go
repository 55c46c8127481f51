package notify

import (
	"context"
	"fmt"
	"testing"

	"TProject/service/storage"
)

func ann(id, cat string, ts int64) Announcement {
	return Announcement{ID: id, Title: "t-" + id, Body: "b-" + id, CategoryKey: cat, TimestampMS: ts}
}

func TestUnreadInvariant(t *testing.T) {
	s := NewStore(storage.NewMemoryStore().Tab(), "u1")

	s.OnLiveEvent(ann("a1", "c1", 1000))
	s.OnLiveEvent(ann("a2", "c1", 2000))
	s.OnLiveEvent(ann("a3", "c2", 3000))

	check := func() {
		t.Helper()
		want := 0
		for _, bucket := range s.Buckets() {
			for _, n := range bucket {
				if !n.Read {
					want++
				}
			}
		}
		if got := s.Unread(); got != want {
			t.Fatalf("Unread() = %d, recount = %d", got, want)
		}
	}
	check()
	if s.Unread() != 3 {
		t.Fatalf("unread = %d, want 3", s.Unread())
	}

	s.MarkRead("c1")
	check()
	if s.Unread() != 1 {
		t.Fatalf("unread = %d after MarkRead(c1), want 1", s.Unread())
	}

	s.Reset()
	check()
	if s.Unread() != 0 {
		t.Fatalf("unread = %d after Reset, want 0", s.Unread())
	}

	// MarkRead on an already-removed bucket must not go negative.
	s.MarkRead("c1")
	check()
}

func TestDuplicateAnnouncementAppliedOnce(t *testing.T) {
	s := NewStore(storage.NewMemoryStore().Tab(), "u1")
	s.OnLiveEvent(ann("n1", "c1", 1000))
	s.OnLiveEvent(ann("n1", "c1", 1000))
	if got := len(s.Bucket("c1")); got != 1 {
		t.Fatalf("bucket len = %d, want 1", got)
	}
	if s.Unread() != 1 {
		t.Fatalf("unread = %d, want 1", s.Unread())
	}
}

func TestBucketCapEvictsOldest(t *testing.T) {
	s := NewStore(storage.NewMemoryStore().Tab(), "u1")
	for i := 0; i < BucketCap+7; i++ {
		s.OnLiveEvent(ann(fmt.Sprintf("n%d", i), "c1", int64(i)))
	}
	bucket := s.Bucket("c1")
	if len(bucket) != BucketCap {
		t.Fatalf("bucket len = %d, want %d", len(bucket), BucketCap)
	}
	// Newest first: latest id on top, oldest evicted.
	if bucket[0].ID != fmt.Sprintf("announcement-n%d", BucketCap+6) {
		t.Fatalf("newest not first: %s", bucket[0].ID)
	}
	for _, n := range bucket {
		if n.ID == "announcement-n0" {
			t.Fatalf("oldest entry survived the cap")
		}
	}
}

func TestCrossTabBroadcast(t *testing.T) {
	store := storage.NewMemoryStore()
	tab1 := NewStore(store.Tab(), "u1")
	tab2 := NewStore(store.Tab(), "u1")

	// Tab 2 never processes the live event itself; it reloads on broadcast.
	tab1.OnLiveEvent(ann("n1", "c1", 1000))

	if got := tab2.Unread(); got != tab1.Unread() {
		t.Fatalf("tab2 unread = %d, tab1 = %d; want identical", got, tab1.Unread())
	}
	if got := len(tab2.Bucket("c1")); got != 1 {
		t.Fatalf("tab2 bucket len = %d, want 1", got)
	}

	tab2.MarkRead("c1")
	if tab1.Unread() != 0 {
		t.Fatalf("tab1 unread = %d after tab2 MarkRead, want 0", tab1.Unread())
	}
}

func TestDetachStopsReloads(t *testing.T) {
	store := storage.NewMemoryStore()
	tab1 := NewStore(store.Tab(), "u1")
	tab2 := NewStore(store.Tab(), "u1")

	tab2.Detach()
	changed := 0
	tab2.OnChange = func() { changed++ }

	tab1.OnLiveEvent(ann("n1", "c1", 1000))
	if got := tab2.Unread(); got != 0 {
		t.Fatalf("detached store reloaded, unread = %d", got)
	}
	if changed != 0 {
		t.Fatalf("detached store fired OnChange %d times", changed)
	}
	// 二次 Detach 无害
	tab2.Detach()
}

func TestCorruptStorageResetsToEmpty(t *testing.T) {
	tab := storage.NewMemoryStore().Tab()
	key := storage.UserKey("u1", storage.KeyNotifications)
	if err := tab.Store(context.Background(), key, []byte("{not json")); err != nil {
		t.Fatalf("seed corrupt value: %v", err)
	}

	s := NewStore(tab, "u1")
	if s.Unread() != 0 || len(s.Buckets()) != 0 {
		t.Fatalf("corrupt storage not reset: unread=%d buckets=%d", s.Unread(), len(s.Buckets()))
	}
	// Store keeps working afterwards.
	s.OnLiveEvent(ann("n1", "c1", 1000))
	if s.Unread() != 1 {
		t.Fatalf("store unusable after corruption reset")
	}
}

func TestClearRemovesEverything(t *testing.T) {
	mem := storage.NewMemoryStore()
	s := NewStore(mem.Tab(), "u1")
	s.OnLiveEvent(ann("n1", "c1", 1000))
	s.Clear()
	if s.Unread() != 0 || len(s.Buckets()) != 0 {
		t.Fatalf("clear left state behind")
	}
	// A fresh store over the same storage sees nothing.
	fresh := NewStore(mem.Tab(), "u1")
	if fresh.Unread() != 0 || len(fresh.Buckets()) != 0 {
		t.Fatalf("clear did not reach storage")
	}
}
