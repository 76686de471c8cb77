package recording

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestRetentionDisabled(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	ctx := context.Background()
	snap, _ := store.Save(ctx, "cam", []byte("x"), time.Now().Add(-365*24*time.Hour))

	policy := NewRetentionPolicy(store, func() int { return 0 })
	stats, err := policy.RunCleanup(ctx)
	if err != nil {
		t.Fatalf("RunCleanup failed: %v", err)
	}
	if stats.SnapshotsDeleted != 0 {
		t.Errorf("Expected nothing deleted, got %d", stats.SnapshotsDeleted)
	}
	if _, err := os.Stat(snap.FilePath); err != nil {
		t.Error("Snapshot should be kept when retention is off")
	}
}

func TestRetentionDeletesOld(t *testing.T) {
	for _, indexed := range []bool{false, true} {
		name := "directory"
		if indexed {
			name = "indexed"
		}
		t.Run(name, func(t *testing.T) {
			var repo Repository
			if indexed {
				repo = setupTestRepo(t)
			}
			store := NewStore(t.TempDir(), repo)
			ctx := context.Background()
			now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.Local)

			old, _ := store.Save(ctx, "cam", []byte("old!"), now.Add(-10*24*time.Hour))
			fresh, _ := store.Save(ctx, "cam", []byte("new"), now.Add(-time.Hour))

			policy := NewRetentionPolicy(store, func() int { return 7 })
			policy.now = func() time.Time { return now }

			stats, err := policy.RunCleanup(ctx)
			if err != nil {
				t.Fatalf("RunCleanup failed: %v", err)
			}
			if stats.SnapshotsDeleted != 1 || stats.BytesFreed != 4 {
				t.Errorf("Expected 1 deletion of 4 bytes, got %+v", stats)
			}
			if _, err := os.Stat(old.FilePath); !os.IsNotExist(err) {
				t.Error("Expected old snapshot to be removed")
			}
			if _, err := os.Stat(fresh.FilePath); err != nil {
				t.Error("Expected fresh snapshot to be kept")
			}
		})
	}
}

func TestRetentionStartStop(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	old, _ := store.Save(ctx, "cam", []byte("x"), time.Now().Add(-48*time.Hour))

	policy := NewRetentionPolicy(store, func() int { return 1 })
	policy.Start(ctx, time.Hour)
	// Second start is a no-op
	policy.Start(ctx, time.Hour)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(old.FilePath); os.IsNotExist(err) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(old.FilePath); !os.IsNotExist(err) {
		t.Error("Expected initial cleanup to remove old snapshot")
	}

	policy.Stop()
	policy.Stop()
}
