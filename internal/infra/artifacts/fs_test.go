package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
)

func TestFSPutGetRoundTrip(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	body := []byte(`{"findings":[]}`)

	ref, err := store.Put(ctx, "run-1", "static", body)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if ref.RunID != "run-1" || ref.Stage != "static" {
		t.Fatalf("ref = %+v", ref)
	}
	if ref.SizeBytes != int64(len(body)) {
		t.Fatalf("size = %d, want %d", ref.SizeBytes, len(body))
	}
	sum := sha256.Sum256(body)
	if ref.SHA256 != hex.EncodeToString(sum[:]) {
		t.Fatalf("sha256 = %s", ref.SHA256)
	}

	got, err := store.Get(ctx, "run-1", "static")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("got = %q", got)
	}
}

func TestFSGetMissing(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Get(context.Background(), "run-1", "static"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFSRejectsUnsafeKeys(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	cases := [][2]string{
		{"", "static"},
		{"run-1", ""},
		{"../run-1", "static"},
		{"run-1", "a/b"},
		{"run-1", ".."},
	}
	for _, c := range cases {
		if _, err := store.Put(ctx, c[0], c[1], []byte(`{}`)); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("key (%q,%q): err = %v, want ErrInvalidInput", c[0], c[1], err)
		}
	}
}

func TestFSPutOverwritesSameKey(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if _, err := store.Put(ctx, "run-1", "static", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if _, err := store.Put(ctx, "run-1", "static", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("second put: %v", err)
	}
	got, err := store.Get(ctx, "run-1", "static")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"v":2}` {
		t.Fatalf("got = %q", got)
	}
}
