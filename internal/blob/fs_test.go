package blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
)

func TestFilesystemStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("unexpected driver %s", store.Driver())
	}

	payload := []byte(`{"records":[]}`)
	info, err := store.Put(ctx, "archives/medications/a1.json", bytes.NewReader(payload), PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"collection": "medications"},
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if info.Size != int64(len(payload)) || info.ETag == "" {
		t.Fatalf("unexpected put info: %+v", info)
	}

	if _, err := store.Put(ctx, "archives/medications/a1.json", bytes.NewReader(payload), PutOptions{}); err == nil {
		t.Fatalf("expected create-only violation on duplicate put")
	}

	got, rc, err := store.Get(ctx, "archives/medications/a1.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("payload mismatch: %s", data)
	}
	if got.ContentType != "application/json" || got.Metadata["collection"] != "medications" {
		t.Fatalf("metadata mismatch: %+v", got)
	}

	head, err := store.Head(ctx, "archives/medications/a1.json")
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head.Size != info.Size || head.ETag != info.ETag {
		t.Fatalf("head mismatch: %+v vs %+v", head, info)
	}

	infos, err := store.List(ctx, "archives/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 || infos[0].Key != "archives/medications/a1.json" {
		t.Fatalf("unexpected listing: %+v", infos)
	}

	url, err := store.PresignURL(ctx, "archives/medications/a1.json", SignedURLOptions{})
	if err != nil {
		t.Fatalf("PresignURL: %v", err)
	}
	if !strings.Contains(url, "local.blob") {
		t.Fatalf("unexpected url %s", url)
	}
	if _, err := store.PresignURL(ctx, "archives/medications/a1.json", SignedURLOptions{Method: "PUT"}); err != ErrUnsupported {
		t.Fatalf("expected ErrUnsupported for PUT presign, got %v", err)
	}

	existed, err := store.Delete(ctx, "archives/medications/a1.json")
	if err != nil || !existed {
		t.Fatalf("Delete: existed=%v err=%v", existed, err)
	}
	existed, err = store.Delete(ctx, "archives/medications/a1.json")
	if err != nil || existed {
		t.Fatalf("expected idempotent delete, existed=%v err=%v", existed, err)
	}
}

func TestFilesystemStoreRejectsBadKeys(t *testing.T) {
	ctx := context.Background()
	store, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	for _, key := range []string{"", "  ", "../escape", "/absolute", "a/../../b"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), PutOptions{}); err == nil {
			t.Fatalf("expected rejection for key %q", key)
		}
	}
}
