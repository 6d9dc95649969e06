package blob

import (
	"bytes"
	"context"
	"io"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	if store.Driver() != DriverMemory {
		t.Fatalf("unexpected driver %s", store.Driver())
	}

	payload := []byte("hello")
	if _, err := store.Put(ctx, "k1", bytes.NewReader(payload), PutOptions{ContentType: "text/plain"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := store.Put(ctx, "k1", bytes.NewReader(payload), PutOptions{}); err == nil {
		t.Fatalf("expected duplicate put to fail")
	}

	info, rc, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if !bytes.Equal(data, payload) || info.ContentType != "text/plain" {
		t.Fatalf("unexpected blob: %s %+v", data, info)
	}

	if _, err := store.Head(ctx, "missing"); err == nil {
		t.Fatalf("expected head miss")
	}

	infos, err := store.List(ctx, "k")
	if err != nil || len(infos) != 1 {
		t.Fatalf("List: %v %+v", err, infos)
	}

	if _, err := store.PresignURL(ctx, "k1", SignedURLOptions{}); err != ErrUnsupported {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}

	existed, err := store.Delete(ctx, "k1")
	if err != nil || !existed {
		t.Fatalf("Delete: existed=%v err=%v", existed, err)
	}
}
