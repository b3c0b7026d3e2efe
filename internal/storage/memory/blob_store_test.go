package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "reports/updated.csv", "text/csv", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://reports/updated.csv" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'
	stored, contentType, ok := store.Object("reports/updated.csv")
	if !ok {
		t.Fatal("expected object to be stored")
	}
	if string(stored) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
	if contentType != "text/csv" {
		t.Fatalf("expected content type text/csv, got %q", contentType)
	}
	if paths := store.Paths(); len(paths) != 1 || paths[0] != "reports/updated.csv" {
		t.Fatalf("unexpected paths %v", paths)
	}
}

func TestBlobStoreObjectMissing(t *testing.T) {
	t.Parallel()

	if _, _, ok := NewBlobStore().Object("nope"); ok {
		t.Fatal("expected missing object")
	}
}
