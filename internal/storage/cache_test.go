package storage

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/your-org/facegate/internal/models"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	key := models.RefKey{MemberID: "alice", Image: "alice_main.jpg"}

	if _, ok, _ := c.Get(ctx, key); ok {
		t.Fatal("empty cache returned a hit")
	}
	emb := []float32{0.1, 0.2}
	_ = c.Put(ctx, key, emb)
	emb[0] = 9

	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok || !reflect.DeepEqual(got, []float32{0.1, 0.2}) {
		t.Errorf("Get = %v, %v, %v", got, ok, err)
	}

	got[1] = 7
	if again, _, _ := c.Get(ctx, key); !reflect.DeepEqual(again, []float32{0.1, 0.2}) {
		t.Errorf("Get after caller mutation = %v", again)
	}

	_ = c.Put(ctx, models.RefKey{MemberID: "bob", Image: "bob_main.jpg"}, []float32{1})
	_ = c.DeleteMember(ctx, "alice")
	if c.Len() != 1 {
		t.Errorf("Len = %d after DeleteMember, want 1", c.Len())
	}
}

func TestFileCache_PersistsPerModel(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "embeddings.cbor")
	key := models.RefKey{MemberID: "alice", Image: "alice_main.jpg"}

	c, err := OpenFileCache(path, "model-a")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Put(ctx, key, []float32{0.5, -0.5}); err != nil {
		t.Fatal(err)
	}
	if err := c.Put(ctx, models.RefKey{MemberID: "bob", Image: "bob_main.jpg"}, []float32{1, 0}); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenFileCache(path, "model-a")
	if err != nil {
		t.Fatal(err)
	}
	got, ok, _ := reopened.Get(ctx, key)
	if !ok || !reflect.DeepEqual(got, []float32{0.5, -0.5}) {
		t.Errorf("reloaded embedding = %v, %v", got, ok)
	}
	got[0] = 3
	if again, _, _ := reopened.Get(ctx, key); !reflect.DeepEqual(again, []float32{0.5, -0.5}) {
		t.Errorf("Get after caller mutation = %v", again)
	}

	other, err := OpenFileCache(path, "model-b")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := other.Get(ctx, key); ok {
		t.Error("embedding from another model was served")
	}

	if err := reopened.DeleteMember(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	again, _ := OpenFileCache(path, "model-a")
	if _, ok, _ := again.Get(ctx, key); ok {
		t.Error("deleted member still cached on disk")
	}
	if _, ok, _ := again.Get(ctx, models.RefKey{MemberID: "bob", Image: "bob_main.jpg"}); !ok {
		t.Error("unrelated member lost")
	}
}

func TestFileCache_DeterministicEncoding(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	write := func(name string, order []string) []byte {
		path := filepath.Join(dir, name)
		c, _ := OpenFileCache(path, "m")
		for _, id := range order {
			_ = c.Put(ctx, models.RefKey{MemberID: id, Image: id + "_main.jpg"}, []float32{1, 2})
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}

	a := write("a.cbor", []string{"x", "y", "z"})
	b := write("b.cbor", []string{"z", "x", "y"})
	if !reflect.DeepEqual(a, b) {
		t.Error("cache file depends on insertion order")
	}
}

func TestFileCache_IgnoresCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.cbor")
	if err := os.WriteFile(path, []byte{0xff, 0x00, 0x13}, 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := OpenFileCache(path, "m")
	if err != nil {
		t.Fatalf("OpenFileCache on corrupt file = %v", err)
	}
	if _, ok, _ := c.Get(context.Background(), models.RefKey{MemberID: "a", Image: "b"}); ok {
		t.Error("corrupt cache produced a hit")
	}
}
