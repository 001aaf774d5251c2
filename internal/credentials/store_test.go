package credentials_test

import (
	"path/filepath"
	"testing"

	"github.com/gotuyable/gotuyable/internal/credentials"
)

func TestFileStoreMissingFileStartsEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fs, err := credentials.NewFileStore(filepath.Join(dir, "creds.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	list, err := fs.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("List = %v, want empty", list)
	}
}

func TestFileStorePutGet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fs, err := credentials.NewFileStore(filepath.Join(dir, "creds.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	addr := "AA:BB:CC:DD:EE:FF"
	c := credentials.Credentials{
		UUID:      "uuid0001",
		LocalKey:  "0123456789abcdef",
		DeviceID:  "dev0001",
		Category:  "dj",
		ProductID: "prod0001",
	}
	if err := fs.Put(addr, c); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := fs.Get(addr)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get: ok = false, want true")
	}
	if got != c {
		t.Errorf("Get = %+v, want %+v", got, c)
	}
}

func TestFileStoreGetNotFound(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fs, err := credentials.NewFileStore(filepath.Join(dir, "creds.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	_, ok, err := fs.Get("00:00:00:00:00:00")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("Get: ok = true, want false for missing address")
	}
}

func TestFileStoreRemove(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fs, err := credentials.NewFileStore(filepath.Join(dir, "creds.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	addr := "AA:BB:CC:DD:EE:FF"
	if err := fs.Put(addr, credentials.Credentials{LocalKey: "key"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := fs.Remove(addr); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, ok, err := fs.Get(addr); err != nil || ok {
		t.Errorf("Get after Remove = (ok=%v, err=%v), want (false, nil)", ok, err)
	}
}

func TestFileStorePersistsAcrossReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "creds.json")
	addr := "AA:BB:CC:DD:EE:FF"
	c := credentials.Credentials{
		UUID:      "uuid0001",
		LocalKey:  "0123456789abcdef",
		DeviceID:  "dev0001",
		Category:  "dj",
		ProductID: "prod0001",
	}

	fs1, err := credentials.NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := fs1.Put(addr, c); err != nil {
		t.Fatalf("Put: %v", err)
	}

	fs2, err := credentials.NewFileStore(path)
	if err != nil {
		t.Fatalf("second NewFileStore: %v", err)
	}
	got, ok, err := fs2.Get(addr)
	if err != nil {
		t.Fatalf("Get after reload: %v", err)
	}
	if !ok {
		t.Fatal("Get after reload: ok = false, want true")
	}
	if got != c {
		t.Errorf("Get after reload = %+v, want %+v", got, c)
	}
}

func TestFileStoreListReturnsAllEntries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fs, err := credentials.NewFileStore(filepath.Join(dir, "creds.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	want := map[string]credentials.Credentials{
		"AA:AA:AA:AA:AA:AA": {LocalKey: "a"},
		"BB:BB:BB:BB:BB:BB": {LocalKey: "b"},
	}
	for addr, c := range want {
		if err := fs.Put(addr, c); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	list, err := fs.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != len(want) {
		t.Fatalf("List returned %d entries, want %d", len(list), len(want))
	}
	for _, e := range list {
		if want[e.Address] != e.Credentials {
			t.Errorf("entry %s = %+v, want %+v", e.Address, e.Credentials, want[e.Address])
		}
	}
}

var _ credentials.Store = (*credentials.FileStore)(nil)
