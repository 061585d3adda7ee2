package fs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/panyam/easyauth/client"
)

func newStore(t *testing.T) *FSCredentialStore {
	t.Helper()
	store, err := NewFSCredentialStore(filepath.Join(t.TempDir(), "nested", "credentials.json"), "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}
	return store
}

func TestFSCredentialStore_GetSetCredential(t *testing.T) {
	store := newStore(t)

	cred, err := store.GetCredential("http://localhost:8080")
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if cred != nil {
		t.Errorf("expected nil credential, got %+v", cred)
	}

	exp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := store.SetCredential("http://localhost:8080", &client.ServerCredential{
		Token:     "test-token",
		UserEmail: "user@example.com",
		ExpiresAt: exp,
	}); err != nil {
		t.Fatalf("SetCredential() error = %v", err)
	}

	cred, err = store.GetCredential("http://localhost:8080")
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if cred == nil || cred.Token != "test-token" || !cred.ExpiresAt.Equal(exp) {
		t.Errorf("GetCredential() = %+v", cred)
	}
}

func TestFSCredentialStore_URLNormalization(t *testing.T) {
	store := newStore(t)

	if err := store.SetCredential("http://localhost:8080/some/path?q=1", &client.ServerCredential{Token: "t"}); err != nil {
		t.Fatal(err)
	}
	cred, _ := store.GetCredential("http://localhost:8080")
	if cred == nil {
		t.Fatal("path and query should not be part of the key")
	}
	if cred, _ := store.GetCredential("https://localhost:8080"); cred != nil {
		t.Error("scheme should be part of the key")
	}
	if _, err := store.GetCredential("not a url"); err == nil {
		t.Error("expected error for URL without host")
	}
}

func TestFSCredentialStore_RemoveCredential(t *testing.T) {
	store := newStore(t)

	store.SetCredential("http://a.example", &client.ServerCredential{Token: "a"})
	if err := store.RemoveCredential("http://a.example"); err != nil {
		t.Fatalf("RemoveCredential() error = %v", err)
	}
	if cred, _ := store.GetCredential("http://a.example"); cred != nil {
		t.Errorf("credential survived removal: %+v", cred)
	}
	if err := store.RemoveCredential("http://missing.example"); err != nil {
		t.Errorf("RemoveCredential(missing) error = %v", err)
	}
}

func TestFSCredentialStore_SharedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	first, _ := NewFSCredentialStore(path, "")
	second, _ := NewFSCredentialStore(path, "")

	first.SetCredential("http://b.example", &client.ServerCredential{Token: "b"})
	second.SetCredential("http://a.example", &client.ServerCredential{Token: "a"})

	servers, err := first.ListServers()
	if err != nil {
		t.Fatal(err)
	}
	if len(servers) != 2 || servers[0] != "http://a.example" || servers[1] != "http://b.example" {
		t.Errorf("ListServers() = %v", servers)
	}
}

func TestFSCredentialStore_FilePermissions(t *testing.T) {
	store := newStore(t)
	store.SetCredential("http://a.example", &client.ServerCredential{Token: "a"})

	info, err := os.Stat(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file permissions = %o, want 600", perm)
	}
}

func TestFSCredentialStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	os.WriteFile(path, []byte("{not json"), 0o600)
	if _, err := NewFSCredentialStore(path, ""); err == nil {
		t.Error("expected error for corrupt credentials file")
	}
}

func TestFSCredentialStore_DefaultPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	store, err := NewFSCredentialStore("", "myapp")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(store.Path()) != "credentials.json" || filepath.Base(filepath.Dir(store.Path())) != "myapp" {
		t.Errorf("Path() = %v", store.Path())
	}
}
