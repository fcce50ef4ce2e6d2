package orchestrators

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ochairo/reposync/internal/domain-adapters/backends"
	"github.com/ochairo/reposync/internal/domain/entities"
	"github.com/ochairo/reposync/internal/domain/services"
)

// writeRepo writes package files plus a Packages index and Release marker describing them
func writeRepo(t *testing.T, dir string, packages map[string]string) {
	t.Helper()
	for name, content := range packages {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := (&mockIndexer{}).Generate(dir); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
}

func TestReconciler_PublishRoundTrip(t *testing.T) {
	ctx := context.Background()
	localDir, remoteDir := t.TempDir(), t.TempDir()
	writeRepo(t, localDir, map[string]string{
		"tool_1.0_amd64.deb": "Package: tool\nVersion: 1.0\n",
		"tool_1.0_i386.deb":  "Package: tool\nVersion: 1.0\nArchitecture: i386\n",
	})

	backend, err := backends.NewLocalBackend(remoteDir)
	if err != nil {
		t.Fatal(err)
	}
	store, err := backends.NewStore(ctx, backend, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	r := NewReconciler(store, nil)

	result, err := r.Publish(ctx, localDir, nil)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(result.Uploaded) != 4 {
		t.Errorf("Uploaded = %v, want 2 packages and 2 index files", result.Uploaded)
	}
	if _, err := os.Stat(filepath.Join(remoteDir, entities.IndexRelease)); err != nil {
		t.Errorf("Release marker not published: %v", err)
	}

	// Flip one byte of a published package; the restored copy must fail verification
	remote := filepath.Join(remoteDir, "tool_1.0_amd64.deb")
	data, err := os.ReadFile(remote)
	if err != nil {
		t.Fatal(err)
	}
	data[0] ^= 0xff
	if err := os.WriteFile(remote, data, 0644); err != nil {
		t.Fatal(err)
	}

	if err := r.Restore(ctx, localDir); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	err = r.Verify(localDir)
	if !errors.Is(err, services.ErrIntegrity) {
		t.Fatalf("Verify() error = %v, want integrity error", err)
	}
	var ie *services.IntegrityError
	if !errors.As(err, &ie) || ie.File != filepath.Join(localDir, "tool_1.0_amd64.deb") {
		t.Errorf("IntegrityError = %+v, want tool_1.0_amd64.deb", ie)
	}
}

func TestReconciler_PublishRejectsCorruptLocalCopy(t *testing.T) {
	dir := t.TempDir()
	writeRepo(t, dir, map[string]string{"tool_1.0_amd64.deb": "Package: tool\n"})
	if err := os.WriteFile(filepath.Join(dir, "tool_1.0_amd64.deb"), []byte("Package: tool!"), 0644); err != nil {
		t.Fatal(err)
	}

	r := NewReconciler(newMockStore(nil), nil)
	if _, err := r.Publish(context.Background(), dir, nil); !errors.Is(err, services.ErrIntegrity) {
		t.Fatalf("Publish() error = %v, want integrity error", err)
	}
}

// publishRebuilt publishes localDir, then regenerates one package with new
// bytes and publishes again with the given refresh list.
func publishRebuilt(t *testing.T, refresh []string) (string, string, error) {
	t.Helper()
	ctx := context.Background()
	localDir, remoteDir := t.TempDir(), t.TempDir()
	writeRepo(t, localDir, map[string]string{"tool_1.0_amd64.deb": "Package: tool\nVersion: 1.0\n"})

	backend, err := backends.NewLocalBackend(remoteDir)
	if err != nil {
		t.Fatal(err)
	}
	store, err := backends.NewStore(ctx, backend, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewReconciler(store, nil).Publish(ctx, localDir, nil); err != nil {
		t.Fatalf("first Publish() error = %v", err)
	}

	writeRepo(t, localDir, map[string]string{"tool_1.0_amd64.deb": "Package: tool\nVersion: 1.0\nBuilt: again\n"})
	_, err = NewReconciler(store, nil).Publish(ctx, localDir, refresh)
	return localDir, remoteDir, err
}

func TestReconciler_PublishRefreshesRebuiltPackage(t *testing.T) {
	_, remoteDir, err := publishRebuilt(t, []string{"tool_1.0_amd64.deb"})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(remoteDir, "tool_1.0_amd64.deb"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "Package: tool\nVersion: 1.0\nBuilt: again\n" {
		t.Errorf("remote package = %q, want the rebuilt bytes", data)
	}
}

func TestReconciler_FailedVerificationDropsMarker(t *testing.T) {
	_, remoteDir, err := publishRebuilt(t, nil)
	if !errors.Is(err, services.ErrIntegrity) {
		t.Fatalf("Publish() error = %v, want integrity error", err)
	}
	if _, err := os.Stat(filepath.Join(remoteDir, entities.IndexRelease)); !os.IsNotExist(err) {
		t.Fatalf("Release marker still published after failed verification (stat error = %v)", err)
	}

	// The next run starts over from an empty remote repository
	backend, err := backends.NewLocalBackend(remoteDir)
	if err != nil {
		t.Fatal(err)
	}
	store, err := backends.NewStore(context.Background(), backend, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if assets := store.ListAssets(); len(assets) != 0 {
		t.Errorf("ListAssets() = %v, want empty after reset", assets)
	}
}

func TestReconciler_VerifyMissingIndex(t *testing.T) {
	r := NewReconciler(newMockStore(nil), nil)
	if err := r.Verify(t.TempDir()); err == nil {
		t.Fatal("Verify() expected error without a Packages index")
	}
}

func TestReconciler_Unchanged(t *testing.T) {
	catalog := services.NewCatalog()
	catalog.Register(&entities.ArtifactRecord{Product: "tool", VersionString: "1.0", Architecture: entities.Arch64})
	catalog.Register(&entities.ArtifactRecord{Product: "tool", VersionString: "beta-20260102", Architecture: entities.Arch64})

	published := map[string][]byte{
		"tool-beta_20260102_amd64.deb": nil,
		"tool_1.0_amd64.deb":           nil,
		entities.IndexPackages:         nil,
		entities.IndexRelease:          nil,
	}
	store := newMockStore(published)
	r := NewReconciler(store, nil)

	if !r.Unchanged(catalog) {
		t.Fatal("Unchanged() = false, want true when package names match")
	}

	store.assets["tool_0.9_amd64.deb"] = nil
	if r.Unchanged(catalog) {
		t.Error("Unchanged() = true with an extra remote package")
	}
	delete(store.assets, "tool_0.9_amd64.deb")

	catalog.Register(&entities.ArtifactRecord{Product: "tool", VersionString: "1.1", Architecture: entities.Arch64})
	if r.Unchanged(catalog) {
		t.Error("Unchanged() = true with an unpublished record")
	}
}
