package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/locano/channelbot/core/config"
)

func TestPutRemoveLifecycle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := NewFS(config.BlobConfig{Dir: filepath.Join(dir, "assets")})
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}

	path, err := fs.Put(ctx, "123456789.code", []byte("https://m.me/page?ref=sub:123456789"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "https://m.me/page?ref=sub:123456789" {
		t.Fatalf("unexpected content: %s", data)
	}

	if err := fs.Remove(ctx, "123456789.code"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("asset still present after remove")
	}

	// Removing twice is fine.
	if err := fs.Remove(ctx, "123456789.code"); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
}

func TestRejectsEscapingNames(t *testing.T) {
	fs, err := NewFS(config.BlobConfig{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	for _, name := range []string{"", "../etc/passwd", "a/b"} {
		if _, err := fs.Put(context.Background(), name, []byte("x")); err == nil {
			t.Fatalf("Put(%q) accepted", name)
		}
	}
}
