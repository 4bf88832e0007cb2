package filecache_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/adamwoolhether/xfer/filecache"
)

func writeSource(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "src.bin")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCache_Move(t *testing.T) {
	testCases := []struct {
		name  string
		cache func(t *testing.T) *filecache.Cache
	}{
		{
			name: "os",
			cache: func(t *testing.T) *filecache.Cache {
				c, err := filecache.NewOS(filepath.Join(t.TempDir(), "cache"))
				if err != nil {
					t.Fatal(err)
				}
				return c
			},
		},
		{
			name:  "memory",
			cache: func(t *testing.T) *filecache.Cache { return filecache.NewInMemory() },
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := tc.cache(t)
			src := writeSource(t, "hello cache")

			if c.Exists("a.png") {
				t.Fatal("exp empty cache")
			}

			path, err := c.Move(src, "a.png")
			if err != nil {
				t.Fatalf("move: %v", err)
			}
			if path != c.Path("a.png") {
				t.Errorf("exp path %q, got %q", c.Path("a.png"), path)
			}
			if _, err := os.Stat(src); !os.IsNotExist(err) {
				t.Errorf("exp source removed, stat err: %v", err)
			}
			if !c.Exists("a.png") {
				t.Fatal("exp cached file")
			}

			size, err := c.Size("a.png")
			if err != nil || size != int64(len("hello cache")) {
				t.Errorf("exp size %d, got %d (%v)", len("hello cache"), size, err)
			}
			b, err := c.Read("a.png")
			if err != nil || string(b) != "hello cache" {
				t.Errorf("exp content, got %q (%v)", b, err)
			}

			if err := c.Delete("a.png"); err != nil {
				t.Fatal(err)
			}
			if c.Exists("a.png") {
				t.Error("exp file deleted")
			}
			if err := c.Delete("a.png"); err != nil {
				t.Errorf("deleting a missing file must not fail: %v", err)
			}
		})
	}
}

func TestCache_MoveMissingSource(t *testing.T) {
	c := filecache.NewInMemory()

	if _, err := c.Move(filepath.Join(t.TempDir(), "nope"), "x"); err == nil {
		t.Fatal("exp error for a missing source")
	}
	if c.Exists("x") {
		t.Error("exp nothing cached")
	}
}

func TestCache_Clear(t *testing.T) {
	c, err := filecache.NewOS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"a", "b", "c"} {
		if _, err := c.Move(writeSource(t, name), name); err != nil {
			t.Fatal(err)
		}
	}

	if err := c.Clear(); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a", "b", "c"} {
		if c.Exists(name) {
			t.Errorf("exp %s cleared", name)
		}
	}
	if _, err := os.Stat(c.Dir()); err != nil {
		t.Errorf("exp cache dir kept: %v", err)
	}
}
