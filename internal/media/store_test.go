package media

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/piko/internal/apperr"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "media"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestSaveAndOpen(t *testing.T) {
	s := tempStore(t)
	st, err := s.Save("cat.txt", strings.NewReader("meow"), 0)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if st.Size != 4 || st.Ref.URL != "/attachments/cat.txt" || st.Ref.Name != "cat.txt" {
		t.Errorf("stored = %+v", st)
	}
	if !strings.HasPrefix(st.Ref.Type, "text/plain") {
		t.Errorf("type = %q", st.Ref.Type)
	}

	f, err := s.Open("cat.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	got, _ := io.ReadAll(f)
	if string(got) != "meow" {
		t.Errorf("content = %q", got)
	}
}

func TestSave_Overwrites(t *testing.T) {
	s := tempStore(t)
	_, _ = s.Save("a.bin", strings.NewReader("one"), 0)
	st, err := s.Save("a.bin", strings.NewReader("second"), 0)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if st.Size != 6 {
		t.Errorf("size = %d", st.Size)
	}
	matches, _ := filepath.Glob(filepath.Join(s.Root(), ".piko-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestSave_Limit(t *testing.T) {
	s := tempStore(t)
	_, err := s.Save("big.bin", strings.NewReader("0123456789"), 4)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "big.bin")); !os.IsNotExist(err) {
		t.Error("oversized file should not be written")
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempStore(t)
	for _, name := range []string{"../../etc/passwd", "../outside.png", "/etc/shadow", "sub/x.png", ".hidden", ""} {
		if _, err := s.Save(name, strings.NewReader("x"), 0); err == nil {
			t.Errorf("expected error for %q", name)
		}
		if _, err := s.Open(name); err == nil {
			t.Errorf("expected open error for %q", name)
		}
	}
}

func TestOpenMissing(t *testing.T) {
	s := tempStore(t)
	if _, err := s.Open("nope.png"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := s.Delete("nope.png"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("delete err = %v, want ErrNotFound", err)
	}
}

func TestNewStore_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "piko-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	if _, err := NewStore(f.Name()); err == nil {
		t.Error("expected error when root is a file")
	}
}
