package staging

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/caedis/mc-manager/internal/apperr"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"sodium.jar", true},
		{"", false},
		{"notes.txt", false},
		{"../escape.jar", false},
		{"sub/dir.jar", false},
		{`win\dir.jar`, false},
		{"mod.JAR", false},
	}
	for _, tt := range tests {
		err := ValidateName(tt.name)
		if tt.valid && err != nil {
			t.Fatalf("ValidateName(%q) unexpected error: %v", tt.name, err)
		}
		if !tt.valid && !apperr.Is(err, apperr.Validation) {
			t.Fatalf("ValidateName(%q) err=%v want validation", tt.name, err)
		}
	}
}

func TestSaveListDelete(t *testing.T) {
	a := New(afero.NewMemMapFs(), "/extra_mods")

	names, err := a.List()
	if err != nil {
		t.Fatalf("List on missing dir failed: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("List=%v want empty", names)
	}

	for _, n := range []string{"b.jar", "a.jar"} {
		if _, err := a.Save(n, strings.NewReader("jar:"+n)); err != nil {
			t.Fatalf("Save(%s) failed: %v", n, err)
		}
	}
	names, err = a.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if strings.Join(names, ",") != "a.jar,b.jar" {
		t.Fatalf("List=%v", names)
	}

	if err := a.Delete("a.jar"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := a.Delete("a.jar"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("second Delete err=%v want not exist", err)
	}
	if err := a.Delete("../atm10/eula.txt"); !apperr.Is(err, apperr.Validation) {
		t.Fatalf("Delete traversal err=%v want validation", err)
	}
}

func TestSaveRejectsNonJar(t *testing.T) {
	fs := afero.NewMemMapFs()
	a := New(fs, "/extra_mods")
	if _, err := a.Save("readme.md", strings.NewReader("x")); !apperr.Is(err, apperr.Validation) {
		t.Fatalf("Save err=%v want validation", err)
	}
	if ok, _ := afero.Exists(fs, "/extra_mods/readme.md"); ok {
		t.Fatalf("rejected upload was written")
	}
}

type endlessReader struct{}

func (endlessReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'x'
	}
	return len(p), nil
}

func TestSaveRejectsOversize(t *testing.T) {
	fs := afero.NewMemMapFs()
	a := New(fs, "/extra_mods")
	a.Limit = 1024
	_, err := a.Save("huge.jar", io.LimitReader(endlessReader{}, 4096))
	if !errors.Is(err, ErrTooLarge) || !apperr.Is(err, apperr.Validation) {
		t.Fatalf("Save err=%v want too large", err)
	}
	if ok, _ := afero.Exists(fs, "/extra_mods/huge.jar"); ok {
		t.Fatalf("oversize upload was kept")
	}
}

func TestImport(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/downloads/jei.jar", []byte("jei"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	a := New(fs, "/extra_mods")
	if _, err := a.Import("/downloads/jei.jar"); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	data, err := afero.ReadFile(fs, "/extra_mods/jei.jar")
	if err != nil || string(data) != "jei" {
		t.Fatalf("imported content=%q err=%v", string(data), err)
	}
}

func TestWriteZip(t *testing.T) {
	a := New(afero.NewMemMapFs(), "/extra_mods")
	if _, err := a.Save("x.jar", strings.NewReader("xx")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	var buf bytes.Buffer
	if err := a.WriteZip(&buf); err != nil {
		t.Fatalf("WriteZip failed: %v", err)
	}
	r, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	if len(r.File) != 1 || r.File[0].Name != "x.jar" {
		t.Fatalf("unexpected entries: %d", len(r.File))
	}
}
