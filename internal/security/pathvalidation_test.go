package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	safeDir := filepath.Join(tmpDir, "out")
	otherDir := filepath.Join(tmpDir, "other")
	for _, d := range []string{safeDir, otherDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
	}
	if err := os.Symlink(otherDir, filepath.Join(safeDir, "link")); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"new file", filepath.Join(safeDir, "run.pcap"), false},
		{"nested new file", filepath.Join(safeDir, "a", "b", "wave.png"), false},
		{"dot dot", filepath.Join(safeDir, "..", "other", "x.png"), true},
		{"sibling", filepath.Join(otherDir, "x.png"), true},
		{"through symlink", filepath.Join(safeDir, "link", "x.png"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, safeDir)
			if tt.wantErr {
				if !errors.Is(err, ErrPathEscape) {
					t.Errorf("err = %v, want ErrPathEscape", err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateOutputPath(t *testing.T) {
	dir := t.TempDir()

	if err := ValidateOutputPath(filepath.Join(dir, "run.pcap"), []string{dir}, ".pcap"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateOutputPath(filepath.Join(dir, "run.txt"), []string{dir}, ".pcap"); !errors.Is(err, ErrExtension) {
		t.Errorf("err = %v, want ErrExtension", err)
	}
	if err := ValidateOutputPath(filepath.Join(dir, "run.pcap"), nil); !errors.Is(err, ErrNoAllowedDir) {
		t.Errorf("err = %v, want ErrNoAllowedDir", err)
	}
	if err := ValidateOutputPath("/run.pcap", []string{dir}); !errors.Is(err, ErrPathEscape) {
		t.Errorf("err = %v, want ErrPathEscape", err)
	}
}

func TestDefaultOutputDirs(t *testing.T) {
	dirs, err := DefaultOutputDirs()
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 2 || dirs[1] != os.TempDir() {
		t.Errorf("dirs = %v", dirs)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"MARCO":         "MARCO",
		"\n\rPOLO!\n\r": "POLO",
		"/dev/ttyUSB0":  "dev_ttyUSB0",
		"":              "unknown",
		"...":           "unknown",
		"a  b":          "a_b",
		"run-1.pcap":    "run-1.pcap",
	}
	for in, want := range tests {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
