package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zboralski/hatchery/internal/emulator"
	"github.com/zboralski/hatchery/internal/seed"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
	tgt, err := cfg.Target()
	if err != nil || tgt != emulator.ARM {
		t.Errorf("Default target = %s, %v", tgt, err)
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
binary: bin/target.elf
arch: mips
mode: big
seed: ["deadbeef", "0x10"]
stack_size: 0x4000
strict_sections: true
run:
  timeout: 250ms
  instructions: 5000
workers: 8
debug: true
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if tgt, _ := cfg.Target(); tgt != emulator.MIPSBig {
		t.Errorf("Expected mips/big, got %s", tgt)
	}
	if cfg.StackSize != 0x4000 || !cfg.StrictSections || !cfg.Debug || cfg.Workers != 8 {
		t.Errorf("Unexpected config: %+v", cfg)
	}
	if cfg.Run.Timeout != 250*time.Millisecond || cfg.Run.Instructions != 5000 {
		t.Errorf("Unexpected run config: %+v", cfg.Run)
	}

	s, err := cfg.SeedWords()
	if err != nil {
		t.Fatalf("SeedWords failed: %v", err)
	}
	if len(s) != 2 || s[0] != 0xdeadbeef || s[1] != 0x10 {
		t.Errorf("Unexpected seed %v", s)
	}
}

func TestParseKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("workers: 2\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	def := Default()
	if cfg.Arch != def.Arch || cfg.Run != def.Run || cfg.StackSize != def.StackSize {
		t.Errorf("Defaults lost: %+v", cfg)
	}
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"arch":    "arch: sparc\n",
		"mode":    "arch: mips\nmode: thumb\n",
		"workers": "workers: -1\n",
		"yaml":    "run: [\n",
	}
	for name, in := range cases {
		if _, err := Parse([]byte(in)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := Parse([]byte("arch: sparc\n")); !errors.Is(err, emulator.ErrArchUnsupported) {
		t.Errorf("Expected ErrArchUnsupported, got %v", err)
	}
}

func TestDir(t *testing.T) {
	abs := t.TempDir()
	t.Setenv(EnvDir, abs)
	if d, err := Dir(); err != nil || d != abs {
		t.Errorf("Dir() = %q, %v; want %q", d, err, abs)
	}

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(EnvDir, "")
	if d, _ := Dir(); d != filepath.Join(home, DefaultDir) {
		t.Errorf("Dir() = %q, want default under home", d)
	}
	t.Setenv(EnvDir, "alt")
	if d, _ := Dir(); d != filepath.Join(home, "alt") {
		t.Errorf("Dir() = %q, want relative to home", d)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, BinaryPathFile), "/opt/target.elf\n")
	writeFile(t, filepath.Join(dir, SeedFileName), "1\n2\n\n")

	cfg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if cfg.Binary != "/opt/target.elf" {
		t.Errorf("Binary from binary_path.txt: got %q", cfg.Binary)
	}
	s, err := cfg.SeedWords()
	if err != nil {
		t.Fatalf("SeedWords failed: %v", err)
	}
	if len(s) != 2 || s[0] != 1 || s[1] != 2 {
		t.Errorf("Seed from seed.txt: got %v", s)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "target.bin"), "\x7fELF")
	writeFile(t, filepath.Join(dir, FileName), "binary: target.bin\nseed_file: words.txt\n")
	writeFile(t, filepath.Join(dir, "words.txt"), "ff\n")

	cfg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	buf, err := cfg.ReadBinary()
	if err != nil {
		t.Fatalf("ReadBinary failed: %v", err)
	}
	if string(buf) != "\x7fELF" {
		t.Errorf("Unexpected binary contents %q", buf)
	}
	s, err := cfg.SeedWords()
	if err != nil || len(s) != 1 || s[0] != 0xff {
		t.Errorf("SeedWords = %v, %v", s, err)
	}
}

func TestSeedWordsDefault(t *testing.T) {
	s, err := Default().SeedWords()
	if err != nil {
		t.Fatalf("SeedWords failed: %v", err)
	}
	if len(s) != len(DefaultSeed) || s[0] != DefaultSeed[0] {
		t.Errorf("Expected DefaultSeed, got %v", s)
	}
	s[0] = 0
	if DefaultSeed[0] == 0 {
		t.Error("SeedWords aliases DefaultSeed")
	}
}

func TestSeedWordsBad(t *testing.T) {
	cfg := Default()
	cfg.Seed = []string{"zz"}
	if _, err := cfg.SeedWords(); !errors.Is(err, seed.ErrSyntax) {
		t.Errorf("Expected ErrSyntax, got %v", err)
	}

	cfg = Default()
	cfg.SeedFile = filepath.Join(t.TempDir(), "missing.txt")
	if _, err := cfg.SeedWords(); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected ErrNotExist, got %v", err)
	}
}

func TestReadBinaryUnset(t *testing.T) {
	if _, err := Default().ReadBinary(); err == nil {
		t.Error("Expected error without a binary")
	}
}
