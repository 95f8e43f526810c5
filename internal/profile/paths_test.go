package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matheus3301/crmsync/internal/config"
)

func TestDir(t *testing.T) {
	t.Setenv("CRMSYNC_HOME", "")
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".crmsync", "profiles", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestPathsUnderProfile(t *testing.T) {
	tests := []struct {
		got    string
		suffix string
	}{
		{SocketPath("test"), filepath.Join("profiles", "test", "daemon.sock")},
		{LockPath("test"), filepath.Join("profiles", "test", "LOCK")},
		{StoreDBPath("test"), filepath.Join("profiles", "test", "crmsync.db")},
		{DeviceDBPath("test"), filepath.Join("profiles", "test", "device.db")},
		{SettingsPath("test"), filepath.Join("profiles", "test", "crmsync.toml")},
		{LogPath("test"), filepath.Join("profiles", "test", "logs", "crmsyncd.log")},
	}
	for _, tt := range tests {
		if !strings.HasSuffix(tt.got, tt.suffix) {
			t.Errorf("path %q, want suffix %s", tt.got, tt.suffix)
		}
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv("CRMSYNC_HOME", t.TempDir())

	if err := EnsureDir("test"); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{Dir("test"), LogDir("test")} {
		info, err := os.Stat(d)
		if err != nil {
			t.Fatalf("%s not created: %v", d, err)
		}
		if !info.IsDir() || info.Mode().Perm() != 0700 {
			t.Errorf("%s mode = %v, want 0700 dir", d, info.Mode())
		}
	}
}

func TestResolve(t *testing.T) {
	t.Setenv("CRMSYNC_HOME", t.TempDir())
	t.Setenv("CRMSYNC_PROFILE", "")
	_ = os.Unsetenv("CRMSYNC_PROFILE")

	if got := Resolve("flag"); got != "flag" {
		t.Errorf("Resolve(flag) = %q", got)
	}
	if got := Resolve(""); got != DefaultName {
		t.Errorf("Resolve() without config = %q, want %q", got, DefaultName)
	}
	if err := config.Save(ConfigPath(), &config.Config{DefaultProfile: "work"}); err != nil {
		t.Fatal(err)
	}
	if got := Resolve(""); got != "work" {
		t.Errorf("Resolve() = %q, want config default work", got)
	}
}
