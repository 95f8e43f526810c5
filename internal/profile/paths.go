package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.crmsync, or $CRMSYNC_HOME when set.
func BaseDir() string {
	if dir := os.Getenv("CRMSYNC_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".crmsync")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// SocketPath returns the UDS socket path for a profile.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// StoreDBPath returns the snapshot store path.
func StoreDBPath(name string) string {
	return filepath.Join(Dir(name), "crmsync.db")
}

// DeviceDBPath returns the default device data path.
func DeviceDBPath(name string) string {
	return filepath.Join(Dir(name), "device.db")
}

// SettingsPath returns the profile settings file.
func SettingsPath(name string) string {
	return filepath.Join(Dir(name), "crmsync.toml")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "crmsyncd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
