// Package paths locates the per-user directories mouse keeps its state in.
package paths

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
)

// HomeDir returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns /var/root (macOS) or /root (Linux),
// but the config, log and database should stay with the invoking user.
func HomeDir() (string, error) {
	// SUDO_USER is the original invoking user.
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		u, err := user.Lookup(sudoUser)
		if err == nil {
			return u.HomeDir, nil
		}
	}
	return os.UserHomeDir()
}

// RealUser returns the UID and GID of the real invoking user when running
// under sudo (via SUDO_UID / SUDO_GID). Returns ok=false when not under sudo.
func RealUser() (uid, gid int, ok bool) {
	sudoUID := os.Getenv("SUDO_UID")
	if sudoUID == "" {
		return 0, 0, false
	}
	u, err := strconv.ParseInt(sudoUID, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	var g int64
	if sudoGID := os.Getenv("SUDO_GID"); sudoGID != "" {
		g, _ = strconv.ParseInt(sudoGID, 10, 64)
	}
	return int(u), int(g), true
}

// ChownToRealUser changes the owner of path to the real invoking user when
// running under sudo. It is a no-op when not under sudo.
func ChownToRealUser(path string) {
	if uid, gid, ok := RealUser(); ok {
		os.Chown(path, uid, gid)
	}
}

// CacheDir returns ~/.cache/mouse, creating it if needed.
// When running under sudo the directory is chowned to the real user so that
// later non-root invocations can read the daemon log.
func CacheDir() (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".cache", "mouse")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	ChownToRealUser(dir)
	return dir, nil
}

// DataDir returns ~/.local/share/mouse, creating it if needed.
// When running under sudo the directory is chowned to the real user so that
// later non-root invocations (status, tui) can read the session history.
func DataDir() (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".local", "share", "mouse")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	ChownToRealUser(dir)
	return dir, nil
}

// ConfigDir returns ~/.config/mouse, creating it if needed.
// When running under sudo the directory is chowned to the real user so that
// later non-root invocations can edit the config file.
func ConfigDir() (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".config", "mouse")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	ChownToRealUser(dir)
	return dir, nil
}

// ConfigFile is the default configuration file path.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// DBFile is the default session database path.
func DBFile() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "mouse.db"), nil
}

// LogFile is where the connect daemon appends its log.
func LogFile() (string, error) {
	dir, err := CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "mouse.log"), nil
}
