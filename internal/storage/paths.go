package storage

import (
	"os"
	"path/filepath"
)

// PathManager handles cross-platform path resolution for chatsync storage
type PathManager struct {
	chatsyncDir string
}

// NewPathManager creates a new path manager with platform-aware defaults
func NewPathManager() *PathManager {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home dir is not available
		homeDir = "."
	}

	return &PathManager{
		chatsyncDir: filepath.Join(homeDir, ".chatsync"),
	}
}

// GetChatsyncDir returns the main configuration directory, creating it if
// it doesn't exist.
func (pm *PathManager) GetChatsyncDir() (string, error) {
	if err := os.MkdirAll(pm.chatsyncDir, 0755); err != nil {
		return "", err
	}
	return pm.chatsyncDir, nil
}

// GetChatDatabasePath returns the path for the chat database
func (pm *PathManager) GetChatDatabasePath() (string, error) {
	dir, err := pm.GetChatsyncDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "chat.db"), nil
}

// GetLogsDir returns the directory for log files
func (pm *PathManager) GetLogsDir() (string, error) {
	dir, err := pm.GetChatsyncDir()
	if err != nil {
		return "", err
	}
	logsDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return "", err
	}
	return logsDir, nil
}
