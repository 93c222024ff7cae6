package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPathManager(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	pm := NewPathManager()

	t.Run("database_path_under_app_dir", func(t *testing.T) {
		path, err := pm.GetChatDatabasePath()
		require.NoError(t, err)
		require.Equal(t, filepath.Join(home, ".chatsync", "chat.db"), path)
	})

	t.Run("logs_dir_is_created", func(t *testing.T) {
		dir, err := pm.GetLogsDir()
		require.NoError(t, err)
		require.Equal(t, filepath.Join(home, ".chatsync", "logs"), dir)

		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	})
}
