package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tildaslashalef/ewsync/internal/loggy"
)

//go:embed env.sample
var sampleEnv []byte

// SetupConfigDirectory ensures the config directory exists and holds a .env file.
// An existing .env is backed up before being replaced when backupExisting is set.
func SetupConfigDirectory(configDir string, backupExisting bool) (string, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}

	envPath := filepath.Join(configDir, ".env")
	if err := writeSampleEnv(envPath, backupExisting); err != nil {
		loggy.Warn("Failed to write sample env file", "error", err)
	}

	return envPath, nil
}

func writeSampleEnv(targetPath string, backupExisting bool) error {
	if existing, err := os.ReadFile(targetPath); err == nil {
		if !backupExisting {
			return nil
		}

		backupPath := fmt.Sprintf("%s.%s.bak", targetPath, time.Now().Format("2006-01-02"))
		if err := os.WriteFile(backupPath, existing, 0600); err != nil {
			return fmt.Errorf("failed to write backup file: %w", err)
		}
		loggy.Info("Created backup of existing file", "original", targetPath, "backup", backupPath)
	}

	if err := os.WriteFile(targetPath, sampleEnv, 0600); err != nil {
		return err
	}

	loggy.Info("Wrote sample env file", "target", targetPath)
	return nil
}
