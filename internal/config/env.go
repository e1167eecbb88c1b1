package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// DefaultEnvFile is read before the config when present.
const DefaultEnvFile = ".env"

// LoadEnvFiles copies KEY=value pairs from each file into the process
// environment so CARDHUB_* overrides and service keys can live beside the
// binary. Variables already set win. Missing files are skipped.
func LoadEnvFiles(files ...string) error {
	for _, f := range files {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}
	return nil
}
