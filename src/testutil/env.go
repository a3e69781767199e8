package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"

	"github.com/ambirelabs/walletcore/src/utils"
)

// GetEnv reads one variable from the repo-root .env, failing the test when it
// is missing so network-dependent tests report their requirements explicitly.
func GetEnv(t *testing.T, key string) string {
	t.Helper()

	if err := godotenv.Load(filepath.Join(utils.FindProjectRoot(), ".env")); err != nil {
		t.Fatalf("failed to load .env from project root: %v", err)
	}

	value := os.Getenv(key)
	if value == "" {
		t.Fatalf("%s is not set", key)
	}
	return value
}
