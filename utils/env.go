package utils

import (
	"github.com/joho/godotenv"
)

// LoadEnv loads a .env file into the process environment if one exists.
// A missing file is fine in production where the environment is injected.
func LoadEnv() bool {
	return godotenv.Load() == nil
}
