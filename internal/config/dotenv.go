package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// DefaultDotenvPath is loaded when present and no other file is named.
const DefaultDotenvPath = ".env"

// LoadDotenv seeds the process environment from a dotenv file. Variables
// already set in the environment win. A missing file is an error only
// when the path was given explicitly.
func LoadDotenv(path string, explicit bool) error {
	if path == "" {
		path = DefaultDotenvPath
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("dotenv %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("dotenv %s: %w", path, err)
	}
	return nil
}
