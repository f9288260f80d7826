// Package envutil reads and writes the .env file produced by clubadmin setup.
package envutil

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv exports the variables in path that are not already set. A
// missing file is not an error.
func LoadDotEnv(path string) error {
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	for key, value := range values {
		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
	return nil
}

// WriteDotEnv writes values sorted by key. Values are double quoted with "$"
// escaped, so bcrypt hashes survive a round trip.
func WriteDotEnv(path string, values map[string]string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	content, err := godotenv.Marshal(values)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content+"\n"), 0o600)
}
