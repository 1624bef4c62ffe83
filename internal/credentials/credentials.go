// Package credentials resolves the synthesis API key from the environment,
// a dotenv file, or a plain key file, in that order.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// EnvKey is the environment variable checked first.
	EnvKey = "OPENAI_API_KEY"
	// DotenvFile is the dotenv file consulted when the variable is unset.
	DotenvFile = ".env"
	// KeyFile holds a bare key as a last resort.
	KeyFile = "api_key.txt"
)

// ErrNotFound means no source produced a non-empty key.
var ErrNotFound = errors.New("no API key found: set " + EnvKey + ", or provide " + DotenvFile + " or " + KeyFile)

// Source names where a key was found.
type Source string

const (
	SourceEnv    Source = "environment"
	SourceDotenv Source = "dotenv"
	SourceFile   Source = "key file"
)

// Resolve returns the first non-empty API key, looking at the process
// environment, then dir/.env, then dir/api_key.txt.
func Resolve(dir string) (string, Source, error) {
	if key := strings.TrimSpace(os.Getenv(EnvKey)); key != "" {
		return key, SourceEnv, nil
	}

	if env, err := godotenv.Read(filepath.Join(dir, DotenvFile)); err == nil {
		if key := strings.TrimSpace(env[EnvKey]); key != "" {
			return key, SourceDotenv, nil
		}
	}

	if data, err := os.ReadFile(filepath.Join(dir, KeyFile)); err == nil {
		if key := strings.TrimSpace(string(data)); key != "" {
			return key, SourceFile, nil
		}
	}

	return "", "", ErrNotFound
}

// Write persists a key for later runs. An existing dotenv file gains the
// assignment at the top, an existing key file gains the key at the top, and
// with neither present a fresh key file is created.
func Write(dir, key string) (Source, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("api key is empty")
	}

	dotenvPath := filepath.Join(dir, DotenvFile)
	if _, err := os.Stat(dotenvPath); err == nil {
		if err := prepend(dotenvPath, fmt.Sprintf("%s=%s\n", EnvKey, key)); err != nil {
			return "", err
		}
		return SourceDotenv, nil
	}

	keyPath := filepath.Join(dir, KeyFile)
	if _, err := os.Stat(keyPath); err == nil {
		if err := prepend(keyPath, key+"\n"); err != nil {
			return "", err
		}
		return SourceFile, nil
	}

	if err := os.WriteFile(keyPath, []byte(key+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", KeyFile, err)
	}
	return SourceFile, nil
}

func prepend(path, line string) error {
	existing, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := os.WriteFile(path, append([]byte(line), existing...), 0o600); err != nil {
		return fmt.Errorf("update %s: %w", path, err)
	}
	return nil
}
