package cryptox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LoadPepper reads the password pepper from path. When the file does not
// exist a new random pepper is written there first, so the first start of
// a fresh deployment provisions it.
func LoadPepper(path string) ([]byte, error) {
	path = filepath.Clean(path)

	raw, err := os.ReadFile(path)
	if err == nil {
		pepper := strings.TrimSpace(string(raw))
		if pepper == "" {
			return nil, fmt.Errorf("cryptox: pepper file %s is empty", path)
		}
		return []byte(pepper), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("cryptox: read pepper: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("cryptox: create pepper dir: %w", err)
	}

	pepper, err := GenerateToken(argonKeyLength)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(pepper), 0o600); err != nil {
		return nil, fmt.Errorf("cryptox: write pepper: %w", err)
	}
	return []byte(pepper), nil
}
