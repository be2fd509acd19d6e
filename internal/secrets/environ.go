package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"filippo.io/age"
)

// UnsealEnviron replaces every sealed environment value with its plaintext.
// It returns the names of the variables it decrypted.
func UnsealEnviron(identity age.Identity) ([]string, error) {
	var (
		names []string
		errs  []error
	)
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !IsSealed(value) {
			continue
		}
		plain, err := Open(value, identity)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if err := os.Setenv(name, plain); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		names = append(names, name)
	}
	return names, errors.Join(errs...)
}

// UnsealFromKeyFile loads the identity at keyPath and unseals the
// environment. A missing key file is not an error: nothing was sealed.
func UnsealFromKeyFile(keyPath string) error {
	id, err := LoadIdentity(keyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	names, err := UnsealEnviron(id)
	if len(names) > 0 {
		slog.Debug("unsealed environment", "vars", names)
	}
	return err
}
