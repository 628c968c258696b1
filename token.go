package cfddns

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// ReadTokenFile returns the first line of the token file at path.
// The file must not be readable by group or others.
func ReadTokenFile(path string) (string, error) {
	if err := verifyPermissions(path); err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("error reading token: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("error reading line: %w", err)
		}
		return "", fmt.Errorf("token file %q is empty", path)
	}
	token := strings.TrimSpace(scanner.Text())
	if token == "" {
		return "", fmt.Errorf("token file %q is empty", path)
	}
	return token, nil
}

// WriteTokenFile creates a new file at path containing token, readable only by the owner.
// An existing file is never overwritten.
func WriteTokenFile(path, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token cannot be empty")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("unable to create %q: %w", path, err)
	}
	if _, err := fmt.Fprintln(f, token); err != nil {
		f.Close()
		return fmt.Errorf("unable to write %q: %w", path, err)
	}
	return f.Close()
}

func verifyPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("error checking token file permissions: %w", err)
	}

	// 0400 is accepted too; secret managers often mount files read-only.
	if perms := info.Mode().Perm(); perms != 0600 && perms != 0400 {
		return fmt.Errorf("invalid permissions for %q: %w", path, PermissionError(perms))
	}
	return nil
}

// PermissionError reports a token file that other users could read.
type PermissionError fs.FileMode

func (pe PermissionError) Error() string {
	return fmt.Sprintf("expected file permissions \"-rw-------\"; found \"%s\"", fs.FileMode(pe))
}
