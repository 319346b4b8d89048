package extract

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/yeka/zip"
)

// passwordBytes is how much randomness feeds each archive password.
// 32 bytes gives 256 bits from crypto/rand, encoded to 43 text characters.
const passwordBytes = 32

// GeneratePassword returns a fresh archive password. Passwords are never
// persisted or reused; the only copy outside process memory is the chat
// notification.
func GeneratePassword() (string, error) {
	buf := make([]byte, passwordBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Pack compresses every regular file directly under dir into one AES-256
// encrypted archive named archiveName inside dir, under a freshly generated
// password. Subdirectories are not descended and a previous archive of the
// same name is skipped, so re-runs never swallow their own output. An empty
// dir still produces a valid, empty archive.
func Pack(dir, archiveName string) (archivePath, password string, err error) {
	password, err = GeneratePassword()
	if err != nil {
		return "", "", err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", fmt.Errorf("list output directory %s: %w", dir, err)
	}

	archivePath = filepath.Join(dir, archiveName)
	f, err := os.Create(archivePath)
	if err != nil {
		return "", "", fmt.Errorf("create archive %s: %w", archivePath, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close archive %s: %w", archivePath, cerr)
		}
	}()

	zw := zip.NewWriter(f)
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == archiveName {
			continue
		}
		if !entry.Type().IsRegular() {
			continue
		}
		if err := addEncryptedEntry(zw, dir, entry.Name(), password); err != nil {
			zw.Close()
			return "", "", err
		}
	}
	if err := zw.Close(); err != nil {
		return "", "", fmt.Errorf("finalize archive %s: %w", archivePath, err)
	}
	return archivePath, password, nil
}

func addEncryptedEntry(zw *zip.Writer, dir, name, password string) error {
	src, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("open %s for packaging: %w", name, err)
	}
	defer src.Close()

	// Entries are deflated first, then encrypted with WinZip AES-256, which
	// authenticates the ciphertext.
	w, err := zw.Encrypt(name, password, zip.AES256Encryption)
	if err != nil {
		return fmt.Errorf("add encrypted entry %s: %w", name, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("write entry %s: %w", name, err)
	}
	return nil
}
