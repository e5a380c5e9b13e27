// Package crypt encrypts snapshot archives with age passphrase (scrypt)
// recipients.
package crypt

import (
	"errors"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
	"github.com/kebairia/snapkeep/internal/fsutil"
)

// Extension is appended to encrypted archive paths.
const Extension = ".age"

// DefaultWorkFactor is the scrypt log2(N) used when none is configured.
const DefaultWorkFactor = 15

// ErrNoKey is returned when encryption is requested without key material.
var ErrNoKey = errors.New("no encryption key material")

type Cipher struct {
	passphrase string
	workFactor int
}

// New returns a Cipher for passphrase. workFactor <= 0 selects the default.
func New(passphrase string, workFactor int) (*Cipher, error) {
	if passphrase == "" {
		return nil, ErrNoKey
	}
	if workFactor <= 0 {
		workFactor = DefaultWorkFactor
	}
	if workFactor > 30 {
		return nil, fmt.Errorf("scrypt work factor %d out of range 1..30", workFactor)
	}
	return &Cipher{passphrase: passphrase, workFactor: workFactor}, nil
}

// Encrypt copies src into w as an age file.
func (c *Cipher) Encrypt(w io.Writer, src io.Reader) error {
	r, err := age.NewScryptRecipient(c.passphrase)
	if err != nil {
		return err
	}
	r.SetWorkFactor(c.workFactor)

	ew, err := age.Encrypt(w, r)
	if err != nil {
		return fmt.Errorf("start encryption: %w", err)
	}
	if _, err := io.Copy(ew, src); err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	return ew.Close()
}

// Decrypt returns a reader of the plaintext of src.
func (c *Cipher) Decrypt(src io.Reader) (io.Reader, error) {
	id, err := age.NewScryptIdentity(c.passphrase)
	if err != nil {
		return nil, err
	}
	id.SetMaxWorkFactor(max(c.workFactor, DefaultWorkFactor+3))

	r, err := age.Decrypt(src, id)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return r, nil
}

// EncryptFile writes path+Extension atomically, removes the plaintext, and
// returns the new path.
func (c *Cipher) EncryptFile(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out := path + Extension
	if err := fsutil.WriteAtomic(out, func(w io.Writer) error {
		return c.Encrypt(w, in)
	}); err != nil {
		return "", fmt.Errorf("encrypt %q: %w", path, err)
	}
	in.Close()
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("remove plaintext %q: %w", path, err)
	}
	return out, nil
}

// OpenFile opens an encrypted file and returns its plaintext stream. The
// caller closes the returned Closer.
func (c *Cipher) OpenFile(path string) (io.Reader, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	r, err := c.Decrypt(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return r, f, nil
}

// CheckFile decrypts path to the end, proving the key opens it and the
// ciphertext is intact.
func (c *Cipher) CheckFile(path string) error {
	r, closer, err := c.OpenFile(path)
	if err != nil {
		return err
	}
	defer closer.Close()
	if _, err := io.Copy(io.Discard, r); err != nil {
		return fmt.Errorf("decrypt %q: %w", path, err)
	}
	return nil
}
