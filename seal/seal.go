package seal

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/velmie/beacon"
)

var (
	// ErrRecipientsRequired is returned when no recipient keys are given.
	ErrRecipientsRequired = errors.New("beacon seal: at least one recipient is required")
	// ErrIdentitiesRequired is returned when Open is called without identities.
	ErrIdentitiesRequired = errors.New("beacon seal: at least one identity is required")
)

// Sealer encrypts to a fixed set of age recipients.
type Sealer struct {
	recipients []age.Recipient
}

// New parses age1... public keys. Blank entries are ignored.
func New(recipientKeys []string) (*Sealer, error) {
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("beacon seal: parse recipient %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}
	if len(recipients) == 0 {
		return nil, ErrRecipientsRequired
	}

	return &Sealer{recipients: recipients}, nil
}

// Encrypt implements beacon.EncryptFunc.
func (s *Sealer) Encrypt(plaintext []byte) ([]byte, error) {
	var out bytes.Buffer
	armored := armor.NewWriter(&out)

	w, err := age.Encrypt(armored, s.recipients...)
	if err != nil {
		return nil, fmt.Errorf("beacon seal: create encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("beacon seal: write plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("beacon seal: finalize: %w", err)
	}
	if err := armored.Close(); err != nil {
		return nil, fmt.Errorf("beacon seal: finalize armor: %w", err)
	}

	return out.Bytes(), nil
}

// Func returns the sealer as a beacon.EncryptFunc.
func (s *Sealer) Func() beacon.EncryptFunc {
	return s.Encrypt
}

// Recipients returns the number of configured recipients.
func (s *Sealer) Recipients() int {
	return len(s.recipients)
}

// Open decrypts armored ciphertext with AGE-SECRET-KEY-1... identities.
func Open(ciphertext []byte, identityKeys ...string) ([]byte, error) {
	identities := make([]age.Identity, 0, len(identityKeys))
	for _, key := range identityKeys {
		identity, err := age.ParseX25519Identity(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("beacon seal: parse identity: %w", err)
		}
		identities = append(identities, identity)
	}
	if len(identities) == 0 {
		return nil, ErrIdentitiesRequired
	}

	r, err := age.Decrypt(armor.NewReader(bytes.NewReader(ciphertext)), identities...)
	if err != nil {
		return nil, fmt.Errorf("beacon seal: decrypt: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("beacon seal: read plaintext: %w", err)
	}

	return plaintext, nil
}
