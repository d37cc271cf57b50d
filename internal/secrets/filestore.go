package secrets

import (
	"context"
	"os"
)

// FileCiphertextStore keeps the KMS-wrapped ciphertext in a local file.
type FileCiphertextStore struct {
	Path string
}

func (s *FileCiphertextStore) Load(context.Context) ([]byte, error) {
	return os.ReadFile(s.Path)
}

func (s *FileCiphertextStore) Save(_ context.Context, ciphertext []byte) error {
	return os.WriteFile(s.Path, ciphertext, 0o600)
}
