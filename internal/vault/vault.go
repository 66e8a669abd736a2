// Package vault encrypts swap payloads before they reach the ledger.
//
// Every bundle is sealed under a fresh AES-256-GCM key and 96-bit
// nonce. What happens to the data key afterwards is the KeyEscrow's
// decision: without escrow the bundle is permanently unreadable, which
// is the legacy behavior this package deliberately refuses to make the
// silent default.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/domain/model"
)

// ErrEncryption is fatal to the submission: nothing is persisted and
// the caller retries as a brand-new intent.
var ErrEncryption = errors.New("encryption failed")

// ErrKeyUnavailable is returned by Decrypt when the escrow cannot
// produce the data key for a bundle.
var ErrKeyUnavailable = errors.New("data key unavailable")

const (
	keySize   = 32 // AES-256
	nonceSize = 12 // 96-bit GCM nonce
)

// KeyEscrow receives each per-bundle data key before the service
// discards it. The admin-side key-exchange scheme is deliberately not
// decided here; implementations range from a KMS client to the
// in-memory escrow used in tests.
type KeyEscrow interface {
	// Store escrows the data key under ref. Must return before the
	// bundle is considered sealed.
	Store(ctx context.Context, ref string, key []byte) error
	// Retrieve returns the escrowed key for ref.
	Retrieve(ctx context.Context, ref string) ([]byte, error)
}

// Service seals swap payloads into EncryptedBundles.
type Service struct {
	escrow      KeyEscrow
	custodianID string
	nowFunc     func() time.Time
}

type Option func(*Service)

func WithNowFunc(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.nowFunc = now
		}
	}
}

// NewService builds the encryption service. custodianID identifies the
// admin custodian recorded on every bundle.
func NewService(escrow KeyEscrow, custodianID string, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if escrow == nil {
		escrow = DiscardEscrow{}
	}
	if _, discards := escrow.(DiscardEscrow); discards {
		logger.Warn("vault configured without key escrow; sealed bundles will be unrecoverable",
			"custodian_id", custodianID,
		)
	}
	s := &Service{
		escrow:      escrow,
		custodianID: custodianID,
		nowFunc:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Encrypt serializes payload and seals it under a fresh key and nonce.
// Atomic: on any failure no bundle is emitted and the key is never
// escrowed. The data key leaves this function only through the escrow.
func (s *Service) Encrypt(ctx context.Context, keyRef string, payload any) (model.EncryptedBundle, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return model.EncryptedBundle{}, fmt.Errorf("%w: serialize payload: %v", ErrEncryption, err)
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return model.EncryptedBundle{}, fmt.Errorf("%w: generate key: %v", ErrEncryption, err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return model.EncryptedBundle{}, fmt.Errorf("%w: generate nonce: %v", ErrEncryption, err)
	}

	aead, err := newAEAD(key)
	if err != nil {
		return model.EncryptedBundle{}, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, []byte(keyRef))

	// Escrow before discard, or the bundle is unreadable forever.
	if err := s.escrow.Store(ctx, keyRef, key); err != nil {
		return model.EncryptedBundle{}, fmt.Errorf("%w: escrow key: %v", ErrEncryption, err)
	}
	zero(key)

	return model.EncryptedBundle{
		Ciphertext:  base64.StdEncoding.EncodeToString(ciphertext),
		Nonce:       base64.StdEncoding.EncodeToString(nonce),
		KeyRef:      keyRef,
		CustodianID: s.custodianID,
		CreatedAt:   s.nowFunc().UTC(),
	}, nil
}

// Decrypt opens bundle into out, fetching the data key from escrow.
func (s *Service) Decrypt(ctx context.Context, bundle model.EncryptedBundle, out any) error {
	key, err := s.escrow.Retrieve(ctx, bundle.KeyRef)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	defer zero(key)

	ciphertext, err := base64.StdEncoding.DecodeString(bundle.Ciphertext)
	if err != nil {
		return fmt.Errorf("decode ciphertext: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(bundle.Nonce)
	if err != nil {
		return fmt.Errorf("decode nonce: %w", err)
	}

	aead, err := newAEAD(key)
	if err != nil {
		return err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(bundle.KeyRef))
	if err != nil {
		return fmt.Errorf("open bundle: %w", err)
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("deserialize payload: %w", err)
	}
	return nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return aead, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// MemoryEscrow keeps data keys in process memory. Suitable for tests
// and single-node development, not for production custody.
type MemoryEscrow struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

func NewMemoryEscrow() *MemoryEscrow {
	return &MemoryEscrow{keys: make(map[string][]byte)}
}

func (m *MemoryEscrow) Store(_ context.Context, ref string, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make([]byte, len(key))
	copy(copied, key)
	m.keys[ref] = copied
	return nil
}

func (m *MemoryEscrow) Retrieve(_ context.Context, ref string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.keys[ref]
	if !ok {
		return nil, fmt.Errorf("no escrowed key for %q", ref)
	}
	copied := make([]byte, len(key))
	copy(copied, key)
	return copied, nil
}

// DiscardEscrow drops every key. Bundles sealed with it can never be
// opened again; NewService logs a warning when it is selected.
type DiscardEscrow struct{}

func (DiscardEscrow) Store(context.Context, string, []byte) error {
	return nil
}

func (DiscardEscrow) Retrieve(_ context.Context, ref string) ([]byte, error) {
	return nil, fmt.Errorf("key for %q was discarded at encryption time", ref)
}
