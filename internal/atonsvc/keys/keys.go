// Package keys manages the ed25519 key the service signs with. The private
// key is kept on disk sealed with a password from the configuration and is
// created on first use.
package keys

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	jsonitor "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	"github.com/grad-enav/atonservice/internal/common/apperrors"
	"github.com/grad-enav/atonservice/internal/common/uuid"
)

var json = jsonitor.ConfigCompatibleWithStandardLibrary

var (
	ErrKeys    apperrors.Error = apperrors.New("signing key unavailable").SetStatusCode(http.StatusInternalServerError).SetKind(apperrors.KindSignature)
	ErrKeyFile apperrors.Error = ErrKeys.New("unable to read signing key file")
	ErrSealed  apperrors.Error = ErrKeys.New("unable to unseal signing key")
)

// SigningKey is the active Ed25519 key pair and its identifier.
type SigningKey struct {
	KeyID      string
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
}

type keyFile struct {
	KeyID      string `json:"keyId"`
	PublicKey  []byte `json:"publicKey"`
	PrivateKey []byte `json:"privateKey"`
	CreatedAt  string `json:"createdAt"`
}

// Manager loads the signing key once and hands out the cached copy.
type Manager struct {
	path     string
	password string

	mu     sync.Mutex
	active *SigningKey
}

// NewManager returns a manager for the sealed key file at path. The key is
// created on first use.
func NewManager(path, password string) *Manager {
	return &Manager{path: path, password: password}
}

// GetActiveKey returns the signing key, creating and storing a new one when
// the key file does not exist yet.
func (m *Manager) GetActiveKey(ctx context.Context) (*SigningKey, apperrors.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return m.active, nil
	}

	var raw []byte
	err := retry.Do(func() error {
		var err error
		raw, err = os.ReadFile(m.path)
		if errors.Is(err, fs.ErrNotExist) {
			raw = nil
			return nil
		}
		return err
	}, retry.Context(ctx), retry.Attempts(3), retry.Delay(200*time.Millisecond), retry.DelayType(retry.BackOffDelay))
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("path", m.path).Msg("unable to read signing key")
		return nil, ErrKeyFile.Err(err)
	}

	if raw == nil {
		key, aerr := m.create(ctx)
		if aerr != nil {
			return nil, aerr
		}
		m.active = key
		return key, nil
	}

	var kf keyFile
	if err := json.Unmarshal(raw, &kf); err != nil {
		return nil, ErrKeyFile.MsgErr("malformed signing key file", err)
	}
	priv, err := Open(kf.PrivateKey, m.password)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("unable to unseal signing key")
		return nil, ErrSealed.Err(err)
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrSealed.Msg("signing key has the wrong size")
	}
	m.active = &SigningKey{
		KeyID:      kf.KeyID,
		PrivateKey: ed25519.PrivateKey(priv),
		PublicKey:  ed25519.PrivateKey(priv).Public().(ed25519.PublicKey),
	}
	return m.active, nil
}

func (m *Manager) create(ctx context.Context) (*SigningKey, apperrors.Error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("unable to generate signing key")
		return nil, ErrKeys.MsgErr("unable to generate signing key", err)
	}
	sealed, err := Seal(priv, m.password)
	if err != nil {
		return nil, ErrKeys.MsgErr("unable to seal signing key", err)
	}
	kf := keyFile{
		KeyID:      uuid.New().String(),
		PublicKey:  pub,
		PrivateKey: sealed,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return nil, ErrKeys.MsgErr("unable to encode signing key", err)
	}
	if dir := filepath.Dir(m.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, ErrKeyFile.MsgErr("unable to create key directory", err)
		}
	}
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return nil, ErrKeyFile.MsgErr("unable to write signing key", err)
	}
	log.Ctx(ctx).Info().Str("key_id", kf.KeyID).Str("path", m.path).Msg("created signing key")
	return &SigningKey{KeyID: kf.KeyID, PrivateKey: priv, PublicKey: pub}, nil
}

// ReadPublicKey returns the public half stored in a key file. No password is
// needed.
func ReadPublicKey(path string) (ed25519.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var kf keyFile
	if err := json.Unmarshal(raw, &kf); err != nil {
		return nil, err
	}
	if len(kf.PublicKey) != ed25519.PublicKeySize {
		return nil, errors.New("public key has the wrong size")
	}
	return ed25519.PublicKey(kf.PublicKey), nil
}
