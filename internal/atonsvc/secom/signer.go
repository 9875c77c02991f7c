package secom

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"

	"github.com/anand-gl/jsoncanonicalizer"

	"github.com/grad-enav/atonservice/internal/atonsvc/keys"
	"github.com/grad-enav/atonservice/internal/common/apperrors"
)

// Signature is a detached signature and the key that verifies it.
type Signature struct {
	KeyID     string
	PublicKey []byte
	Value     []byte
}

// Signer produces detached signatures over raw bytes.
type Signer interface {
	Sign(ctx context.Context, data []byte) (*Signature, error)
}

// KeyProvider hands out the active signing key.
type KeyProvider interface {
	GetActiveKey(ctx context.Context) (*keys.SigningKey, apperrors.Error)
}

// Ed25519Signer signs with the active key of a KeyProvider.
type Ed25519Signer struct {
	keys KeyProvider
}

func NewEd25519Signer(keys KeyProvider) *Ed25519Signer {
	return &Ed25519Signer{keys: keys}
}

func (s *Ed25519Signer) Sign(ctx context.Context, data []byte) (*Signature, error) {
	key, err := s.keys.GetActiveKey(ctx)
	if err != nil {
		return nil, err
	}
	return &Signature{
		KeyID:     key.KeyID,
		PublicKey: key.PublicKey,
		Value:     ed25519.Sign(key.PrivateKey, data),
	}, nil
}

// canonicalEnvelope is the byte form the envelope signature covers.
func canonicalEnvelope(e *Envelope) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return jsoncanonicalizer.Transform(raw)
}

// signUpload signs the data, then the envelope that carries it.
func signUpload(ctx context.Context, signer Signer, env *Envelope) (*UploadObject, apperrors.Error) {
	dataSig, err := signer.Sign(ctx, env.Data)
	if err != nil {
		return nil, ErrSignature.MsgErr("unable to sign payload data", err)
	}
	env.ExchangeMetadata.DigitalSignatureReference = SignatureSchemeEd25519
	env.ExchangeMetadata.DigitalSignatureValue = &DigitalSignatureValue{
		PublicKey:        base64.StdEncoding.EncodeToString(dataSig.PublicKey),
		DigitalSignature: base64.StdEncoding.EncodeToString(dataSig.Value),
	}
	env.EnvelopeSignatureKeyID = dataSig.KeyID

	canonical, err := canonicalEnvelope(env)
	if err != nil {
		return nil, ErrSignature.MsgErr("unable to canonicalise envelope", err)
	}
	envSig, err := signer.Sign(ctx, canonical)
	if err != nil {
		return nil, ErrSignature.MsgErr("unable to sign envelope", err)
	}
	return &UploadObject{
		Envelope:          *env,
		EnvelopeSignature: base64.StdEncoding.EncodeToString(envSig.Value),
	}, nil
}

// VerifyUpload checks both signatures of an upload against pub.
func VerifyUpload(obj *UploadObject, pub ed25519.PublicKey) bool {
	meta := obj.Envelope.ExchangeMetadata.DigitalSignatureValue
	if meta == nil {
		return false
	}
	dataSig, err := base64.StdEncoding.DecodeString(meta.DigitalSignature)
	if err != nil || !ed25519.Verify(pub, obj.Envelope.Data, dataSig) {
		return false
	}
	envSig, err := base64.StdEncoding.DecodeString(obj.EnvelopeSignature)
	if err != nil {
		return false
	}
	canonical, err := canonicalEnvelope(&obj.Envelope)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, canonical, envSig)
}
