package secom

import (
	"github.com/grad-enav/atonservice/internal/atonsvc/db/models"
	"github.com/grad-enav/atonservice/internal/common/uuid"
)

type AckRequest string

const (
	AckNoneRequested      AckRequest = "NO_ACK_REQUESTED"
	AckDeliveredRequested AckRequest = "DELIVERED_ACK_REQUESTED"
)

// EventEnum is the subscription lifecycle event sent to a client.
type EventEnum string

const (
	SubscriptionCreated EventEnum = "SUBSCRIPTION_CREATED"
	SubscriptionRemoved EventEnum = "SUBSCRIPTION_REMOVED"
)

const SignatureSchemeEd25519 = "ED25519"

// Endpoint is one service instance found in the registry.
type Endpoint struct {
	URI     string `json:"endpointUri"`
	Version string `json:"version"`
}

type DigitalSignatureValue struct {
	PublicKey        string `json:"publicKey"`
	DigitalSignature string `json:"digitalSignature"`
}

type ExchangeMetadata struct {
	DataProtection            bool                   `json:"dataProtection"`
	Compression               bool                   `json:"compressionFlag"`
	DigitalSignatureReference string                 `json:"digitalSignatureReference"`
	DigitalSignatureValue     *DigitalSignatureValue `json:"digitalSignatureValue,omitempty"`
}

// Envelope is the signed part of an upload.
type Envelope struct {
	Data                   []byte               `json:"data"`
	ContainerType          models.ContainerType `json:"containerType"`
	DataProductType        string               `json:"dataProductType"`
	ExchangeMetadata       ExchangeMetadata     `json:"exchangeMetadata"`
	FromSubscription       bool                 `json:"fromSubscription"`
	AckRequest             AckRequest           `json:"ackRequest"`
	TransactionIdentifier  uuid.UUID            `json:"transactionIdentifier"`
	EnvelopeSignatureKeyID string               `json:"envelopeSignatureKeyId"`
	EnvelopeSignatureTime  int64                `json:"envelopeSignatureTime"`
}

type UploadObject struct {
	Envelope          Envelope `json:"envelope"`
	EnvelopeSignature string   `json:"envelopeSignature"`
}
