package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"

	"github.com/agrichain/telemetry-gateway/internal/codec"
	"github.com/agrichain/telemetry-gateway/internal/domain"
)

// SignatureVerifier validates a packet's signature against a known public
// key. Implementations must be safe for concurrent use.
type SignatureVerifier interface {
	Verify(packet domain.TelemetryPacket) bool
}

// minSignatureLen is the shortest signature string any verifier accepts.
const minSignatureLen = 16

// BasicSignatureVerifier verifies hex-encoded signatures against PEM public
// keys. The signed message is the ASCII form of the packet's 64-char hash,
// not the 32 raw digest bytes — this matches the firmware-side canonical
// input. ECDSA (ASN.1) and RSA PKCS#1 v1.5 signatures are verified over
// SHA-256 of that message; Ed25519 signs the message directly.
type BasicSignatureVerifier struct {
	keys map[string]crypto.PublicKey
}

// NewBasicSignatureVerifier parses every PEM entry in publicKeys once.
// Entries that do not decode to a supported public key are dropped, so
// packets referencing them fail verification.
func NewBasicSignatureVerifier(publicKeys PublicKeyMap) *BasicSignatureVerifier {
	parsed := make(map[string]crypto.PublicKey, len(publicKeys))
	for id, pemText := range publicKeys {
		if key := parsePublicKey(pemText); key != nil {
			parsed[id] = key
		}
	}
	return &BasicSignatureVerifier{keys: parsed}
}

// KeyCount returns the number of usable keys, for startup reporting.
func (v *BasicSignatureVerifier) KeyCount() int { return len(v.keys) }

// Verify implements SignatureVerifier.
func (v *BasicSignatureVerifier) Verify(packet domain.TelemetryPacket) bool {
	if !packetShapeOK(packet) {
		return false
	}

	key, ok := v.keys[packet.PubKeyID]
	if !ok {
		return false
	}

	sig, err := hex.DecodeString(packet.Signature)
	if err != nil {
		return false
	}

	message := []byte(packet.HashHex)
	digest := sha256.Sum256(message)

	switch pub := key.(type) {
	case *ecdsa.PublicKey:
		return ecdsa.VerifyASN1(pub, digest[:], sig)
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig) == nil
	case ed25519.PublicKey:
		return ed25519.Verify(pub, message, sig)
	default:
		return false
	}
}

// StubSignatureVerifier is the verification mode used in tests and sandbox
// deployments where no cryptographic backend is configured: a signature is
// valid iff it equals hashHex + ":" + pubKeyId and the key id is known.
type StubSignatureVerifier struct {
	keys PublicKeyMap
}

// NewStubSignatureVerifier builds a stub verifier over the given key map.
func NewStubSignatureVerifier(publicKeys PublicKeyMap) *StubSignatureVerifier {
	return &StubSignatureVerifier{keys: publicKeys}
}

// Verify implements SignatureVerifier.
func (v *StubSignatureVerifier) Verify(packet domain.TelemetryPacket) bool {
	if !packetShapeOK(packet) {
		return false
	}
	if _, ok := v.keys[packet.PubKeyID]; !ok {
		return false
	}
	return packet.Signature == packet.HashHex+":"+packet.PubKeyID
}

// packetShapeOK applies the checks shared by every verification mode.
func packetShapeOK(packet domain.TelemetryPacket) bool {
	if packet.DeviceID == "" || packet.PubKeyID == "" {
		return false
	}
	if !codec.IsHex64(packet.HashHex) {
		return false
	}
	return len(packet.Signature) >= minSignatureLen
}

func parsePublicKey(pemText string) crypto.PublicKey {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil
	}
	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		return key
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key
	}
	return nil
}
