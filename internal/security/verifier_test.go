package security

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agrichain/telemetry-gateway/internal/domain"
	"github.com/agrichain/telemetry-gateway/internal/utils"
)

func stubPacket(hash, keyID string) domain.TelemetryPacket {
	return domain.TelemetryPacket{
		DeviceID:  "stm32-node-1",
		Timestamp: 1700001000,
		HashHex:   hash,
		Signature: hash + ":" + keyID,
		PubKeyID:  keyID,
		Transport: "wifi",
	}
}

func TestStubVerifier_AcceptsCanonicalForm(t *testing.T) {
	hash := utils.Sha256Hex("payload")
	v := NewStubSignatureVerifier(PublicKeyMap{"default-pubkey": "stub"})

	if !v.Verify(stubPacket(hash, "default-pubkey")) {
		t.Fatal("expected stub signature to verify")
	}
}

func TestStubVerifier_Rejections(t *testing.T) {
	hash := utils.Sha256Hex("payload")
	v := NewStubSignatureVerifier(PublicKeyMap{"default-pubkey": "stub"})

	cases := []struct {
		name   string
		mutate func(*domain.TelemetryPacket)
	}{
		{"empty deviceId", func(p *domain.TelemetryPacket) { p.DeviceID = "" }},
		{"empty pubKeyId", func(p *domain.TelemetryPacket) { p.PubKeyID = "" }},
		{"bad hash form", func(p *domain.TelemetryPacket) { p.HashHex = "zz" + p.HashHex[2:] }},
		{"short signature", func(p *domain.TelemetryPacket) { p.Signature = "short" }},
		{"unknown key", func(p *domain.TelemetryPacket) {
			p.PubKeyID = "ghost"
			p.Signature = p.HashHex + ":ghost"
		}},
		{"wrong signature", func(p *domain.TelemetryPacket) { p.Signature = p.Signature + "00" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := stubPacket(hash, "default-pubkey")
			tc.mutate(&p)
			if v.Verify(p) {
				t.Fatal("expected rejection")
			}
		})
	}
}

func marshalPublicKeyPEM(t *testing.T, pub any) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func TestBasicVerifier_ECDSA(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	v := NewBasicSignatureVerifier(PublicKeyMap{"node-key-1": marshalPublicKeyPEM(t, &priv.PublicKey)})
	if v.KeyCount() != 1 {
		t.Fatalf("KeyCount = %d, want 1", v.KeyCount())
	}

	hash := utils.Sha256Hex("canonical-payload")
	digest := sha256.Sum256([]byte(hash)) // signs the ASCII digest text
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	p := domain.TelemetryPacket{
		DeviceID:  "dev-1",
		HashHex:   hash,
		Signature: hex.EncodeToString(sig),
		PubKeyID:  "node-key-1",
	}
	if !v.Verify(p) {
		t.Fatal("expected ECDSA signature to verify")
	}

	p.HashHex = utils.Sha256Hex("tampered")
	if v.Verify(p) {
		t.Fatal("expected tampered hash to fail")
	}
}

func TestBasicVerifier_Ed25519AndBadKeys(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	v := NewBasicSignatureVerifier(PublicKeyMap{
		"ed-key":  marshalPublicKeyPEM(t, pub),
		"garbage": "not a pem block",
	})
	if v.KeyCount() != 1 {
		t.Fatalf("unparseable PEM must be dropped, KeyCount = %d", v.KeyCount())
	}

	hash := utils.Sha256Hex("reading")
	p := domain.TelemetryPacket{
		DeviceID:  "dev-2",
		HashHex:   hash,
		Signature: hex.EncodeToString(ed25519.Sign(priv, []byte(hash))),
		PubKeyID:  "ed-key",
	}
	if !v.Verify(p) {
		t.Fatal("expected Ed25519 signature to verify")
	}

	p.PubKeyID = "garbage"
	if v.Verify(p) {
		t.Fatal("unparseable key must fail verification")
	}

	p.PubKeyID = "ed-key"
	p.Signature = strings.Repeat("zz", 32) // not hex
	if v.Verify(p) {
		t.Fatal("non-hex signature must fail")
	}
}

func TestLoadPublicKeys(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("node-a.pem", "PEM-A")
	write("node-b.pub", "PEM-B")
	write("node-c.txt", "ignored extension")
	write("empty.pem", "")
	write(".pem", "no stem")
	write("dup.pem", "first")
	write("dup.pub", "second") // sorted after dup.pem, last wins
	if err := os.Mkdir(filepath.Join(dir, "sub.pem"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	keys := LoadPublicKeys(dir)
	if len(keys) != 3 {
		t.Fatalf("loaded %d keys, want 3: %v", len(keys), keys)
	}
	if keys["node-a"] != "PEM-A" || keys["node-b"] != "PEM-B" {
		t.Fatalf("unexpected key contents: %v", keys)
	}
	if keys["dup"] != "second" {
		t.Fatalf("duplicate stem must resolve last-wins, got %q", keys["dup"])
	}
}

func TestLoadPublicKeys_MissingDir(t *testing.T) {
	keys := LoadPublicKeys(filepath.Join(t.TempDir(), "nope"))
	if len(keys) != 0 {
		t.Fatalf("missing directory must yield empty map, got %v", keys)
	}
}
