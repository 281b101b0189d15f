package crypto

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bountyforge/bountyforge-ledger/internal/address"
)

func testKey(seed byte) ed25519.PrivateKey {
	buf := make([]byte, ed25519.SeedSize)
	buf[0] = seed
	return ed25519.NewKeyFromSeed(buf)
}

func writeKeyFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestSignAndVerify(t *testing.T) {
	s := NewSigner(testKey(1))
	sig := s.Sign([]byte("payload"))
	require.True(t, Verify(s.Public, []byte("payload"), sig))
	require.False(t, Verify(s.Public, []byte("payload2"), sig))
	require.False(t, Verify(s.Public, []byte("payload"), "%%%"))
	require.Regexp(t, `^ed25519:[0-9a-f]{16}$`, s.KeyID)
	require.Equal(t, []byte(s.Public), s.Identity().Bytes())
}

func TestVerifyCaller(t *testing.T) {
	agent := NewSigner(testKey(2))
	other := NewSigner(testKey(3))
	body := []byte(`{"task_id":7}`)

	require.NoError(t, VerifyCaller(agent.Identity(), body, agent.Sign(body)))

	err := VerifyCaller(agent.Identity(), body, other.Sign(body))
	require.True(t, errors.Is(err, ErrBadSignature))

	err = VerifyCaller(address.Address{}, body, agent.Sign(body))
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestLoadSignerFormats(t *testing.T) {
	priv := testKey(4)
	pub := priv.Public().(ed25519.PublicKey)
	pubPath := writeKeyFile(t, "ledger.pub", base64.StdEncoding.EncodeToString(pub)+"\n")

	seedPath := writeKeyFile(t, "seed.key", base64.RawURLEncoding.EncodeToString(priv.Seed()))
	s, err := LoadSigner(seedPath, pubPath)
	require.NoError(t, err)
	require.Equal(t, pub, s.Public)

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	pemPath := writeKeyFile(t, "ledger.pem", string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})))
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	pubPEMPath := writeKeyFile(t, "ledger.pub.pem", string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})))
	s, err = LoadSigner(pemPath, pubPEMPath)
	require.NoError(t, err)
	require.Equal(t, NewSigner(priv).KeyID, s.KeyID)
}

func TestLoadSignerRejectsMismatchedPair(t *testing.T) {
	priv := testKey(5)
	stranger := testKey(6).Public().(ed25519.PublicKey)
	_, err := LoadSigner(
		writeKeyFile(t, "ledger.key", base64.StdEncoding.EncodeToString(priv.Seed())),
		writeKeyFile(t, "ledger.pub", base64.StdEncoding.EncodeToString(stranger)),
	)
	require.ErrorContains(t, err, "does not match")

	_, err = LoadSigner(filepath.Join(t.TempDir(), "missing"), "")
	require.ErrorContains(t, err, "read private key")

	_, err = ParsePublicKey(base64.StdEncoding.EncodeToString([]byte("short")))
	require.Error(t, err)
}

func TestRequestPayloadBindsRoute(t *testing.T) {
	body := []byte(`{}`)
	base := RequestPayload("POST", "/v1/bounties/42/settle", 1700000000, body)
	require.Equal(t, base, RequestPayload("post", "/v1/bounties/42/settle", 1700000000, body))
	require.NotEqual(t, base, RequestPayload("POST", "/v1/bounties/43/settle", 1700000000, body))
	require.NotEqual(t, base, RequestPayload("POST", "/v1/bounties/42/submit", 1700000000, body))
	require.NotEqual(t, base, RequestPayload("POST", "/v1/bounties/42/settle", 1700000001, body))
	require.NotEqual(t, base, RequestPayload("POST", "/v1/bounties/42/settle", 1700000000, []byte(`{"agent":null}`)))

	creator := NewSigner(testKey(7))
	sig := creator.Sign(base)
	require.NoError(t, VerifyCaller(creator.Identity(), base, sig))
	require.ErrorIs(t, VerifyCaller(creator.Identity(), RequestPayload("POST", "/v1/bounties/43/settle", 1700000000, body), sig), ErrBadSignature)
}
