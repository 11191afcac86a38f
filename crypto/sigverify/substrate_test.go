package sigverify

import (
	"crypto/rand"
	"encoding/hex"
	"testing"

	schnorrkel "github.com/ChainSafe/go-schnorrkel"

	"github.com/taoliq/incentived/crypto/ss58"
	"github.com/taoliq/incentived/params"
)

type substrateSigner struct {
	secret  *schnorrkel.SecretKey
	address string
}

func newSubstrateSigner(t *testing.T) *substrateSigner {
	t.Helper()
	mini, err := schnorrkel.GenerateMiniSecretKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	pub := mini.Public().Encode()
	addr, err := ss58.Encode(pub[:], params.SS58Prefix)
	if err != nil {
		t.Fatalf("ss58 encode failed: %v", err)
	}
	return &substrateSigner{secret: mini.ExpandEd25519(), address: addr}
}

func (s *substrateSigner) sign(t *testing.T, payload []byte) string {
	t.Helper()
	transcript := schnorrkel.NewSigningContext(signingContext, payload)
	sig, err := s.secret.Sign(transcript)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	enc := sig.Encode()
	return "0x" + hex.EncodeToString(enc[:])
}

func TestVerifySubstratePlain(t *testing.T) {
	signer := newSubstrateSigner(t)
	msg := "0xpool1,60;0xpool2,40|12345"
	sigHex := signer.sign(t, []byte(msg))

	if err := VerifySubstrate(msg, sigHex, signer.address); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
}

func TestVerifySubstrateWrapped(t *testing.T) {
	signer := newSubstrateSigner(t)
	msg := "claim|0xabc|5Gxx|100|0xabc"
	wrapped := "<Bytes>" + msg + "</Bytes>"
	sigHex := signer.sign(t, []byte(wrapped))

	if err := VerifySubstrate(msg, sigHex, signer.address); err != nil {
		t.Fatalf("wrapped signature rejected: %v", err)
	}
}

func TestVerifySubstrateRawMarker(t *testing.T) {
	signer := newSubstrateSigner(t)
	payload, _ := hex.DecodeString("deadbeef")
	sigHex := signer.sign(t, payload)
	marked := "0x0101" + sigHex[2:]

	if err := VerifySubstrate("0xdeadbeef", marked, signer.address); err != nil {
		t.Fatalf("raw-marker signature rejected: %v", err)
	}
}

func TestVerifySubstrateRejects(t *testing.T) {
	signer := newSubstrateSigner(t)
	other := newSubstrateSigner(t)
	msg := "0xpool,100|99"
	sigHex := signer.sign(t, []byte(msg))

	if err := VerifySubstrate(msg, sigHex, other.address); err == nil {
		t.Fatal("signature accepted for wrong address")
	}
	if err := VerifySubstrate(msg+"tampered", sigHex, signer.address); err == nil {
		t.Fatal("tampered message accepted")
	}
	if err := VerifySubstrate(msg, "0x0101beef", signer.address); err == nil {
		t.Fatal("truncated marker signature accepted")
	}
	if err := VerifySubstrate(msg, sigHex, "not-an-address"); err == nil {
		t.Fatal("garbage address accepted")
	}
	if err := VerifySubstrate(msg, "zz", signer.address); err == nil {
		t.Fatal("non-hex signature accepted")
	}
}
