// Package sigverify verifies the two signature families accepted by the
// coordinator: sr25519 signatures from subnet hotkeys and personal_sign
// signatures from EVM accounts.
package sigverify

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	schnorrkel "github.com/ChainSafe/go-schnorrkel"

	"github.com/taoliq/incentived/crypto/ss58"
	"github.com/taoliq/incentived/params"
)

var (
	ErrInvalidSignature = errors.New("sigverify: invalid signature")
	ErrInvalidAddress   = errors.New("sigverify: invalid address")
)

// signingContext is the sr25519 transcript context substrate wallets sign
// under.
var signingContext = []byte("substrate")

// rawMarker prefixes signatures produced by wallets that signed the raw-byte
// form of the message. The two marker bytes are stripped before
// verification and the remaining payload must be a plain 64-byte signature.
var rawMarker = []byte{0x01, 0x01}

// VerifySubstrate checks an sr25519 signature over msg for the SS58 address.
// Signatures carrying the 0x0101 raw marker are verified against the
// raw-byte representation of msg; all others against its UTF-8 string form.
func VerifySubstrate(msg, sigHex, address string) error {
	_, pub, err := ss58.Decode(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	// Any prefix decodes, but the canonical form must round-trip.
	canonical, err := ss58.Encode(pub, params.SS58Prefix)
	if err != nil || canonical != address {
		return ErrInvalidAddress
	}

	sig, err := decodeHex(sigHex)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var payload []byte
	switch {
	case len(sig) == 66 && sig[0] == rawMarker[0] && sig[1] == rawMarker[1]:
		sig = sig[2:]
		payload = rawMessageBytes(msg)
	case len(sig) == 64:
		payload = []byte(msg)
	default:
		return fmt.Errorf("%w: signature length %d", ErrInvalidSignature, len(sig))
	}

	if verifySR25519(pub, sig, payload) {
		return nil
	}
	// polkadot-js signRaw wraps the payload before signing.
	wrapped := append(append([]byte("<Bytes>"), payload...), []byte("</Bytes>")...)
	if verifySR25519(pub, sig, wrapped) {
		return nil
	}
	return ErrInvalidSignature
}

// rawMessageBytes yields the byte form of msg: hex-decoded when msg is a
// 0x-prefixed hex string, its UTF-8 bytes otherwise.
func rawMessageBytes(msg string) []byte {
	if strings.HasPrefix(msg, "0x") {
		if b, err := hex.DecodeString(msg[2:]); err == nil {
			return b
		}
	}
	return []byte(msg)
}

func verifySR25519(pub, sig, payload []byte) bool {
	if len(pub) != 32 || len(sig) != 64 {
		return false
	}
	var pubArr [32]byte
	copy(pubArr[:], pub)
	pk, err := schnorrkel.NewPublicKey(pubArr)
	if err != nil {
		return false
	}
	var sigArr [64]byte
	copy(sigArr[:], sig)
	s := new(schnorrkel.Signature)
	if err := s.Decode(sigArr); err != nil {
		return false
	}
	transcript := schnorrkel.NewSigningContext(signingContext, payload)
	ok, err := pk.Verify(s, transcript)
	return ok && err == nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	return hex.DecodeString(s)
}
