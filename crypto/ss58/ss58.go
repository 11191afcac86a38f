// Package ss58 implements the substrate SS58 address codec.
//
// An SS58 address is base58(prefix || pubkey || checksum[:2]) where the
// checksum is blake2b-512 over "SS58PRE" || prefix || pubkey. Network
// prefixes below 64 occupy one byte, larger ones two.
package ss58

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// checksumPreamble is mixed into every SS58 checksum.
var checksumPreamble = []byte("SS58PRE")

var (
	ErrBadAddress  = errors.New("ss58: malformed address")
	ErrBadChecksum = errors.New("ss58: checksum mismatch")
	ErrBadPrefix   = errors.New("ss58: unsupported network prefix")
)

// Encode renders a 32-byte public key as an SS58 address under prefix.
func Encode(pubkey []byte, prefix uint16) (string, error) {
	if len(pubkey) != 32 {
		return "", fmt.Errorf("%w: pubkey length %d", ErrBadAddress, len(pubkey))
	}
	var data []byte
	switch {
	case prefix < 64:
		data = append(data, byte(prefix))
	case prefix < 16384:
		// Two-byte form per the SS58 registry encoding.
		first := byte(((prefix & 0x00fc) >> 2) | 0x40)
		second := byte((prefix >> 8) | ((prefix & 0x0003) << 6))
		data = append(data, first, second)
	default:
		return "", ErrBadPrefix
	}
	data = append(data, pubkey...)
	sum := checksum(data)
	data = append(data, sum[:2]...)
	return base58.Encode(data), nil
}

// Decode parses an SS58 address, returning the network prefix and the
// 32-byte public key after checksum verification.
func Decode(address string) (uint16, []byte, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrBadAddress, err)
	}
	if len(raw) < 3 {
		return 0, nil, ErrBadAddress
	}
	var prefix uint16
	var prefixLen int
	switch {
	case raw[0] < 64:
		prefix = uint16(raw[0])
		prefixLen = 1
	case raw[0] < 128:
		if len(raw) < 4 {
			return 0, nil, ErrBadAddress
		}
		lower := (uint16(raw[0]&0x3f) << 2) | (uint16(raw[1]) >> 6)
		upper := uint16(raw[1]&0x3f) << 8
		prefix = (lower | upper) & 0x3fff
		prefixLen = 2
	default:
		return 0, nil, ErrBadPrefix
	}
	if len(raw) != prefixLen+32+2 {
		return 0, nil, fmt.Errorf("%w: payload length %d", ErrBadAddress, len(raw))
	}
	body := raw[:len(raw)-2]
	sum := checksum(body)
	if raw[len(raw)-2] != sum[0] || raw[len(raw)-1] != sum[1] {
		return 0, nil, ErrBadChecksum
	}
	pub := make([]byte, 32)
	copy(pub, raw[prefixLen:prefixLen+32])
	return prefix, pub, nil
}

func checksum(data []byte) [64]byte {
	h, _ := blake2b.New512(nil)
	h.Write(checksumPreamble)
	h.Write(data)
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}
