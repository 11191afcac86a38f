package chain

import (
	"encoding/binary"

	"github.com/centrifuge/go-substrate-rpc-client/v4/xxhash"
)

// palletName is the subtensor pallet every storage item lives under.
const palletName = "SubtensorModule"

// prefixLen is the pallet+item twox128 pair heading every storage key.
const prefixLen = 32

// storagePrefix builds the twox128(pallet)++twox128(item) key prefix.
func storagePrefix(item string) []byte {
	prefix := xxhash.New128([]byte(palletName)).Sum(nil)
	return append(prefix, xxhash.New128([]byte(item)).Sum(nil)...)
}

// decodeAlphaKey extracts (hotkey, netuid) from a TotalHotkeyAlpha storage
// key. The hotkey is hashed blake2_128concat, so the raw 32 bytes follow a
// 16-byte digest; the trailing netuid is either bare (identity hasher) or
// behind a twox64 digest, and both shapes decode.
func decodeAlphaKey(key []byte) (hotkey []byte, netuid uint16, ok bool) {
	if len(key) < prefixLen+16+32+2 {
		return nil, 0, false
	}
	rest := key[prefixLen+16:]
	hotkey, rest = rest[:32], rest[32:]
	switch len(rest) {
	case 2: // identity
		return hotkey, binary.LittleEndian.Uint16(rest), true
	case 10: // twox64concat
		return hotkey, binary.LittleEndian.Uint16(rest[8:]), true
	}
	return nil, 0, false
}

// decodeRosterKey extracts (netuid, uid) from a Keys storage key. Supported
// suffix shapes: both map keys identity, both twox64concat, or a
// twox64concat netuid with an identity uid.
func decodeRosterKey(key []byte) (netuid, uid uint16, ok bool) {
	if len(key) < prefixLen+4 {
		return 0, 0, false
	}
	rest := key[prefixLen:]
	switch len(rest) {
	case 4:
		return binary.LittleEndian.Uint16(rest[:2]), binary.LittleEndian.Uint16(rest[2:]), true
	case 12:
		return binary.LittleEndian.Uint16(rest[8:10]), binary.LittleEndian.Uint16(rest[10:]), true
	case 20:
		return binary.LittleEndian.Uint16(rest[8:10]), binary.LittleEndian.Uint16(rest[18:]), true
	}
	return 0, 0, false
}
