package trongrid

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

const (
	// AddressLength is the length of a base58 mainnet address
	AddressLength = 34
	// AddressPrefix is the version byte of mainnet addresses
	AddressPrefix byte = 0x41

	payloadLength = 21
)

var ErrInvalidAddress = errors.New("invalid tron address")

// DecodeAddress checks the base58check encoding and returns the 21-byte payload (0x41 + 20 bytes).
func DecodeAddress(addr string) ([]byte, error) {
	if len(addr) != AddressLength || addr[0] != 'T' {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}

	raw, err := base58.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != payloadLength+4 || raw[0] != AddressPrefix {
		return nil, fmt.Errorf("%w: bad payload", ErrInvalidAddress)
	}

	payload, sum := raw[:payloadLength], raw[payloadLength:]
	if !bytes.Equal(checksum(payload), sum) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}
	return payload, nil
}

// EncodeAddress encodes a 21-byte payload as a base58check address.
func EncodeAddress(payload []byte) (string, error) {
	if len(payload) != payloadLength || payload[0] != AddressPrefix {
		return "", fmt.Errorf("%w: payload must be %d bytes starting with 0x41", ErrInvalidAddress, payloadLength)
	}

	buf := make([]byte, 0, payloadLength+4)
	buf = append(buf, payload...)
	buf = append(buf, checksum(payload)...)
	return base58.Encode(buf), nil
}

// HexToAddress converts the 41-prefixed hex form TronGrid uses in account data.
func HexToAddress(h string) (string, error) {
	payload, err := hex.DecodeString(strings.TrimPrefix(h, "0x"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return EncodeAddress(payload)
}

// IsValidAddress reports whether addr is a well-formed mainnet address.
func IsValidAddress(addr string) bool {
	_, err := DecodeAddress(addr)
	return err == nil
}

func checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:4]
}

// ShortAddr returns a shortened address for display
func ShortAddr(addr string, n int) string {
	if addr == "" {
		return "unknown"
	}
	if len(addr) < n*2+3 {
		return addr
	}
	return addr[:n] + "..." + addr[len(addr)-n:]
}
