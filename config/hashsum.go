package config

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"hash/fnv"
)

// Hashsum calculates FNV non-cryptographic hash suitable for checking the equality
func Hashsum(args ...any) ([]byte, error) {
	var b bytes.Buffer
	for _, arg := range args {
		s, err := json.Marshal(arg)
		if err != nil {
			return nil, err
		}
		b.Write(s)
	}
	h := fnv.New128()
	if _, err := h.Write(b.Bytes()); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// HashsumHex returns Hashsum hex encoded
func HashsumHex(args ...any) (string, error) {
	sum, err := Hashsum(args...)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}
