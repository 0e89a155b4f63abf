/*
NAME
  z85.go

DESCRIPTION
  z85.go decodes ZeroMQ CURVE secret keys stored in Z85 text form (RFC
  32), the format zmq_z85_decode expects and the one ODR tooling writes
  key files in.

LICENSE
  Copyright (C) 2024 Opendigitalradio.
  Licensed under the Apache License, Version 2.0.
*/

package sink

import (
	"bytes"
	"fmt"
	"os"
	"strings"
)

const z85Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ.-:+=^!/*?&<>()[]{}@%$#"

var z85Decode [256]int8

func init() {
	for i := range z85Decode {
		z85Decode[i] = -1
	}
	for i := 0; i < len(z85Alphabet); i++ {
		z85Decode[z85Alphabet[i]] = int8(i)
	}
}

// decodeZ85 decodes a Z85 string into bytes. len(s) must be a multiple
// of 5, and the output is 4*len(s)/5 bytes.
func decodeZ85(s string) ([]byte, error) {
	if len(s)%5 != 0 {
		return nil, fmt.Errorf("sink: Z85 input length %d is not a multiple of 5", len(s))
	}

	out := make([]byte, 0, 4*len(s)/5)
	for i := 0; i < len(s); i += 5 {
		var value uint32
		for j := 0; j < 5; j++ {
			c := s[i+j]
			d := z85Decode[c]
			if d < 0 {
				return nil, fmt.Errorf("sink: invalid Z85 character %q", c)
			}
			value = value*85 + uint32(d)
		}
		out = append(out, byte(value>>24), byte(value>>16), byte(value>>8), byte(value))
	}
	return out, nil
}

// loadCurveSecretKey reads a 40-character Z85-encoded CURVE secret key
// from path and returns the decoded 32-byte key.
func loadCurveSecretKey(path string) ([32]byte, error) {
	var key [32]byte

	raw, err := os.ReadFile(path)
	if err != nil {
		return key, fmt.Errorf("sink: reading CURVE key file: %w", err)
	}

	text := strings.TrimSpace(string(bytes.TrimRight(raw, "\n")))
	if len(text) != 40 {
		return key, fmt.Errorf("sink: CURVE key file must hold a 40-character Z85 key, got %d characters", len(text))
	}

	decoded, err := decodeZ85(text)
	if err != nil {
		return key, err
	}
	copy(key[:], decoded)
	return key, nil
}
