/*
NAME
  z85_test.go

LICENSE
  Copyright (C) 2024 Opendigitalradio.
  Licensed under the Apache License, Version 2.0.
*/

package sink

import (
	"bytes"
	"os"
	"testing"
)

func TestDecodeZ85Zero(t *testing.T) {
	got, err := decodeZ85("00000")
	if err != nil {
		t.Fatalf("decodeZ85() error: %v", err)
	}
	want := []byte{0, 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Errorf("decodeZ85(\"00000\") = %v, want %v", got, want)
	}
}

func TestDecodeZ85One(t *testing.T) {
	got, err := decodeZ85("00001")
	if err != nil {
		t.Fatalf("decodeZ85() error: %v", err)
	}
	want := []byte{0, 0, 0, 1}
	if !bytes.Equal(got, want) {
		t.Errorf("decodeZ85(\"00001\") = %v, want %v", got, want)
	}
}

func TestDecodeZ85BadLength(t *testing.T) {
	if _, err := decodeZ85("0000"); err == nil {
		t.Error("decodeZ85() with length 4: want error")
	}
}

func TestDecodeZ85BadCharacter(t *testing.T) {
	if _, err := decodeZ85("0000\x01"); err == nil {
		t.Error("decodeZ85() with invalid character: want error")
	}
}

func TestLoadCurveSecretKeyWrongLength(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/key.z85"
	if err := os.WriteFile(path, []byte("tooshort"), 0o600); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
	if _, err := loadCurveSecretKey(path); err == nil {
		t.Error("loadCurveSecretKey() with short key: want error")
	}
}
