// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
)

var (
	// ErrInvalidSession indicates a token that cannot be resumed.
	ErrInvalidSession = errors.New("invalid session")

	// ErrInvalidTransition indicates a status change the graph forbids.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrSessionInProgress indicates another run holds the session.
	ErrSessionInProgress = errors.New("session already in progress")

	// ErrTokenReplayed indicates a suspension token that was already resumed.
	ErrTokenReplayed = errors.New("session token already used")
)

const (
	tokenVersion byte = 1

	// MinSecretLength is the shortest accepted signing secret.
	MinSecretLength = 32

	// MaxTokenLength bounds accepted tokens before any decoding.
	MaxTokenLength = 4 << 20
)

// Codec turns states into opaque, tamper-evident tokens and back.
//
// # Description
//
// A token is base64url(version || JSON || HMAC-SHA256(version || JSON)).
// The signing key is held in a memguard enclave and only decrypted for the
// duration of a MAC computation. Any token that fails to decode, verify or
// validate is rejected with ErrInvalidSession.
//
// Deserialize(Serialize(s)) equals s for every s that passes Validate.
//
// # Thread Safety
//
// Safe for concurrent use.
type Codec struct {
	key *memguard.Enclave
}

// NewCodec creates a codec signing with secret. The secret buffer is wiped.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes", MinSecretLength)
	}
	return &Codec{key: memguard.NewEnclave(secret)}, nil
}

// NewRandomCodec creates a codec with a random per-process key. Tokens do
// not survive a restart.
func NewRandomCodec() *Codec {
	return &Codec{key: memguard.NewEnclaveRandom(MinSecretLength)}
}

// Serialize encodes a valid state.
func (c *Codec) Serialize(s *State) (string, error) {
	if err := s.Validate(); err != nil {
		return "", fmt.Errorf("serialize session: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return "", fmt.Errorf("serialize session: %w", err)
	}
	payload := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))

	msg := make([]byte, 0, 1+len(payload)+sha256.Size)
	msg = append(msg, tokenVersion)
	msg = append(msg, payload...)
	mac, err := c.sign(msg)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(append(msg, mac...)), nil
}

// Deserialize decodes and verifies a token.
//
// # Outputs
//
//   - *State: The decoded state.
//   - error: Wraps ErrInvalidSession on any failure.
func (c *Codec) Deserialize(token string) (*State, error) {
	if token == "" || len(token) > MaxTokenLength {
		return nil, fmt.Errorf("%w: malformed token", ErrInvalidSession)
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed token", ErrInvalidSession)
	}
	if len(raw) < 1+sha256.Size {
		return nil, fmt.Errorf("%w: token too short", ErrInvalidSession)
	}
	if raw[0] != tokenVersion {
		return nil, fmt.Errorf("%w: unsupported token version %d", ErrInvalidSession, raw[0])
	}

	msg, mac := raw[:len(raw)-sha256.Size], raw[len(raw)-sha256.Size:]
	want, err := c.sign(msg)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal(mac, want) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidSession)
	}

	dec := json.NewDecoder(bytes.NewReader(msg[1:]))
	dec.DisallowUnknownFields()
	var s State
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	return &s, nil
}

func (c *Codec) sign(msg []byte) ([]byte, error) {
	key, err := c.key.Open()
	if err != nil {
		return nil, fmt.Errorf("open session key: %w", err)
	}
	defer key.Destroy()

	h := hmac.New(sha256.New, key.Bytes())
	h.Write(msg)
	return h.Sum(nil), nil
}
