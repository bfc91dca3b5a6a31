// Copyright 2026 ERPilot, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package vault encrypts third-party credentials with versioned symmetric keys.
//
// Credentials are open maps (OAuth tokens, API keys, provider metadata).
// Each ciphertext records the key version it was sealed with so a re-key
// campaign can run while old connections are still being read.
package vault

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// PlaceholderKey is the value shipped in example configs. Encryption with
// it must fail so misconfigured deployments never store real credentials.
const PlaceholderKey = "change-me"

// Vault seals and opens credential maps with XChaCha20-Poly1305.
type Vault struct {
	keys    map[int][]byte // version -> 32-byte key
	primary int
}

// New creates a vault. keys maps version numbers to base64-encoded 32-byte
// keys; primary is the version used for new encryptions.
func New(keys map[int]string, primary int) (*Vault, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("vault requires at least one key")
	}
	decoded := make(map[int][]byte, len(keys))
	for version, encoded := range keys {
		if encoded == PlaceholderKey {
			// Keep the version registered but unusable; Encrypt fails closed.
			decoded[version] = nil
			continue
		}
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("vault key v%d is not valid base64: %w", version, err)
		}
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("vault key v%d must be %d bytes, got %d", version, chacha20poly1305.KeySize, len(key))
		}
		decoded[version] = key
	}
	if _, ok := decoded[primary]; !ok {
		return nil, fmt.Errorf("primary key version %d not present", primary)
	}
	return &Vault{keys: decoded, primary: primary}, nil
}

// Encrypt seals a credential map and returns an opaque string of the form
// "v{version}:{base64(nonce||ciphertext)}".
func (v *Vault) Encrypt(creds map[string]string) (string, error) {
	key := v.keys[v.primary]
	if key == nil {
		return "", fmt.Errorf("vault primary key v%d is a placeholder; refusing to encrypt", v.primary)
	}

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("failed to marshal credentials: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return fmt.Sprintf("v%d:%s", v.primary, base64.StdEncoding.EncodeToString(sealed)), nil
}

// Decrypt opens an opaque string produced by Encrypt, using the key version
// recorded in its prefix.
func (v *Vault) Decrypt(opaque string) (map[string]string, error) {
	version, payload, err := parseOpaque(opaque)
	if err != nil {
		return nil, err
	}

	key, ok := v.keys[version]
	if !ok || key == nil {
		return nil, fmt.Errorf("no usable vault key for version %d", version)
	}

	sealed, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("ciphertext is not valid base64: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	var creds map[string]string
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("decrypted payload is not a credential map: %w", err)
	}
	return creds, nil
}

// PrimaryVersion returns the key version used for new encryptions. Stored
// alongside each connection so re-key campaigns can find stale rows.
func (v *Vault) PrimaryVersion() int {
	return v.primary
}

func parseOpaque(opaque string) (int, string, error) {
	prefix, payload, ok := strings.Cut(opaque, ":")
	if !ok || !strings.HasPrefix(prefix, "v") {
		return 0, "", fmt.Errorf("malformed ciphertext: missing version prefix")
	}
	version, err := strconv.Atoi(prefix[1:])
	if err != nil {
		return 0, "", fmt.Errorf("malformed ciphertext: bad version %q", prefix)
	}
	return version, payload, nil
}
