// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dbsecret implements the local, "db:"-prefixed secretstore.Store
// backend: secrets are stored AES-256-GCM-encrypted in an ordinary table
// column, keyed by a single server-held master key, rather than calling out
// to a cloud secret manager. This is the backend local/dev deployments use
// in place of internal/secretstore/awssm.
package dbsecret

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// Store is a database-table-backed secretstore.Store. Values are encrypted
// with AES-256-GCM before insert and decrypted on Resolve; the table never
// holds plaintext.
type Store struct {
	db  *sql.DB
	key []byte // 32 bytes, AES-256
}

// New wraps db with masterKey, which must be exactly 32 bytes (AES-256).
// It ensures the backing table exists.
func New(ctx context.Context, db *sql.DB, masterKey []byte) (*Store, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("dbsecret: master key must be 32 bytes, got %d", len(masterKey))
	}
	s := &Store{db: db, key: masterKey}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS local_secrets (
			id UUID PRIMARY KEY,
			nonce BYTEA NOT NULL,
			ciphertext BYTEA NOT NULL
		)`); err != nil {
		return nil, fmt.Errorf("dbsecret: create table: %w", err)
	}
	return s, nil
}

// Put encrypts plaintext and stores it under a freshly generated id,
// returning the bare id (without the "db:" prefix secretstore.Router
// strips before calling Resolve).
func (s *Store) Put(ctx context.Context, plaintext string) (string, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("dbsecret: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("dbsecret: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("dbsecret: generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	id := uuid.New()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO local_secrets (id, nonce, ciphertext) VALUES ($1, $2, $3)`,
		id, nonce, ciphertext); err != nil {
		return "", fmt.Errorf("dbsecret: insert: %w", err)
	}
	return id.String(), nil
}

// Resolve decrypts and returns the plaintext stored under id (the secret
// reference with any "db:" prefix already stripped by secretstore.Router).
func (s *Store) Resolve(ctx context.Context, id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("dbsecret: invalid secret id %q: %w", id, err)
	}

	var nonce, ciphertext []byte
	row := s.db.QueryRowContext(ctx, `SELECT nonce, ciphertext FROM local_secrets WHERE id = $1`, parsed)
	if err := row.Scan(&nonce, &ciphertext); err != nil {
		return "", fmt.Errorf("dbsecret: lookup %s: %w", id, err)
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("dbsecret: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("dbsecret: new gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("dbsecret: decrypt %s: %w", id, err)
	}
	return string(plaintext), nil
}

// DecodeMasterKey base64-decodes a master key read from configuration
// (e.g. SECRET_STORE_MASTER_KEY), the same env-var-to-binary-key pattern
// used for other 32-byte secrets in this codebase.
func DecodeMasterKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("dbsecret: decode master key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("dbsecret: master key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}
