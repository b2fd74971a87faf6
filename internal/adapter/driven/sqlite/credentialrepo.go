package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/ericfisherdev/spacewake/internal/domain/model"
	"github.com/ericfisherdev/spacewake/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port interface.
// Secrets are encrypted with AES-256-GCM before write and decrypted after read.
// A cleared credential is stored with an empty secret column.
type CredentialRepo struct {
	db  *DB
	key []byte // 32-byte AES-256 key; nil when encryption is disabled.
}

// NewCredentialRepo creates a new CredentialRepo. key must be 32 bytes for AES-256-GCM,
// or nil to disable credential storage (all operations will return driven.ErrEncryptionKeyNotSet).
func NewCredentialRepo(db *DB, key []byte) *CredentialRepo {
	return &CredentialRepo{db: db, key: key}
}

// Put stores or replaces the owner's credential.
func (r *CredentialRepo) Put(ctx context.Context, cred model.Credential) error {
	if r.key == nil {
		return driven.ErrEncryptionKeyNotSet
	}

	var encrypted string
	if cred.Secret != "" {
		var err error
		if encrypted, err = r.encrypt(cred.Secret); err != nil {
			return err
		}
	}

	const query = `
		INSERT OR REPLACE INTO credentials
			(owner_id, secret, issued_at, expires_at, resource_name, github_login, repo_full_name, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Writer.ExecContext(ctx, query,
		cred.OwnerID,
		encrypted,
		formatTime(cred.IssuedAt),
		nullableTime(cred.ExpiresAt),
		cred.ResourceName,
		cred.GitHubLogin,
		cred.RepoFullName,
		formatTime(cred.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put credential for %s: %w", cred.OwnerID, err)
	}
	return nil
}

// Get retrieves the owner's credential with its secret decrypted.
// Returns (nil, nil) if the owner has no credential.
func (r *CredentialRepo) Get(ctx context.Context, ownerID string) (*model.Credential, error) {
	if r.key == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}

	const query = credentialSelect + ` WHERE owner_id = ?`
	cred, err := r.scanCredential(r.db.Reader.QueryRowContext(ctx, query, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential for %s: %w", ownerID, err)
	}
	return &cred, nil
}

// ListAll returns all stored credentials with decrypted secrets, ordered by owner ID.
func (r *CredentialRepo) ListAll(ctx context.Context) ([]model.Credential, error) {
	if r.key == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}

	const query = credentialSelect + ` ORDER BY owner_id`
	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		cred, err := r.scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}

	return creds, nil
}

// Delete removes the owner's credential.
func (r *CredentialRepo) Delete(ctx context.Context, ownerID string) error {
	const query = `DELETE FROM credentials WHERE owner_id = ?`
	_, err := r.db.Writer.ExecContext(ctx, query, ownerID)
	if err != nil {
		return fmt.Errorf("delete credential for %s: %w", ownerID, err)
	}
	return nil
}

const credentialSelect = `
	SELECT owner_id, secret, issued_at, expires_at, resource_name, github_login, repo_full_name, updated_at
	FROM credentials`

func (r *CredentialRepo) scanCredential(row rowScanner) (model.Credential, error) {
	var (
		cred                model.Credential
		encrypted           string
		issuedAt, updatedAt string
		expiresAt           sql.NullString
	)
	if err := row.Scan(
		&cred.OwnerID,
		&encrypted,
		&issuedAt,
		&expiresAt,
		&cred.ResourceName,
		&cred.GitHubLogin,
		&cred.RepoFullName,
		&updatedAt,
	); err != nil {
		return model.Credential{}, err
	}

	if encrypted != "" {
		plaintext, err := r.decrypt(encrypted)
		if err != nil {
			return model.Credential{}, fmt.Errorf("decrypt credential for %s: %w", cred.OwnerID, err)
		}
		cred.Secret = plaintext
	}

	var err error
	if cred.IssuedAt, err = parseTime(issuedAt); err != nil {
		return model.Credential{}, fmt.Errorf("parse issued_at: %w", err)
	}
	if cred.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return model.Credential{}, fmt.Errorf("parse expires_at: %w", err)
	}
	if cred.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Credential{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return cred, nil
}

// encrypt encrypts plaintext using AES-256-GCM and returns a base64-encoded string
// containing the nonce (12 bytes) prepended to the ciphertext.
func (r *CredentialRepo) encrypt(plaintext string) (string, error) {
	if r.key == nil {
		return "", driven.ErrEncryptionKeyNotSet
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a base64-encoded AES-256-GCM ciphertext.
func (r *CredentialRepo) decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}

	return string(plaintext), nil
}
