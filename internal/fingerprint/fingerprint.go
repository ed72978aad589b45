// Package fingerprint computes content-addressed metadata for uploaded
// documents. The hash covers the raw bytes only, never the filename or MIME
// type, so identical content always fingerprints identically regardless of how
// it was named.
package fingerprint

import (
	"encoding/hex"
	"time"

	"golang.org/x/crypto/sha3"

	id "deedgate/pkg/domain"
	dErrors "deedgate/pkg/domain-errors"
)

// HashLength is the length of a hex-encoded Keccak-256 digest including the
// 0x prefix. The oracle rejects structurally invalid hashes before any network
// call, so this is checked on both sides.
const HashLength = 66

// DocumentMetadata is the immutable record created once per uploaded file. It
// is owned by the onboarding record that references it.
type DocumentMetadata struct {
	ID          id.DocumentID `json:"id"`
	DisplayName string        `json:"display_name"`
	MimeType    string        `json:"mime_type"`
	SizeBytes   int64         `json:"size_bytes"`
	ContentHash string        `json:"content_hash"`
	UploadedAt  time.Time     `json:"uploaded_at"`
}

// Fingerprint hashes file bytes into a metadata record. Empty input is
// rejected: the attestation oracle cannot evaluate a zero-length artifact.
// Pure apart from ID generation; safe to call concurrently and repeatedly on
// the same input.
func Fingerprint(fileBytes []byte, name, mimeType string, now time.Time) (DocumentMetadata, error) {
	if len(fileBytes) == 0 {
		return DocumentMetadata{}, dErrors.New(dErrors.CodeBadRequest, "document is empty")
	}
	return DocumentMetadata{
		ID:          id.NewDocumentID(),
		DisplayName: name,
		MimeType:    mimeType,
		SizeBytes:   int64(len(fileBytes)),
		ContentHash: HashBytes(fileBytes),
		UploadedAt:  now,
	}, nil
}

// HashBytes returns the 0x-prefixed Keccak-256 digest of data. Keccak-256
// matches the hash used by the platform's on-chain registries, so fingerprints
// can be compared against chain state without re-hashing.
func HashBytes(data []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// WellFormedHash reports whether s is structurally a valid content hash:
// 0x-prefixed, fixed length, hex body.
func WellFormedHash(s string) bool {
	if len(s) != HashLength || s[0] != '0' || s[1] != 'x' {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}
