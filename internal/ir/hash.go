package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes keep hashes of different kinds of content apart.
const (
	DomainFingerprint = "harvest/fingerprint/v1"
	DomainRow         = "harvest/row/v1"
	DomainRelation    = "harvest/relation/v1"
)

// hashWithDomain computes SHA256(domain || 0x00 || data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// FingerprintKey hashes the canonical encoding of a skip block fingerprint.
func FingerprintKey(canonical []byte) string {
	return hashWithDomain(DomainFingerprint, canonical)
}

// RowKey identifies an extracted relation row by the xpath, text and link
// of each cell. Cursors use it to avoid delivering a row twice.
func RowKey(row []NodeRep) (string, error) {
	cells := make(List, len(row))
	for i, c := range row {
		cells[i] = Strings(c.XPath, c.Text, c.Link)
	}
	data, err := MarshalCanonical(cells)
	if err != nil {
		return "", fmt.Errorf("row key: %w", err)
	}
	return hashWithDomain(DomainRow, data), nil
}

// RelationSignature identifies a relation by page url and row pattern, the
// key the relation catalogue ranks candidates under.
func RelationSignature(url, rowXPath string) string {
	data, _ := MarshalCanonical(Strings(url, rowXPath))
	return hashWithDomain(DomainRelation, data)
}
