package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"image"
)

// SourceFile is one originally submitted file. Immutable once ingested.
type SourceFile struct {
	Name     string
	MIMEType string // declared by the client, may be empty
	Data     []byte
}

// Hash returns the hex sha256 of the content.
func (s SourceFile) Hash() string {
	sum := sha256.Sum256(s.Data)
	return hex.EncodeToString(sum[:])
}

// Page is one decoded raster belonging to a SourceFile.
type Page struct {
	Index int    // 0-based position within the source file
	Entry string // archive entry or "" for top-level documents
	Image image.Image
}
