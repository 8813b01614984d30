package decode

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
)

var (
	magicPDF  = []byte("%PDF-")
	magicJPEG = []byte{0xFF, 0xD8, 0xFF}
	magicPNG  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}
	magicZIP  = []byte("PK\x03\x04")
	magicZIP0 = []byte("PK\x05\x06") // empty archive
)

// Sniff classifies content by its leading bytes. The declared name and MIME
// type are never trusted.
func Sniff(data []byte) (string, error) {
	switch {
	case bytes.HasPrefix(data, magicPDF):
		return constants.KindPDF, nil
	case bytes.HasPrefix(data, magicJPEG):
		return constants.KindJPEG, nil
	case bytes.HasPrefix(data, magicPNG):
		return constants.KindPNG, nil
	case bytes.HasPrefix(data, magicZIP), bytes.HasPrefix(data, magicZIP0):
		return constants.KindZIP, nil
	}
	return "", common.ErrUnsupportedFormat
}

// Check is the admission test run at submit time. It rejects content that
// can never decode and archives that contain nothing supported. A zip whose
// directory cannot be read is admitted and fails later as a per-file
// CorruptArchive.
func Check(name string, data []byte) (string, error) {
	kind, err := Sniff(data)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	if kind != constants.KindZIP {
		return kind, nil
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return kind, nil
	}
	for _, f := range zr.File {
		if skipEntry(f) {
			continue
		}
		if constants.IsAllowedExt(path.Ext(f.Name)) {
			return kind, nil
		}
	}
	return "", fmt.Errorf("%s: archive has no supported entries: %w", name, common.ErrEmptyBatch)
}

// skipEntry filters directories and OS metadata that archivers add.
func skipEntry(f *zip.File) bool {
	if f.FileInfo().IsDir() {
		return true
	}
	name := f.Name
	if strings.HasPrefix(name, "__MACOSX/") {
		return true
	}
	base := path.Base(name)
	return strings.HasPrefix(base, ".")
}
