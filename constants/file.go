package constants

import (
	"path/filepath"
	"strings"
)

// PresentationMIME is the content type of .pptx uploads.
const PresentationMIME = "application/vnd.openxmlformats-officedocument.presentationml.presentation"

// AllowedExtensions holds the file extensions accepted for conversion.
var AllowedExtensions = map[string]struct{}{
	"pptx": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// AllowedFile reports whether name carries an accepted extension.
func AllowedFile(name string) bool {
	_, ok := AllowedExtensions[NormalizeExt(filepath.Ext(name))]
	return ok
}

// PDFMIME is the content type of converted artifacts.
const PDFMIME = "application/pdf"
