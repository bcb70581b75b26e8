// Package fsmeta computes the stable identity and content fingerprint of a
// file on disk: the FileMetadataExtractor of the indexing pipeline.
package fsmeta

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docvault/docvault/internal/errors"
)

// Type is a closed tag set describing a file's content family.
type Type string

const (
	TypeText     Type = "text"
	TypeMarkdown Type = "markdown"
	TypeCode     Type = "code"
	TypeJSON     Type = "json"
	TypeCSV      Type = "csv"
	TypeHTML     Type = "html"
	TypeXML      Type = "xml"
	TypePDF      Type = "pdf"
	TypeDOCX     Type = "docx"
	TypeOther    Type = "other"
)

var extensionTypes = map[string]Type{
	".txt":  TypeText,
	".md":   TypeMarkdown,
	".mdx":  TypeMarkdown,
	".json": TypeJSON,
	".csv":  TypeCSV,
	".html": TypeHTML,
	".htm":  TypeHTML,
	".xml":  TypeXML,
	".pdf":  TypePDF,
	".docx": TypeDOCX,
	".doc":  TypeDOCX,
	".rtf":  TypeText,
	".go":   TypeCode,
	".py":   TypeCode,
	".js":   TypeCode,
	".ts":   TypeCode,
	".tsx":  TypeCode,
	".jsx":  TypeCode,
	".java": TypeCode,
	".c":    TypeCode,
	".cpp":  TypeCode,
	".h":    TypeCode,
	".rs":   TypeCode,
	".rb":   TypeCode,
}

// Metadata is the extractor's output for a single file.
type Metadata struct {
	FileID     string
	Path       string
	Name       string
	Size       int64
	Type       Type
	Hash       string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// StableID returns sha256(path) truncated to a stable 16-hex-char width.
// The same path always yields the same id regardless of content.
func StableID(path string) string {
	h := sha256.Sum256([]byte(path))
	return hex.EncodeToString(h[:])[:16]
}

// ContentHash returns sha256(bytes), used for change detection only, never
// as an identity.
func ContentHash(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DetectType maps a lowercased file extension onto the closed tag set.
func DetectType(path string) Type {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	return TypeOther
}

// Extract reads path's stat and content to build its Metadata. It never
// substitutes zero values for an unreadable path; callers see FileUnreadable.
func Extract(path string) (*Metadata, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.FileUnreadable("cannot resolve absolute path: "+path, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.FileUnreadable("cannot stat file: "+abs, err)
	}
	if info.IsDir() {
		return nil, errors.FileUnreadable("path is a directory: "+abs, nil)
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, errors.FileUnreadable("cannot open file: "+abs, err)
	}
	defer f.Close()

	hash, err := ContentHash(f)
	if err != nil {
		return nil, errors.FileUnreadable("cannot read file: "+abs, err)
	}

	modTime := info.ModTime()
	createdAt := modTime
	if created, ok := creationTime(info); ok {
		createdAt = created
	}

	return &Metadata{
		FileID:     StableID(abs),
		Path:       abs,
		Name:       filepath.Base(abs),
		Size:       info.Size(),
		Type:       DetectType(abs),
		Hash:       hash,
		CreatedAt:  createdAt,
		ModifiedAt: modTime,
	}, nil
}
