// Package armory implements the .shuriken package format: a fixed magic
// header, CBOR-encoded package metadata, a gzip-compressed tar archive of
// the unit's files, and a trailing SHA-256 digest over the archive bytes.
package armory

import (
	"github.com/core-tools/hsu-shuriken-go/pkg/errors"
)

// Metadata is the package-level identity record carried inside a .shuriken
// file. It is immutable once decoded.
type Metadata struct {
	Name        string   `cbor:"name"`
	ID          string   `cbor:"id"`
	Platform    string   `cbor:"platform"`
	Version     string   `cbor:"version"`
	Synopsis    string   `cbor:"synopsis,omitempty"`
	Postinstall string   `cbor:"postinstall,omitempty"`
	Description string   `cbor:"description,omitempty"`
	Authors     []string `cbor:"authors,omitempty"`
	License     string   `cbor:"license,omitempty"`
}

// Validate checks the fields required to build or install a package.
func (m *Metadata) Validate() error {
	if m.Name == "" {
		return errors.NewValidationError("package name cannot be empty", nil)
	}
	if m.ID == "" {
		return errors.NewValidationError("package id cannot be empty", nil).WithContext("name", m.Name)
	}
	if m.Platform == "" {
		return errors.NewValidationError("package platform tag cannot be empty", nil).WithContext("name", m.Name)
	}
	if m.Version == "" {
		return errors.NewValidationError("package version cannot be empty", nil).WithContext("name", m.Name)
	}
	return nil
}
