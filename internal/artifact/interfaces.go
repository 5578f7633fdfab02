// Package artifact persists monthly reports. A report artifact is a
// document with named sections; each run replaces the report section and
// leaves every other section alone. Formats differ only in how a document
// is stored.
package artifact

import "github.com/IliadMediaGroup/EAS-XML-Parser/internal/report"

// Document is an open report artifact.
type Document interface {
	// SectionNames returns the sections in document order.
	SectionNames() []string

	// ReplaceSection drops all content of the named section, creating it if
	// needed, and writes rep into it.
	ReplaceSection(name string, rep *report.Report) error

	// Save writes the document to path.
	Save(path string) error

	// Close releases resources held by the document.
	Close() error
}

// Format creates and loads documents of one storage format.
type Format interface {
	// Name returns the format identifier (e.g., "xlsx", "json").
	Name() FormatName

	// Extension returns the file extension including the dot.
	Extension() string

	// New returns an empty document.
	New() Document

	// Load opens an existing document.
	Load(path string) (Document, error)
}
