package eas

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/encoding/ianaindex"
)

// EntryReader loads the entry records of one log document.
type EntryReader interface {
	// Read returns every <entry> of the document at path. A malformed
	// document is an error; malformed entries are returned as-is and left
	// for the classifier to drop.
	Read(path string) ([]LogEntry, error)
}

// Compile-time interface check
var _ EntryReader = (*Reader)(nil)

// Reader reads EAS XML log exports from disk.
type Reader struct {
	maxSizeMB int
}

// NewReader creates a reader that refuses files larger than maxSizeMB.
func NewReader(maxSizeMB int) *Reader {
	return &Reader{maxSizeMB: maxSizeMB}
}

// Read implements EntryReader.
func (r *Reader) Read(path string) ([]LogEntry, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("log file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}
	if fileInfo.IsDir() {
		return nil, fmt.Errorf("log path is a directory: %s", path)
	}

	if fileInfo.Mode().Perm()&0400 == 0 {
		return nil, fmt.Errorf("log file is not readable: %s", path)
	}

	maxBytes := int64(r.maxSizeMB) * 1024 * 1024
	if fileInfo.Size() > maxBytes {
		return nil, fmt.Errorf("log file exceeds maximum size of %dMB (size: %s)",
			r.maxSizeMB, humanize.Bytes(uint64(fileInfo.Size())))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	entries, err := DecodeEntries(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return entries, nil
}

// GetSourceInfo returns metadata about a log file.
func (r *Reader) GetSourceInfo(path string) (map[string]interface{}, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"size_bytes": fileInfo.Size(),
		"size":       humanize.Bytes(uint64(fileInfo.Size())),
		"modified":   fileInfo.ModTime(),
		"age_hours":  time.Since(fileInfo.ModTime()).Hours(),
	}, nil
}

// DecodeEntries decodes every <entry> element of an XML document, at any
// depth and in document order. An entry nested inside another is returned
// as well. Only the first direct <details>, <date> and <type> child of an
// entry counts, and its value is the text before its first child element.
// The whole document must be well formed.
func DecodeEntries(r io.Reader) ([]LogEntry, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charsetReader

	var (
		entries []LogEntry
		open    []*entryFrame
		depth   int
		sawRoot bool
	)
	top := func() *entryFrame {
		if len(open) == 0 {
			return nil
		}
		return open[len(open)-1]
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed XML: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			sawRoot = true
			frame := top()
			if frame != nil && frame.field != nil {
				frame.field.sealed = true
			}
			if t.Name.Local == "entry" {
				entries = append(entries, LogEntry{})
				open = append(open, &entryFrame{index: len(entries) - 1, depth: depth})
				continue
			}
			if frame == nil || frame.field != nil || depth != frame.depth+1 {
				continue
			}
			if target := entries[frame.index].field(t.Name.Local); target != nil && *target == nil {
				frame.field = &fieldCapture{name: t.Name.Local, depth: depth}
			}

		case xml.CharData:
			if frame := top(); frame != nil && frame.field != nil && !frame.field.sealed {
				frame.field.text.Write(t)
			}

		case xml.EndElement:
			if frame := top(); frame != nil {
				switch {
				case frame.field != nil && frame.field.depth == depth:
					text := frame.field.text.String()
					*entries[frame.index].field(frame.field.name) = &text
					frame.field = nil
				case frame.depth == depth:
					open = open[:len(open)-1]
				}
			}
			depth--
		}
	}

	if !sawRoot {
		return nil, fmt.Errorf("malformed XML: no root element")
	}
	return entries, nil
}

// entryFrame is an <entry> still open while decoding.
type entryFrame struct {
	index int // position in the decoded entries
	depth int
	field *fieldCapture
}

// fieldCapture collects the text of a field element of an entry.
type fieldCapture struct {
	name   string
	depth  int
	text   strings.Builder
	sealed bool // a child element started, later text is not the field value
}

// field returns the entry field an element name decodes into, or nil.
func (e *LogEntry) field(name string) **string {
	switch name {
	case "details":
		return &e.Details
	case "date":
		return &e.Date
	case "type":
		return &e.Type
	}
	return nil
}

// charsetReader lets encoder exports declared as ISO-8859-1 or
// windows-1252 decode alongside UTF-8 ones.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
	return enc.NewDecoder().Reader(input), nil
}
