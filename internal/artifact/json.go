package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/IliadMediaGroup/EAS-XML-Parser/internal/report"
)

const jsonVersion = "1.0"

// JSONFormat stores reports as a JSON document of named sections. Sections
// it did not write are kept verbatim.
type JSONFormat struct{}

// Compile-time interface check
var _ Format = JSONFormat{}

// Name implements Format.
func (JSONFormat) Name() FormatName { return FormatJSON }

// Extension implements Format.
func (JSONFormat) Extension() string { return ".json" }

// New implements Format.
func (JSONFormat) New() Document {
	return &jsonDocument{}
}

// Load implements Format.
func (JSONFormat) Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var file jsonFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &jsonDocument{sections: file.Sections}, nil
}

// jsonFile is the on-disk layout.
type jsonFile struct {
	Version  string        `json:"version"`
	SavedAt  time.Time     `json:"saved_at"`
	Sections []jsonSection `json:"sections"`
}

type jsonSection struct {
	Name    string          `json:"name"`
	Content json.RawMessage `json:"content"`
}

type jsonDocument struct {
	sections []jsonSection
}

func (d *jsonDocument) SectionNames() []string {
	names := make([]string, 0, len(d.sections))
	for _, s := range d.sections {
		names = append(names, s.Name)
	}
	return names
}

func (d *jsonDocument) ReplaceSection(name string, rep *report.Report) error {
	content, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	for i := range d.sections {
		if d.sections[i].Name == name {
			d.sections[i].Content = content
			return nil
		}
	}
	d.sections = append(d.sections, jsonSection{Name: name, Content: content})
	return nil
}

func (d *jsonDocument) Save(path string) error {
	data, err := json.MarshalIndent(jsonFile{
		Version:  jsonVersion,
		SavedAt:  time.Now(),
		Sections: d.sections,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	// Write to temporary file first (atomic write)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

func (d *jsonDocument) Close() error {
	return nil
}

// ReadSection decodes the named report section of a JSON artifact.
func ReadSection(path, name string) (*report.Report, error) {
	doc, err := JSONFormat{}.Load(path)
	if err != nil {
		return nil, err
	}
	for _, s := range doc.(*jsonDocument).sections {
		if s.Name != name {
			continue
		}
		var rep report.Report
		if err := json.Unmarshal(s.Content, &rep); err != nil {
			return nil, fmt.Errorf("failed to unmarshal section %q: %w", name, err)
		}
		return &rep, nil
	}
	return nil, fmt.Errorf("section %q not found", name)
}
