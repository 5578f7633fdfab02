package artifact

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/IliadMediaGroup/EAS-XML-Parser/internal/report"
)

// FilePrefix starts every artifact file name.
const FilePrefix = "EAS_"

// FileName returns the artifact file name for a month key.
func FileName(monthKey string, format Format) string {
	return FilePrefix + monthKey + format.Extension()
}

// WriteResult describes a completed or attempted write.
type WriteResult struct {
	Path string
	// Created is true when a new document was started rather than an
	// existing one updated.
	Created bool
	// LoadFallback holds the load error when an existing artifact could
	// not be opened and a new document replaced it.
	LoadFallback error
}

// Write stores rep in the month's artifact under dir, updating the report
// section of an existing artifact in place. A result is returned even when
// saving fails so callers can report the path.
func Write(dir string, format Format, rep *report.Report) (*WriteResult, error) {
	if rep.MonthKey == "" {
		return nil, fmt.Errorf("report has no month")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	res := &WriteResult{Path: filepath.Join(dir, FileName(rep.MonthKey, format))}

	doc, err := open(format, res)
	if err != nil {
		return res, err
	}
	defer func() { _ = doc.Close() }()

	if err := doc.ReplaceSection(report.SectionName, rep); err != nil {
		return res, fmt.Errorf("failed to write report section: %w", err)
	}
	if err := doc.Save(res.Path); err != nil {
		return res, fmt.Errorf("failed to save report: %w", err)
	}
	return res, nil
}

func open(format Format, res *WriteResult) (Document, error) {
	if _, err := os.Stat(res.Path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat report: %w", err)
		}
		res.Created = true
		return format.New(), nil
	}

	doc, err := format.Load(res.Path)
	if err != nil {
		res.Created = true
		res.LoadFallback = err
		return format.New(), nil
	}
	return doc, nil
}
