package batch

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/IliadMediaGroup/EAS-XML-Parser/internal/artifact"
	"github.com/IliadMediaGroup/EAS-XML-Parser/internal/eas"
	"github.com/IliadMediaGroup/EAS-XML-Parser/internal/logging"
	"github.com/IliadMediaGroup/EAS-XML-Parser/internal/report"
	"github.com/IliadMediaGroup/EAS-XML-Parser/pkg/logger"
)

type entry struct {
	details, date, typ string
}

func writeXML(t *testing.T, dir, name string, entries ...entry) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("<?xml version=\"1.0\"?>\n<log>\n")
	for _, e := range entries {
		sb.WriteString("  <entry><details>" + e.details + "</details><date>" + e.date +
			"</date><type>" + e.typ + "</type></entry>\n")
	}
	sb.WriteString("</log>\n")

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

func weeklyCell(t *testing.T, rep *report.Report, title, monitor, week string) string {
	t.Helper()
	for _, b := range rep.Blocks {
		if b.Title != title {
			continue
		}
		col := -1
		for i, h := range b.Header {
			if h == week {
				col = i
			}
		}
		if col < 0 {
			t.Fatalf("week %s not in %s header %v", week, title, b.Header)
		}
		for _, row := range b.Rows {
			if row[0].Value == monitor {
				return row[col].Value
			}
		}
		t.Fatalf("monitor %s not in %s", monitor, title)
	}
	t.Fatalf("block %s not found", title)
	return ""
}

func TestRunConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  RunConfig
		want error
	}{
		{"no files", RunConfig{OutputDir: "out", Sources: []string{"a"}}, ErrNoFiles},
		{"no output dir", RunConfig{Files: []string{"a.xml"}, OutputDir: "  ", Sources: []string{"a"}}, ErrNoOutputDir},
		{"no sources", RunConfig{Files: []string{"a.xml"}, OutputDir: "out"}, ErrNoSources},
		{"valid", RunConfig{Files: []string{"a.xml"}, OutputDir: "out", Sources: []string{"a"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

type countingReader struct {
	eas.EntryReader
	reads []string
}

func (r *countingReader) Read(path string) ([]eas.LogEntry, error) {
	r.reads = append(r.reads, path)
	return r.EntryReader.Read(path)
}

func TestRun_ChecksTargetsBeforeSample(t *testing.T) {
	dir := t.TempDir()
	sample := writeXML(t, dir, "sample.xml", entry{"RWT received from WXYZ", "04/08/25 08:00:00", "Received"})

	tests := []struct {
		name      string
		cfg       RunConfig
		want      error
		wantReads int
	}{
		{"no files", RunConfig{OutputDir: dir}, ErrNoFiles, 0},
		{"no output dir", RunConfig{Files: []string{sample}}, ErrNoOutputDir, 0},
		{"selected sources skip sample", RunConfig{Files: []string{sample}, OutputDir: dir, Sources: []string{"wxyz"}}, nil, 1},
		{"sources from sample", RunConfig{Files: []string{sample}, OutputDir: dir}, nil, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := &countingReader{EntryReader: eas.NewReader(DefaultMaxSizeMB)}
			cfg := tt.cfg
			cfg.Format = artifact.FormatJSON

			res, err := NewProcessor(WithReader(reader)).Run(cfg, sample)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Run() error = %v, want %v", err, tt.want)
			}
			if len(reader.reads) != tt.wantReads {
				t.Errorf("reads = %v, want %d", reader.reads, tt.wantReads)
			}
			if tt.want == nil && res.MonthKey != "2025-04" {
				t.Errorf("MonthKey = %q, want 2025-04", res.MonthKey)
			}
		})
	}
}

func TestRun_MissingSample(t *testing.T) {
	dir := t.TempDir()
	file := writeXML(t, dir, "a.xml", entry{"RWT received from WXYZ", "04/08/25 08:00:00", "Received"})

	_, err := NewProcessor().Run(RunConfig{Files: []string{file}, OutputDir: dir}, filepath.Join(dir, "missing.xml"))
	if err == nil || !strings.Contains(err.Error(), "failed to resolve monitor sources") {
		t.Errorf("Run() error = %v, want a source resolution error", err)
	}
}

func TestProcessBatch_MergesEarliestTimestamp(t *testing.T) {
	dir := t.TempDir()
	first := writeXML(t, dir, "a.xml", entry{"RWT received from WXYZ", "04/01/25 08:00:00", "Received"})
	second := writeXML(t, dir, "b.xml", entry{"RWT received from WXYZ", "04/01/25 07:30:00", "Received"})

	res, err := NewProcessor().ProcessBatch(RunConfig{
		Files:     []string{first, second},
		Sources:   []string{"wxyz"},
		OutputDir: filepath.Join(dir, "out"),
	})
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	if !res.Saved() {
		t.Fatalf("report not saved: %v", res.SaveErr)
	}
	if res.MonthKey != "2025-03" {
		t.Errorf("MonthKey = %s, want 2025-03 (week of Sunday March 30)", res.MonthKey)
	}
	if res.WeeklyEvents != 2 {
		t.Errorf("WeeklyEvents = %d, want 2", res.WeeklyEvents)
	}
	if got := weeklyCell(t, res.Report, report.TitleWeeklyReceived, "wxyz", "2025-03-30"); got != "04/01/25 07:30:00" {
		t.Errorf("merged cell = %s, want 04/01/25 07:30:00", got)
	}
	if filepath.Base(res.OutputPath) != "EAS_2025-03.xlsx" {
		t.Errorf("OutputPath = %s", res.OutputPath)
	}
	if _, err := uuid.Parse(res.RunID); err != nil {
		t.Errorf("RunID %q is not a uuid: %v", res.RunID, err)
	}
}

func TestProcessBatch_DropsUnknownType(t *testing.T) {
	dir := t.TempDir()
	path := writeXML(t, dir, "a.xml",
		entry{"RWT wxyz", "04/08/25 08:00:00", "Received"},
		entry{"RWT wxyz", "04/15/25 08:00:00", "Test"},
		entry{"RMT wxyz", "04/16/25 08:00:00", "Test"},
	)

	res, err := NewProcessor().ProcessBatch(RunConfig{
		Files:     []string{path},
		Sources:   []string{"wxyz"},
		OutputDir: dir,
		Format:    artifact.FormatJSON,
	})
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}

	if !reflect.DeepEqual(res.Report.Weeks, []string{"2025-04-06"}) {
		t.Errorf("Weeks = %v; the Test entry must add no column", res.Report.Weeks)
	}
	if res.Files[0].Events != 1 || res.Files[0].Entries != 3 {
		t.Errorf("outcome = %+v", res.Files[0])
	}
	if res.MonthlyEvents != 0 {
		t.Errorf("MonthlyEvents = %d, want 0", res.MonthlyEvents)
	}
	for _, b := range res.Report.Blocks {
		if b.Title == report.TitleWeeklySent && len(b.Rows) != 0 {
			t.Errorf("sent table should be empty, got %v", b.Rows)
		}
	}

	saved, err := artifact.ReadSection(res.OutputPath, report.SectionName)
	if err != nil {
		t.Fatalf("ReadSection() error = %v", err)
	}
	if !reflect.DeepEqual(saved.Weeks, res.Report.Weeks) {
		t.Errorf("saved weeks = %v", saved.Weeks)
	}
}

func TestProcessBatch_SkipsBadFilesAndOtherMonths(t *testing.T) {
	dir := t.TempDir()
	april := writeXML(t, dir, "april.xml", entry{"RWT wxyz", "04/08/25 08:00:00", "Received"})
	broken := filepath.Join(dir, "broken.xml")
	if err := os.WriteFile(broken, []byte("<log><entry>"), 0644); err != nil {
		t.Fatal(err)
	}
	may := writeXML(t, dir, "may.xml",
		entry{"RWT wxyz", "05/06/25 08:00:00", "Received"},
		entry{"RWT wxyz", "04/15/25 08:00:00", "Sent"},
	)

	var buf bytes.Buffer
	log := logging.NewSecure(logger.NewWithWriter(&buf, "debug"))

	res, err := NewProcessor(WithLogger(log)).ProcessBatch(RunConfig{
		Files:     []string{april, broken, may},
		Sources:   []string{"wxyz"},
		OutputDir: dir,
		Format:    artifact.FormatJSON,
	})
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}

	if res.SkippedFiles() != 1 || !res.Files[1].Skipped() {
		t.Errorf("broken file should be skipped: %+v", res.Files)
	}
	if !reflect.DeepEqual(res.Files[2].Excluded, []string{"2025-05-04"}) {
		t.Errorf("Excluded = %v", res.Files[2].Excluded)
	}
	if !reflect.DeepEqual(res.Report.Weeks, []string{"2025-04-06", "2025-04-13"}) {
		t.Errorf("Weeks = %v", res.Report.Weeks)
	}
	if len(res.Warnings) != 2 {
		t.Errorf("Warnings = %v, want 2", res.Warnings)
	}

	logged := buf.String()
	for _, want := range []string{"Failed to parse file, skipping", "Week outside report month", "2025-05-04", res.RunID, `"sources":["wxyz"]`} {
		if !strings.Contains(logged, want) {
			t.Errorf("log missing %q", want)
		}
	}
}

func TestProcessBatch_EarlyMonthlyTestKeepsMonth(t *testing.T) {
	dir := t.TempDir()
	path := writeXML(t, dir, "april.xml",
		entry{"RMT wxyz", "04/02/25 09:00:00", "Received"},
		entry{"RWT wxyz", "04/08/25 08:00:00", "Received"},
		entry{"RWT wxyz", "04/15/25 08:00:00", "Received"},
	)

	res, err := NewProcessor().ProcessBatch(RunConfig{
		Files:     []string{path},
		Sources:   []string{"wxyz"},
		OutputDir: dir,
	})
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}

	if res.MonthKey != "2025-04" {
		t.Errorf("MonthKey = %s, want 2025-04", res.MonthKey)
	}
	if filepath.Base(res.OutputPath) != "EAS_2025-04.xlsx" {
		t.Errorf("OutputPath = %s", res.OutputPath)
	}
	if !reflect.DeepEqual(res.Report.Weeks, []string{"2025-04-06", "2025-04-13"}) {
		t.Errorf("Weeks = %v", res.Report.Weeks)
	}
	if len(res.Warnings) != 0 || len(res.Files[0].Excluded) != 0 {
		t.Errorf("nothing should be excluded: %v", res.Warnings)
	}
	if res.MonthlyEvents != 1 {
		t.Errorf("MonthlyEvents = %d, want 1", res.MonthlyEvents)
	}
	for _, b := range res.Report.Blocks {
		if b.Kind == report.KindMonthly && b.Rows[0][2].Value != "04/02/25 09:00:00" {
			t.Errorf("monthly received = %v, want the April 2 RMT", b.Rows[0])
		}
	}
}

func TestProcessBatch_NoMonthData(t *testing.T) {
	dir := t.TempDir()
	path := writeXML(t, dir, "a.xml", entry{"RWT kqed", "04/08/25 08:00:00", "Received"})

	res, err := NewProcessor().ProcessBatch(RunConfig{
		Files:     []string{path},
		Sources:   []string{"wxyz"},
		OutputDir: filepath.Join(dir, "out"),
	})
	if !errors.Is(err, ErrNoMonthData) {
		t.Fatalf("ProcessBatch() error = %v, want ErrNoMonthData", err)
	}
	if res.OutputPath != "" {
		t.Error("no artifact should be written")
	}
	if _, err := os.Stat(filepath.Join(dir, "out")); !os.IsNotExist(err) {
		t.Error("output directory should not be created")
	}
}

func TestProcessBatch_RerunPreservesOtherContent(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	first := writeXML(t, dir, "a.xml", entry{"RWT wxyz", "04/08/25 08:00:00", "Received"})

	p := NewProcessor()
	res, err := p.ProcessBatch(RunConfig{Files: []string{first}, Sources: []string{"wxyz"}, OutputDir: out})
	if err != nil || !res.Created {
		t.Fatalf("first run: res=%+v err=%v", res, err)
	}

	f, err := excelize.OpenFile(res.OutputPath)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if _, err := f.NewSheet("Manual"); err != nil {
		t.Fatal(err)
	}
	_ = f.SetCellValue("Manual", "B2", "keep me")
	if err := f.SaveAs(res.OutputPath); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	second := writeXML(t, dir, "b.xml", entry{"RWT wxyz", "04/15/25 09:00:00", "Sent"})
	res, err = p.ProcessBatch(RunConfig{Files: []string{first, second}, Sources: []string{"wxyz"}, OutputDir: out})
	if err != nil {
		t.Fatalf("second run error = %v", err)
	}
	if res.Created {
		t.Error("second run should update the existing artifact")
	}

	f, err = excelize.OpenFile(res.OutputPath)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer func() { _ = f.Close() }()

	if v, _ := f.GetCellValue("Manual", "B2"); v != "keep me" {
		t.Errorf("content outside the report section lost: %q", v)
	}
	if v, _ := f.GetCellValue(report.SectionName, "C2"); v != "2025-04-13" {
		t.Errorf("report section not updated, C2 = %q", v)
	}
}

func TestProcessBatch_LoadFallbackAndSaveError(t *testing.T) {
	dir := t.TempDir()
	path := writeXML(t, dir, "a.xml", entry{"RWT wxyz", "04/08/25 08:00:00", "Received"})

	if err := os.WriteFile(filepath.Join(dir, "EAS_2025-04.xlsx"), []byte("junk"), 0644); err != nil {
		t.Fatal(err)
	}
	res, err := NewProcessor().ProcessBatch(RunConfig{Files: []string{path}, Sources: []string{"wxyz"}, OutputDir: dir})
	if err != nil {
		t.Fatalf("load fallback must not fail the run: %v", err)
	}
	if res.LoadFallback == nil || !res.Saved() {
		t.Errorf("result = %+v", res)
	}

	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(blocked, "EAS_2025-04.json"), 0755); err != nil {
		t.Fatal(err)
	}
	res, err = NewProcessor().ProcessBatch(RunConfig{
		Files:     []string{path},
		Sources:   []string{"wxyz"},
		OutputDir: blocked,
		Format:    artifact.FormatJSON,
	})
	if err != nil {
		t.Fatalf("save failure must not fail the run: %v", err)
	}
	if res.SaveErr == nil || res.Saved() {
		t.Errorf("expected SaveErr, got %+v", res)
	}
}

func TestProcessBatch_UnknownFormat(t *testing.T) {
	_, err := NewProcessor().ProcessBatch(RunConfig{
		Files:     []string{"a.xml"},
		Sources:   []string{"wxyz"},
		OutputDir: t.TempDir(),
		Format:    "pdf",
	})
	if err == nil || !strings.Contains(err.Error(), "unsupported report format") {
		t.Errorf("ProcessBatch() error = %v", err)
	}
}

func TestDiscoverAndResolveSources(t *testing.T) {
	dir := t.TempDir()
	sample := writeXML(t, dir, "sample.xml",
		entry{"Required Weekly Test WXYZ", "04/08/25 08:00:00", "Received"},
		entry{"RMT relayed KABC 2025", "04/09/25 08:00:00", "Sent"},
	)

	p := NewProcessor()
	sources, err := p.DiscoverMonitorSources(sample)
	if err != nil {
		t.Fatalf("DiscoverMonitorSources() error = %v", err)
	}
	if !reflect.DeepEqual(sources, []string{"kabc", "relayed", "wxyz"}) {
		t.Errorf("sources = %v", sources)
	}

	got, err := p.ResolveSources(nil, sample)
	if err != nil || !reflect.DeepEqual(got, sources) {
		t.Errorf("ResolveSources(nil) = %v, %v; want all detected", got, err)
	}
	got, err = p.ResolveSources([]string{"wxyz"}, sample)
	if err != nil || !reflect.DeepEqual(got, []string{"wxyz"}) {
		t.Errorf("ResolveSources(selected) = %v, %v", got, err)
	}
	if _, err := p.ResolveSources(nil, ""); !errors.Is(err, ErrNoSources) {
		t.Errorf("ResolveSources without sample = %v, want ErrNoSources", err)
	}
	if _, err := p.DiscoverMonitorSources(filepath.Join(dir, "missing.xml")); err == nil {
		t.Error("DiscoverMonitorSources() should fail on a missing sample")
	}
}

type lastMatcher struct{}

func (lastMatcher) Match(details string, sources []string) (string, bool) {
	for i := len(sources) - 1; i >= 0; i-- {
		if strings.Contains(details, strings.ToLower(sources[i])) {
			return sources[i], true
		}
	}
	return "", false
}

func TestProcessBatch_WithMatcher(t *testing.T) {
	dir := t.TempDir()
	path := writeXML(t, dir, "a.xml", entry{"RWT alpha beta", "04/08/25 08:00:00", "Sent"})

	res, err := NewProcessor(WithMatcher(lastMatcher{})).ProcessBatch(RunConfig{
		Files:     []string{path},
		Sources:   []string{"alpha", "beta"},
		OutputDir: dir,
		Format:    artifact.FormatJSON,
	})
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	if got := weeklyCell(t, res.Report, report.TitleWeeklySent, "beta", "2025-04-06"); got == "" {
		t.Error("custom matcher should attribute to beta")
	}
}

var _ eas.SourceMatcher = lastMatcher{}
