package eas

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeLog(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

func TestReader_Read(t *testing.T) {
	tmpDir := t.TempDir()

	path := writeLog(t, tmpDir, "log.xml", `<?xml version="1.0"?>
<log>
  <entry><details>RWT from WXYZ</details><date>04/01/25 08:00:00</date><type>Received</type></entry>
  <group>
    <nested>
      <entry><details>RMT KABC</details><date>04/02/25 09:00:00</date><type>Sent</type></entry>
    </nested>
  </group>
  <entry><details>no date here</details><type>Sent</type></entry>
</log>`)

	entries, err := NewReader(10).Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Read() returned %d entries, want 3", len(entries))
	}

	if got := *entries[1].Details; got != "RMT KABC" {
		t.Errorf("nested entry details = %q", got)
	}
	if entries[2].Date != nil {
		t.Errorf("missing <date> should decode as nil, got %q", *entries[2].Date)
	}
	if entries[2].Type == nil || *entries[2].Type != "Sent" {
		t.Error("present <type> should decode")
	}
}

func TestReader_Read_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		setup   func() string
		maxMB   int
		wantErr string
	}{
		{
			name:    "missing file",
			setup:   func() string { return filepath.Join(tmpDir, "nope.xml") },
			maxMB:   10,
			wantErr: "not found",
		},
		{
			name:    "directory",
			setup:   func() string { return tmpDir },
			maxMB:   10,
			wantErr: "directory",
		},
		{
			name: "too large",
			setup: func() string {
				return writeLog(t, tmpDir, "big.xml", "<log>"+strings.Repeat(" ", 2048)+"</log>")
			},
			maxMB:   0,
			wantErr: "exceeds maximum size",
		},
		{
			name: "not readable",
			setup: func() string {
				p := writeLog(t, tmpDir, "locked.xml", "<log/>")
				if err := os.Chmod(p, 0200); err != nil {
					t.Fatalf("chmod: %v", err)
				}
				return p
			},
			maxMB:   10,
			wantErr: "not readable",
		},
		{
			name:    "unclosed root",
			setup:   func() string { return writeLog(t, tmpDir, "broken.xml", "<log><entry><details>RWT") },
			maxMB:   10,
			wantErr: "malformed",
		},
		{
			name:    "empty document",
			setup:   func() string { return writeLog(t, tmpDir, "empty.xml", "") },
			maxMB:   10,
			wantErr: "no root element",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(tt.maxMB).Read(tt.setup())
			if err == nil {
				t.Fatal("Read() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Read() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeEntries_NoEntries(t *testing.T) {
	entries, err := DecodeEntries(strings.NewReader("<log><other/></log>"))
	if err != nil {
		t.Fatalf("DecodeEntries() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestDecodeEntries_NestedEntries(t *testing.T) {
	str := func(s string) *string { return &s }

	tests := []struct {
		name string
		doc  string
		want []LogEntry
	}{
		{
			name: "entry inside entry",
			doc: `<log><entry><details>RWT WXYZ</details><date>04/08/25 08:00:00</date><type>Received</type>` +
				`<entry><details>RMT KABC</details><date>04/09/25 09:00:00</date><type>Sent</type></entry>` +
				`</entry></log>`,
			want: []LogEntry{
				NewLogEntry("RWT WXYZ", "04/08/25 08:00:00", "Received"),
				NewLogEntry("RMT KABC", "04/09/25 09:00:00", "Sent"),
			},
		},
		{
			name: "inner fields do not leak to outer entry",
			doc:  `<log><entry><type>Sent</type><entry><details>RWT WXYZ</details><date>04/08/25 08:00:00</date></entry></entry></log>`,
			want: []LogEntry{
				{Type: str("Sent")},
				{Details: str("RWT WXYZ"), Date: str("04/08/25 08:00:00")},
			},
		},
		{
			name: "entry inside a field",
			doc:  `<log><entry><details>RWT WXYZ<entry><details>RMT KABC</details></entry> tail</details></entry></log>`,
			want: []LogEntry{
				{Details: str("RWT WXYZ")},
				{Details: str("RMT KABC")},
			},
		},
		{
			name: "first field wins",
			doc:  `<log><entry><details>RWT WXYZ</details><details>RMT KABC</details><date/></entry></log>`,
			want: []LogEntry{
				{Details: str("RWT WXYZ"), Date: str("")},
			},
		},
		{
			name: "grandchild fields are ignored",
			doc:  `<log><entry><meta><date>04/08/25 08:00:00</date></meta></entry></log>`,
			want: []LogEntry{{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeEntries(strings.NewReader(tt.doc))
			if err != nil {
				t.Fatalf("DecodeEntries() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("DecodeEntries() returned %d entries, want %d", len(got), len(tt.want))
			}
			for i := range got {
				assertField(t, i, "details", got[i].Details, tt.want[i].Details)
				assertField(t, i, "date", got[i].Date, tt.want[i].Date)
				assertField(t, i, "type", got[i].Type, tt.want[i].Type)
			}
		})
	}
}

func assertField(t *testing.T, i int, name string, got, want *string) {
	t.Helper()
	switch {
	case got == nil && want == nil:
	case got == nil || want == nil:
		t.Errorf("entry %d %s = %v, want %v", i, name, got, want)
	case *got != *want:
		t.Errorf("entry %d %s = %q, want %q", i, name, *got, *want)
	}
}

func TestDecodeEntries_Latin1(t *testing.T) {
	doc := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>" +
		"<log><entry><details>RWT KRB\xc9</details><date>04/01/25 08:00:00</date><type>Sent</type></entry></log>"

	entries, err := DecodeEntries(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("DecodeEntries() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if got := *entries[0].Details; got != "RWT KRB\u00c9" {
		t.Errorf("details = %q, want latin-1 decoded", got)
	}
}

func TestReader_GetSourceInfo(t *testing.T) {
	path := writeLog(t, t.TempDir(), "log.xml", "<log/>")

	info, err := NewReader(10).GetSourceInfo(path)
	if err != nil {
		t.Fatalf("GetSourceInfo() error = %v", err)
	}
	if info["size_bytes"].(int64) != 6 {
		t.Errorf("size_bytes = %v, want 6", info["size_bytes"])
	}
	if _, ok := info["size"]; !ok {
		t.Error("expected humanized size")
	}
}
