// Package report shapes aggregated EAS test data into the four stacked
// tables of a monthly compliance report. Blocks are plain row/column data;
// styling is left to the artifact formats.
package report

import (
	"strings"
	"time"

	"github.com/IliadMediaGroup/EAS-XML-Parser/internal/eas"
)

const (
	// NotParsed marks a cell with no timestamp for its week or direction.
	NotParsed = "Not parsed"
	// SectionName is the artifact section the report occupies.
	SectionName = "EAS Alerts"
)

// Block titles.
const (
	TitleWeeklyReceived = "Required Weekly Tests (Received)"
	TitleWeeklySent     = "Required Weekly Tests (Sent)"
	TitleMonthly        = "Required Monthly Tests"
	TitleSignOff        = "Weekly EAS Review"
)

// Within-one-hour values.
const (
	WithinYes = "Yes"
	WithinNo  = "No"
	WithinNA  = "N/A"
)

// BlockKind identifies one of the report tables.
type BlockKind string

const (
	KindWeekly  BlockKind = "weekly"
	KindMonthly BlockKind = "monthly"
	KindSignOff BlockKind = "signoff"
)

// Cell is one report value.
type Cell struct {
	Value   string `json:"value"`
	Missing bool   `json:"missing,omitempty"` // value is the not-parsed marker
	Label   bool   `json:"label,omitempty"`   // row label rendered like a header
}

// Row is a table row. Its last cell spans to the block width.
type Row []Cell

// Block is one titled table.
type Block struct {
	Kind   BlockKind `json:"kind"`
	Title  string    `json:"title"`
	Header []string  `json:"header"`
	Rows   []Row     `json:"rows"`
	Width  int       `json:"width"` // columns spanned by the title
	Gap    int       `json:"gap"`   // blank rows after the block
}

// Height is the number of rows the block occupies, title and header included.
func (b Block) Height() int {
	return 2 + len(b.Rows)
}

// Report is the complete report for one month.
type Report struct {
	MonthKey string   `json:"month"`
	Weeks    []string `json:"weeks"`
	Blocks   []Block  `json:"blocks"`
}

// Build assembles the four blocks in report order from a merged aggregate.
func Build(agg *eas.Aggregate) *Report {
	weeks := agg.Weeks()
	return &Report{
		MonthKey: agg.MonthKey(),
		Weeks:    weeks,
		Blocks: []Block{
			WeeklyTable(TitleWeeklyReceived, agg.Weekly, weeks, eas.Received),
			WeeklyTable(TitleWeeklySent, agg.Weekly, weeks, eas.Sent),
			MonthlyTable(TitleMonthly, agg.Monthly, len(weeks)+2),
			SignOffTable(weeks, len(weeks)+2),
		},
	}
}

func newCell(value string) Cell {
	return Cell{Value: value, Missing: strings.EqualFold(value, NotParsed)}
}

// WeeklyTable builds one weekly table for the keys in direction dir. Each
// cell holds the earliest timestamp of its week, or NotParsed.
func WeeklyTable(title string, data eas.Buckets, weeks []string, dir eas.Direction) Block {
	header := make([]string, 0, len(weeks)+2)
	header = append(header, "Monitor/LP")
	header = append(header, weeks...)
	header = append(header, "Notes")

	block := Block{
		Kind:   KindWeekly,
		Title:  title,
		Header: header,
		Width:  len(header),
		Gap:    1,
	}

	for _, key := range data.Keys() {
		if key.Direction != dir {
			continue
		}
		row := make(Row, 0, len(header))
		row = append(row, Cell{Value: key.Monitor})
		for _, week := range weeks {
			value := NotParsed
			if ts := data.Get(key, week); len(ts) > 0 {
				value = eas.ChooseTimestamp(ts)
			}
			row = append(row, newCell(value))
		}
		row = append(row, Cell{})
		block.Rows = append(block.Rows, row)
	}
	return block
}

// MonthlyPick is the earliest monthly test seen in one direction.
type MonthlyPick struct {
	Time      time.Time
	Timestamp string
	Monitor   string
}

// SummarizeMonthly picks, per direction, the earliest resolved timestamp
// across all monitors. Ties keep the first pick in (monitor, direction,
// week) order. Cells whose timestamp cannot be parsed are ignored.
func SummarizeMonthly(data eas.Buckets) map[eas.Direction]MonthlyPick {
	picks := make(map[eas.Direction]MonthlyPick)
	for _, key := range data.Keys() {
		for _, week := range data.Weeks(key) {
			ts := data.Get(key, week)
			if len(ts) == 0 {
				continue
			}
			chosen := eas.ChooseTimestamp(ts)
			t, err := eas.ParseTimestamp(chosen)
			if err != nil {
				continue
			}
			if cur, ok := picks[key.Direction]; !ok || t.Before(cur.Time) {
				picks[key.Direction] = MonthlyPick{Time: t, Timestamp: chosen, Monitor: key.Monitor}
			}
		}
	}
	return picks
}

// WithinOneHour reports whether the sent test followed the received one
// within an hour, inclusive. Sent before received counts as "No".
func WithinOneHour(picks map[eas.Direction]MonthlyPick) string {
	rcv, okR := picks[eas.Received]
	sent, okS := picks[eas.Sent]
	if !okR || !okS {
		return WithinNA
	}
	diff := sent.Time.Sub(rcv.Time)
	if diff >= 0 && diff <= time.Hour {
		return WithinYes
	}
	return WithinNo
}

// MonthlyTable builds the monthly summary: one RMT row per direction and
// the within-one-hour row. width is widened to fit the header if needed.
func MonthlyTable(title string, data eas.Buckets, width int) Block {
	header := []string{"Monitor/LP", "Alert Type", "Timestamp", "Notes"}
	block := Block{
		Kind:   KindMonthly,
		Title:  title,
		Header: header,
		Width:  max(width, len(header)),
		Gap:    1,
	}

	picks := SummarizeMonthly(data)
	for _, dir := range eas.Directions() {
		pick, ok := picks[dir]
		if !ok {
			block.Rows = append(block.Rows, Row{{}, {Value: string(eas.Monthly)}, newCell(NotParsed), {}})
			continue
		}
		block.Rows = append(block.Rows, Row{
			{Value: pick.Monitor},
			{Value: string(eas.Monthly)},
			newCell(pick.Timestamp),
			{},
		})
	}

	block.Rows = append(block.Rows, Row{
		{Value: "Within 1 Hour?", Label: true},
		{Value: WithinOneHour(picks)},
	})
	return block
}

// SignOffTable builds the manual review template: one row per week with
// blank initials and notes.
func SignOffTable(weeks []string, width int) Block {
	header := []string{"Week", "Initials", "Notes"}
	block := Block{
		Kind:   KindSignOff,
		Title:  TitleSignOff,
		Header: header,
		Width:  max(width, len(header)),
		Gap:    2,
	}
	for _, week := range weeks {
		block.Rows = append(block.Rows, Row{{Value: week}, {}, {}})
	}
	return block
}

// Placement is a block positioned at a 1-based starting row.
type Placement struct {
	Block Block
	Row   int
}

// Layout stacks blocks from row start, leaving each block's gap after it.
// It returns the placements and the next free row.
func Layout(blocks []Block, start int) ([]Placement, int) {
	placements := make([]Placement, 0, len(blocks))
	row := start
	for _, b := range blocks {
		placements = append(placements, Placement{Block: b, Row: row})
		row += b.Height() + b.Gap
	}
	return placements, row
}

// Columns returns the widest column count among the blocks.
func (r *Report) Columns() int {
	cols := 0
	for _, b := range r.Blocks {
		cols = max(cols, b.Width)
	}
	return cols
}
