package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Alignment positions cell content within its column.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignCenter
	AlignRight
)

// TableStyle selects the border characters a table is drawn with.
type TableStyle struct {
	Name       string
	Horizontal string
	Vertical   string
	Cross      string
}

var (
	// DefaultTableStyle draws plain ASCII borders.
	DefaultTableStyle = TableStyle{Name: "default", Horizontal: "-", Vertical: "|", Cross: "+"}

	// RoundedTableStyle draws Unicode box borders.
	RoundedTableStyle = TableStyle{Name: "rounded", Horizontal: "─", Vertical: "│", Cross: "┼"}

	// MinimalTableStyle separates columns with spaces only.
	MinimalTableStyle = TableStyle{Name: "minimal", Horizontal: "", Vertical: " ", Cross: ""}
)

// Table accumulates rows and renders them as an aligned text table that
// fits the terminal width.
type Table struct {
	headers    []string
	rows       [][]string
	alignments map[int]Alignment
	style      TableStyle
	maxWidth   int
	colors     ColorSystem
}

// NewTable creates an empty table in the default style. A maxWidth of 0
// means detect the terminal width.
func NewTable(colors ColorSystem, maxWidth int) *Table {
	return &Table{
		alignments: make(map[int]Alignment),
		style:      DefaultTableStyle,
		maxWidth:   maxWidth,
		colors:     colors,
	}
}

// SetHeaders sets the header row.
func (t *Table) SetHeaders(headers ...string) {
	t.headers = headers
}

// AddRow appends one data row.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// SetAlignment sets how one column's cells are positioned.
func (t *Table) SetAlignment(column int, alignment Alignment) {
	t.alignments[column] = alignment
}

// SetStyle switches the border style.
func (t *Table) SetStyle(style TableStyle) {
	t.style = style
}

// Render returns the formatted table.
func (t *Table) Render() string {
	columns := t.columnCount()
	if columns == 0 {
		return ""
	}

	widths := t.columnWidths(columns)
	var builder strings.Builder

	if len(t.headers) > 0 {
		builder.WriteString(t.renderRow(t.headers, widths, true))
		builder.WriteString("\n")
		if separator := t.renderSeparator(widths); separator != "" {
			builder.WriteString(separator)
			builder.WriteString("\n")
		}
	}
	for _, row := range t.rows {
		builder.WriteString(t.renderRow(row, widths, false))
		builder.WriteString("\n")
	}
	return builder.String()
}

// RenderTo writes the formatted table to the writer.
func (t *Table) RenderTo(writer io.Writer) {
	fmt.Fprint(writer, t.Render())
}

func (t *Table) columnCount() int {
	columns := len(t.headers)
	for _, row := range t.rows {
		if len(row) > columns {
			columns = len(row)
		}
	}
	return columns
}

func (t *Table) columnWidths(columns int) []int {
	widths := make([]int, columns)
	measure := func(row []string) {
		for i, cell := range row {
			if w := utf8.RuneCountInString(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	if len(t.headers) > 0 {
		measure(t.headers)
	}
	for _, row := range t.rows {
		measure(row)
	}
	return t.clampWidths(widths)
}

// clampWidths shrinks the widest columns until the table fits the
// available width.
func (t *Table) clampWidths(widths []int) []int {
	limit := t.maxWidth
	if limit <= 0 {
		limit = terminalWidth()
	}

	separators := (len(widths) - 1) * (utf8.RuneCountInString(t.style.Vertical) + 2)
	total := separators
	for _, w := range widths {
		total += w
	}
	for total > limit {
		widest := 0
		for i := range widths {
			if widths[i] > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= 8 {
			break
		}
		widths[widest]--
		total--
	}
	return widths
}

func (t *Table) renderRow(row []string, widths []int, isHeader bool) string {
	cells := make([]string, len(widths))
	for i := range widths {
		content := ""
		if i < len(row) {
			content = row[i]
		}
		cells[i] = t.formatCell(content, widths[i], t.alignments[i], isHeader)
	}
	return strings.TrimRight(strings.Join(cells, " "+t.style.Vertical+" "), " ")
}

func (t *Table) renderSeparator(widths []int) string {
	if t.style.Horizontal == "" {
		return ""
	}
	parts := make([]string, len(widths))
	for i, w := range widths {
		parts[i] = strings.Repeat(t.style.Horizontal, w)
	}
	joint := t.style.Horizontal + t.style.Cross + t.style.Horizontal
	return strings.Join(parts, joint)
}

func (t *Table) formatCell(content string, width int, alignment Alignment, isHeader bool) string {
	runes := utf8.RuneCountInString(content)
	if runes > width {
		content = truncate(content, width)
		runes = width
	}

	padding := width - runes
	switch alignment {
	case AlignRight:
		content = strings.Repeat(" ", padding) + content
	case AlignCenter:
		left := padding / 2
		content = strings.Repeat(" ", left) + content + strings.Repeat(" ", padding-left)
	default:
		content += strings.Repeat(" ", padding)
	}

	if isHeader && t.colors != nil {
		return t.colors.Colorize(content, t.colors.Theme().Highlight)
	}
	return content
}

func truncate(content string, width int) string {
	if width <= 1 {
		return "…"
	}
	runes := []rune(content)
	return string(runes[:width-1]) + "…"
}

func terminalWidth() int {
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}
	return 120
}
