package display

import (
	"fmt"
	"io"
	"strings"
)

// Section is a titled block of key-value detail lines.
type Section struct {
	Title string
	Icon  string
	Lines []SectionLine
}

// SectionLine is one labelled value within a section.
type SectionLine struct {
	Label string
	Value string
}

// NewSection creates an empty section.
func NewSection(title string) *Section {
	return &Section{Title: title}
}

// WithIcon sets the icon rendered before the title.
func (s *Section) WithIcon(name string) *Section {
	s.Icon = name
	return s
}

// Add appends one labelled line.
func (s *Section) Add(label string, value interface{}) *Section {
	s.Lines = append(s.Lines, SectionLine{Label: label, Value: fmt.Sprint(value)})
	return s
}

// SectionFormatter renders sections with aligned labels.
type SectionFormatter struct {
	writer io.Writer
	colors ColorSystem
	icons  IconSystem
}

// NewSectionFormatter builds a formatter over the writer.
func NewSectionFormatter(writer io.Writer, colors ColorSystem, icons IconSystem) *SectionFormatter {
	return &SectionFormatter{writer: writer, colors: colors, icons: icons}
}

// Render writes one section.
func (sf *SectionFormatter) Render(section *Section) {
	title := section.Title
	if sf.colors != nil {
		title = sf.colors.Colorize(title, sf.colors.Theme().Primary)
	}
	if section.Icon != "" && sf.icons != nil {
		title = sf.icons.RenderColored(section.Icon, sf.colors) + " " + title
	}
	fmt.Fprintln(sf.writer, title)

	labelWidth := 0
	for _, line := range section.Lines {
		if len(line.Label) > labelWidth {
			labelWidth = len(line.Label)
		}
	}
	for _, line := range section.Lines {
		label := line.Label + strings.Repeat(" ", labelWidth-len(line.Label))
		if sf.colors != nil {
			label = sf.colors.Colorize(label, sf.colors.Theme().Muted)
		}
		fmt.Fprintf(sf.writer, "  %s  %s\n", label, line.Value)
	}
}

// RenderAll writes sections separated by blank lines.
func (sf *SectionFormatter) RenderAll(sections []*Section) {
	for i, section := range sections {
		if i > 0 {
			fmt.Fprintln(sf.writer)
		}
		sf.Render(section)
	}
}
