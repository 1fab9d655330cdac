// Package dictionary holds the data dictionary prepended to every question.
package dictionary

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed dictionary.yaml
var source []byte

const (
	nameWidth        = 35
	descriptionWidth = 66
)

// Entry describes one column.
type Entry struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// Table describes one dataset file.
type Table struct {
	File    string  `yaml:"file" json:"file"`
	Table   string  `yaml:"table" json:"table"`
	Columns []Entry `yaml:"columns" json:"columns"`
}

type document struct {
	Datasets []Table `yaml:"datasets"`
}

var load = sync.OnceValues(func() ([]Table, string) {
	var doc document
	if err := yaml.Unmarshal(source, &doc); err != nil {
		panic("dictionary: invalid embedded dictionary: " + err.Error())
	}
	return doc.Datasets, render(doc.Datasets)
})

// Text returns the data dictionary as markdown tables. The value never changes.
func Text() string {
	_, text := load()
	return text
}

// Tables returns the parsed dictionary.
func Tables() []Table {
	tables, _ := load()
	out := make([]Table, len(tables))
	for i, t := range tables {
		out[i] = t
		out[i].Columns = slices.Clone(t.Columns)
	}
	return out
}

// Check reports dictionary columns of table that are absent from columns.
// Unknown tables yield nil.
func Check(table string, columns []string) []string {
	tables, _ := load()
	var missing []string
	for _, t := range tables {
		if t.Table != table {
			continue
		}
		for _, c := range t.Columns {
			if !slices.Contains(columns, c.Name) {
				missing = append(missing, c.Name)
			}
		}
	}
	return missing
}

func render(tables []Table) string {
	var b strings.Builder
	b.WriteString("\n")
	for i, t := range tables {
		if i > 0 {
			b.WriteString("\n")
		}
		writeRow(&b, "**"+t.File+"**", "**Description**")
		fmt.Fprintf(&b, "|%s|%s|\n", strings.Repeat("-", nameWidth+2), strings.Repeat("-", descriptionWidth+2))
		for _, c := range t.Columns {
			writeRow(&b, c.Name, c.Description)
		}
	}
	return b.String()
}

func writeRow(b *strings.Builder, name, description string) {
	fmt.Fprintf(b, "| %-*s | %-*s |\n", nameWidth, name, descriptionWidth, description)
}
