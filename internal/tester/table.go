package tester

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"stratbench/internal/stats"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	labelStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Right)
	lossStyle   = cellStyle.Foreground(lipgloss.Color("9"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// Table holds metric values with one row per strategy and one column per
// metric, or the reverse after Transpose.
type Table struct {
	Rows    []string    `json:"rows"`
	Columns []string    `json:"columns"`
	Values  [][]float64 `json:"-"`
	Text    [][]string  `json:"text"`

	// Runs holds the full result of each strategy, in entry order.
	Runs []*stats.Stats `json:"-"`
}

func newTable(labels, metrics []string, runs []*stats.Stats) (*Table, error) {
	t := &Table{
		Rows:    labels,
		Columns: metrics,
		Values:  make([][]float64, len(runs)),
		Text:    make([][]string, len(runs)),
		Runs:    runs,
	}
	for i, st := range runs {
		t.Values[i] = make([]float64, len(metrics))
		t.Text[i] = make([]string, len(metrics))
		for j, m := range metrics {
			v, err := st.Lookup(m)
			if err != nil {
				return nil, err
			}
			s, err := st.Format(m)
			if err != nil {
				return nil, err
			}
			t.Values[i][j] = v
			t.Text[i][j] = s
		}
	}
	return t, nil
}

// Transpose returns a copy with rows and columns swapped.
func (t *Table) Transpose() *Table {
	out := &Table{
		Rows:    t.Columns,
		Columns: t.Rows,
		Values:  make([][]float64, len(t.Columns)),
		Text:    make([][]string, len(t.Columns)),
		Runs:    t.Runs,
	}
	for j := range t.Columns {
		out.Values[j] = make([]float64, len(t.Rows))
		out.Text[j] = make([]string, len(t.Rows))
		for i := range t.Rows {
			out.Values[j][i] = t.Values[i][j]
			out.Text[j][i] = t.Text[i][j]
		}
	}
	return out
}

// Value returns the value at the named row and column.
func (t *Table) Value(row, col string) (float64, bool) {
	i, j := index(t.Rows, row), index(t.Columns, col)
	if i < 0 || j < 0 {
		return math.NaN(), false
	}
	return t.Values[i][j], true
}

func index(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

// Render writes the table as a bordered terminal table. Negative values
// are highlighted.
func (t *Table) Render(w io.Writer) error {
	rows := make([][]string, len(t.Rows))
	for i, label := range t.Rows {
		rows[i] = append([]string{label}, t.Text[i]...)
	}
	tbl := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(append([]string{""}, t.Columns...)...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 0:
				return labelStyle
			case row >= 0 && row < len(t.Values) && col-1 < len(t.Values[row]) && t.Values[row][col-1] < 0:
				return lossStyle
			}
			return cellStyle
		})
	_, err := fmt.Fprintln(w, tbl.String())
	return err
}

// CSV writes the table as comma-separated values with a header row.
func (t *Table) CSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{""}, t.Columns...)); err != nil {
		return err
	}
	for i, label := range t.Rows {
		if err := cw.Write(append([]string{label}, t.Text[i]...)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// String returns the rendered table.
func (t *Table) String() string {
	var b strings.Builder
	_ = t.Render(&b)
	return b.String()
}
