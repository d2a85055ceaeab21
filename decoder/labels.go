package decoder

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// LabelTable is the ordered list of class names indexed by class id.
type LabelTable struct {
	names []string
}

// NewLabelTable copies names into a new table.
func NewLabelTable(names ...string) LabelTable {
	return LabelTable{names: append([]string(nil), names...)}
}

// LoadLabels reads newline-delimited class names.
//
// Carriage returns and surrounding whitespace are trimmed. Trailing blank lines are
// dropped, interior blank lines are an error since they would shift every class id after
// them.
//
// Arguments:
//   - r: The label source.
//
// Returns:
//   - LabelTable: The loaded table.
//   - error: An error if reading fails or the table is empty or malformed.
func LoadLabels(r io.Reader) (LabelTable, error) {
	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		names = append(names, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return LabelTable{}, errors.Wrap(err, "failed to read labels")
	}

	for len(names) > 0 && names[len(names)-1] == "" {
		names = names[:len(names)-1]
	}
	if len(names) == 0 {
		return LabelTable{}, configErrorf("label source is empty")
	}
	for i, name := range names {
		if name == "" {
			return LabelTable{}, configErrorf("label %d is blank", i)
		}
	}

	return LabelTable{names: names}, nil
}

// LoadLabelsFile reads a label table from a file on disk.
func LoadLabelsFile(path string) (LabelTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return LabelTable{}, errors.Wrapf(err, "failed to open labels %s", path)
	}
	defer f.Close()

	return LoadLabels(f)
}

// Len returns the number of classes.
func (l LabelTable) Len() int {
	return len(l.names)
}

// Name returns the class name for id, or an empty string when id is out of range.
func (l LabelTable) Name(id int) string {
	if id < 0 || id >= len(l.names) {
		return ""
	}
	return l.names[id]
}

// Names returns a copy of the class names.
func (l LabelTable) Names() []string {
	return append([]string(nil), l.names...)
}

// Index returns the class id for name, or -1.
func (l LabelTable) Index(name string) int {
	for i, n := range l.names {
		if n == name {
			return i
		}
	}
	return -1
}
