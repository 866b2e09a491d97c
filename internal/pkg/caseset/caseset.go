// Package caseset reads the ordered table of N-2 contingency cases. Each row
// names the two elements that are taken out of service together.
package caseset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	// ErrIndexOutOfRange is returned when a case index is outside [0, Len()).
	ErrIndexOutOfRange = errors.New("case index out of range")
	// ErrMalformedRow is returned when a row holds fewer than three columns.
	ErrMalformedRow = errors.New("malformed case row")
)

const minColumns = 3

// Case is a single contingency: the pair of elements removed together.
type Case struct {
	Index    int    `json:"Index"`
	Label    string `json:"Label"`
	ElementA string `json:"ElementA"`
	ElementB string `json:"ElementB"`
}

// Elements returns the two element identifiers in column order.
func (c Case) Elements() [2]string {
	return [2]string{c.ElementA, c.ElementB}
}

// Source is an immutable, indexed set of cases.
type Source struct {
	path  string
	cases []Case
}

type options struct {
	comma rune
}

// Option configures Load.
type Option func(*options)

// WithDelimiter sets the column delimiter. The default is a comma.
func WithDelimiter(r rune) Option {
	return func(o *options) {
		o.comma = r
	}
}

// Load reads every row of the case file at path. No header row is skipped.
func Load(path string, opts ...Option) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cases, err := Read(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Source{path: path, cases: cases}, nil
}

// Read parses cases from r. Column 0 is kept as an opaque label, columns 1
// and 2 are the element identifiers. Extra columns are ignored.
func Read(r io.Reader, opts ...Option) ([]Case, error) {
	o := options{comma: ','}
	for _, opt := range opts {
		opt(&o)
	}

	reader := csv.NewReader(r)
	reader.Comma = o.comma
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	cases := make([]Case, 0)
	for row := 0; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) < minColumns {
			return nil, fmt.Errorf("%w: row %d has %d columns, need %d", ErrMalformedRow, row, len(record), minColumns)
		}
		cases = append(cases, Case{
			Index:    row,
			Label:    strings.TrimSpace(record[0]),
			ElementA: strings.TrimSpace(record[1]),
			ElementB: strings.TrimSpace(record[2]),
		})
	}
	return cases, nil
}

// New wraps already parsed cases in a Source. Case indices are reassigned
// to match their position.
func New(cases []Case) *Source {
	owned := make([]Case, len(cases))
	for i, c := range cases {
		c.Index = i
		owned[i] = c
	}
	return &Source{cases: owned}
}

// Path returns the file the source was loaded from, if any.
func (s *Source) Path() string {
	return s.path
}

// Len is the number of cases.
func (s *Source) Len() int {
	return len(s.cases)
}

// Get returns the case at index.
func (s *Source) Get(index int) (Case, error) {
	if index < 0 || index >= len(s.cases) {
		return Case{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, len(s.cases))
	}
	return s.cases[index], nil
}
