// Package dataset holds annotated single-cell matrices (cells x genes with
// per-cell annotations) and the sampling helpers used by the benchmark.
package dataset

import (
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Categorical is a pandas-style categorical column: a list of distinct
// categories and, per cell, the index of its category.
type Categorical struct {
	Categories []string
	Codes      []int
}

// NewCategorical encodes values with categories sorted lexically
func NewCategorical(values []string) *Categorical {
	seen := make(map[string]bool)
	var cats []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			cats = append(cats, v)
		}
	}
	sort.Strings(cats)

	index := make(map[string]int, len(cats))
	for i, c := range cats {
		index[c] = i
	}
	codes := make([]int, len(values))
	for i, v := range values {
		codes[i] = index[v]
	}
	return &Categorical{Categories: cats, Codes: codes}
}

// Len returns the number of cells
func (c *Categorical) Len() int {
	return len(c.Codes)
}

// Value returns the label of cell i. A negative code (pandas NaN) yields "".
func (c *Categorical) Value(i int) string {
	code := c.Codes[i]
	if code < 0 || code >= len(c.Categories) {
		return ""
	}
	return c.Categories[code]
}

// Values decodes every cell
func (c *Categorical) Values() []string {
	out := make([]string, len(c.Codes))
	for i := range c.Codes {
		out[i] = c.Value(i)
	}
	return out
}

// Subset keeps the given rows and drops unused categories
func (c *Categorical) Subset(idx []int) *Categorical {
	values := make([]string, len(idx))
	for i, r := range idx {
		values[i] = c.Value(r)
	}
	return NewCategorical(values)
}

// AnnData is an annotated data matrix: X is cells x genes, Obs holds per-cell
// categorical annotations such as "batch" and "cell_type".
type AnnData struct {
	X        *mat.Dense
	ObsNames []string
	VarNames []string
	Obs      map[string]*Categorical
	// Numeric holds non-categorical per-cell columns
	Numeric map[string][]float64
}

// New creates an AnnData. Nil names are filled with row/column numbers.
func New(x *mat.Dense, obsNames, varNames []string) (*AnnData, error) {
	if x == nil {
		return nil, errors.New("matrix is nil")
	}
	n, g := x.Dims()
	if obsNames == nil {
		obsNames = numberedNames(n)
	}
	if varNames == nil {
		varNames = numberedNames(g)
	}
	if len(obsNames) != n {
		return nil, errors.Errorf("got %d obs names for %d rows", len(obsNames), n)
	}
	if len(varNames) != g {
		return nil, errors.Errorf("got %d var names for %d columns", len(varNames), g)
	}
	return &AnnData{
		X:        x,
		ObsNames: obsNames,
		VarNames: varNames,
		Obs:      make(map[string]*Categorical),
		Numeric:  make(map[string][]float64),
	}, nil
}

func numberedNames(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strconv.Itoa(i)
	}
	return out
}

// Shape returns (cells, genes)
func (a *AnnData) Shape() (int, int) {
	return a.X.Dims()
}

// NObs returns the number of cells
func (a *AnnData) NObs() int {
	n, _ := a.X.Dims()
	return n
}

// NVars returns the number of genes
func (a *AnnData) NVars() int {
	_, g := a.X.Dims()
	return g
}

// SetColumn stores values as a categorical obs column
func (a *AnnData) SetColumn(key string, values []string) error {
	if len(values) != a.NObs() {
		return errors.Errorf("column %q has %d values for %d cells", key, len(values), a.NObs())
	}
	a.Obs[key] = NewCategorical(values)
	return nil
}

// Column returns the obs column key
func (a *AnnData) Column(key string) (*Categorical, error) {
	c, ok := a.Obs[key]
	if !ok {
		return nil, errors.Errorf("obs has no column %q (have %v)", key, a.ColumnNames())
	}
	return c, nil
}

// Labels decodes the obs column key
func (a *AnnData) Labels(key string) ([]string, error) {
	c, err := a.Column(key)
	if err != nil {
		return nil, err
	}
	return c.Values(), nil
}

// ColumnNames lists obs columns in sorted order
func (a *AnnData) ColumnNames() []string {
	names := make([]string, 0, len(a.Obs))
	for k := range a.Obs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// IsIn reports for every cell whether its value in column key is one of values
func (a *AnnData) IsIn(key string, values []string) ([]bool, error) {
	c, err := a.Column(key)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(values))
	for _, v := range values {
		want[v] = true
	}
	mask := make([]bool, c.Len())
	for i := range mask {
		mask[i] = want[c.Value(i)]
	}
	return mask, nil
}

// Subset returns a copy holding only the rows in idx, in that order
func (a *AnnData) Subset(idx []int) *AnnData {
	_, g := a.X.Dims()
	// gonum has no zero-row matrices; an empty subset gets an empty Dense
	x := &mat.Dense{}
	if len(idx) > 0 {
		x = mat.NewDense(len(idx), g, nil)
	}
	obsNames := make([]string, len(idx))
	for i, r := range idx {
		x.SetRow(i, a.X.RawRowView(r))
		obsNames[i] = a.ObsNames[r]
	}

	out := &AnnData{
		X:        x,
		ObsNames: obsNames,
		VarNames: append([]string(nil), a.VarNames...),
		Obs:      make(map[string]*Categorical, len(a.Obs)),
		Numeric:  make(map[string][]float64, len(a.Numeric)),
	}
	for k, c := range a.Obs {
		out.Obs[k] = c.Subset(idx)
	}
	for k, col := range a.Numeric {
		v := make([]float64, len(idx))
		for i, r := range idx {
			v[i] = col[r]
		}
		out.Numeric[k] = v
	}
	return out
}

// Mask returns a subset of the rows where mask is true
func (a *AnnData) Mask(mask []bool) *AnnData {
	var idx []int
	for i, keep := range mask {
		if keep {
			idx = append(idx, i)
		}
	}
	return a.Subset(idx)
}

// Partition splits the cells by whether column key holds one of values.
// Every cell lands in exactly one of the two results.
func (a *AnnData) Partition(key string, values []string) (in, out *AnnData, err error) {
	mask, err := a.IsIn(key, values)
	if err != nil {
		return nil, nil, err
	}
	inverse := make([]bool, len(mask))
	for i, m := range mask {
		inverse[i] = !m
	}
	return a.Mask(mask), a.Mask(inverse), nil
}

// Unique returns the distinct values of column key in first-seen order
func (a *AnnData) Unique(key string) ([]string, error) {
	labels, err := a.Labels(key)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, l := range labels {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out, nil
}
