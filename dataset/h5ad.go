package dataset

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/hdf5"
)

// h5ad files are HDF5 containers laid out as
//
//	X                    dense 2-D dataset, or group {data, indices, indptr}
//	obs/_index           cell names
//	obs/<key>            string column, or integer codes (legacy layout)
//	obs/<key>/categories + obs/<key>/codes     categorical column
//	obs/__categories/<key>                     legacy category names
//	var/_index           gene names

const (
	indexKey          = "_index"
	legacyIndexKey    = "index"
	legacyCategoryKey = "__categories"
)

// container is the group API shared by *hdf5.File and *hdf5.Group
type container interface {
	OpenDataset(name string) (*hdf5.Dataset, error)
	OpenGroup(name string) (*hdf5.Group, error)
	CreateDataset(name string, dtype *hdf5.Datatype, dspace *hdf5.Dataspace) (*hdf5.Dataset, error)
	CreateGroup(name string) (*hdf5.Group, error)
	NumObjects() (uint, error)
	ObjectNameByIndex(idx uint) (string, error)
	ObjectTypeByIndex(idx uint) (hdf5.GType, error)
}

// ReadH5AD loads an AnnData file
func ReadH5AD(path string) (*AnnData, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	root, err := members(f)
	if err != nil {
		return nil, errors.Wrap(err, "listing root group")
	}

	obsNames, err := readIndex(f, root, "obs")
	if err != nil {
		return nil, err
	}
	varNames, err := readIndex(f, root, "var")
	if err != nil {
		return nil, err
	}

	x, err := readX(f, root, len(obsNames), len(varNames))
	if err != nil {
		return nil, errors.Wrapf(err, "reading X from %s", path)
	}
	n, g := x.Dims()
	if obsNames == nil {
		obsNames = numberedNames(n)
	}
	if varNames == nil {
		varNames = numberedNames(g)
	}

	a, err := New(x, obsNames, varNames)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	if root["obs"] == hdf5.H5G_GROUP {
		if err := readObs(f, a); err != nil {
			return nil, errors.Wrapf(err, "reading obs from %s", path)
		}
	}
	return a, nil
}

// members maps every child of c to its object type
func members(c container) (map[string]hdf5.GType, error) {
	n, err := c.NumObjects()
	if err != nil {
		return nil, err
	}
	out := make(map[string]hdf5.GType, n)
	for i := uint(0); i < n; i++ {
		name, err := c.ObjectNameByIndex(i)
		if err != nil {
			return nil, err
		}
		kind, err := c.ObjectTypeByIndex(i)
		if err != nil {
			return nil, err
		}
		out[name] = kind
	}
	return out, nil
}

// readIndex returns <group>/_index, or nil when the file has none
func readIndex(f container, root map[string]hdf5.GType, group string) ([]string, error) {
	if root[group] != hdf5.H5G_GROUP {
		return nil, nil
	}
	g, err := f.OpenGroup(group)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", group)
	}
	defer g.Close()

	children, err := members(g)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", group)
	}
	for _, key := range []string{indexKey, legacyIndexKey} {
		if children[key] == hdf5.H5G_DATASET {
			names, err := readStrings(g, key)
			return names, errors.Wrapf(err, "reading %s/%s", group, key)
		}
	}
	return nil, nil
}

func readX(f container, root map[string]hdf5.GType, nObs, nVars int) (*mat.Dense, error) {
	switch root["X"] {
	case hdf5.H5G_DATASET:
		data, dims, err := readFloats(f, "X")
		if err != nil {
			return nil, err
		}
		if len(dims) != 2 {
			return nil, errors.Errorf("X has %d dimensions, expected 2", len(dims))
		}
		return mat.NewDense(int(dims[0]), int(dims[1]), data), nil
	case hdf5.H5G_GROUP:
		g, err := f.OpenGroup("X")
		if err != nil {
			return nil, err
		}
		defer g.Close()
		return readSparse(g, nObs, nVars)
	}
	return nil, errors.New("file has no X")
}

// readSparse densifies a CSR or CSC matrix. The layout is inferred from the
// length of indptr: nObs+1 for CSR, nVars+1 for CSC.
func readSparse(g container, nObs, nVars int) (*mat.Dense, error) {
	data, _, err := readFloats(g, "data")
	if err != nil {
		return nil, errors.Wrap(err, "data")
	}
	indices, err := readInts(g, "indices")
	if err != nil {
		return nil, errors.Wrap(err, "indices")
	}
	indptr, err := readInts(g, "indptr")
	if err != nil {
		return nil, errors.Wrap(err, "indptr")
	}
	if len(indices) != len(data) {
		return nil, errors.Errorf("sparse X has %d values but %d indices", len(data), len(indices))
	}
	if nObs == 0 || nVars == 0 {
		return nil, errors.New("sparse X needs obs/_index and var/_index to know its shape")
	}

	csr := true
	switch len(indptr) {
	case nObs + 1:
	case nVars + 1:
		csr = false
	default:
		return nil, errors.Errorf("indptr has %d entries, expected %d (CSR) or %d (CSC)", len(indptr), nObs+1, nVars+1)
	}

	x := mat.NewDense(nObs, nVars, nil)
	for major := 0; major < len(indptr)-1; major++ {
		start, end := indptr[major], indptr[major+1]
		if start < 0 || end > len(data) || start > end {
			return nil, errors.Errorf("indptr[%d:%d] = [%d, %d) out of range", major, major+2, start, end)
		}
		for k := start; k < end; k++ {
			minor := indices[k]
			if csr {
				if minor < 0 || minor >= nVars {
					return nil, errors.Errorf("column index %d out of range", minor)
				}
				x.Set(major, minor, data[k])
			} else {
				if minor < 0 || minor >= nObs {
					return nil, errors.Errorf("row index %d out of range", minor)
				}
				x.Set(minor, major, data[k])
			}
		}
	}
	return x, nil
}

func readObs(f container, a *AnnData) error {
	obs, err := f.OpenGroup("obs")
	if err != nil {
		return err
	}
	defer obs.Close()

	children, err := members(obs)
	if err != nil {
		return err
	}

	legacy := map[string]hdf5.GType{}
	var legacyGroup *hdf5.Group
	if children[legacyCategoryKey] == hdf5.H5G_GROUP {
		legacyGroup, err = obs.OpenGroup(legacyCategoryKey)
		if err != nil {
			return err
		}
		defer legacyGroup.Close()
		if legacy, err = members(legacyGroup); err != nil {
			return err
		}
	}

	n := a.NObs()
	for key, kind := range children {
		if key == indexKey || key == legacyIndexKey || key == legacyCategoryKey {
			continue
		}
		switch kind {
		case hdf5.H5G_GROUP:
			col, err := readCategoricalGroup(obs, key)
			if err != nil {
				return errors.Wrapf(err, "obs/%s", key)
			}
			if col.Len() != n {
				return errors.Errorf("obs/%s has %d values for %d cells", key, col.Len(), n)
			}
			a.Obs[key] = col
		case hdf5.H5G_DATASET:
			if legacy[key] == hdf5.H5G_DATASET {
				cats, err := readStrings(legacyGroup, key)
				if err != nil {
					return errors.Wrapf(err, "obs/__categories/%s", key)
				}
				codes, err := readInts(obs, key)
				if err != nil {
					return errors.Wrapf(err, "obs/%s", key)
				}
				if len(codes) != n {
					return errors.Errorf("obs/%s has %d values for %d cells", key, len(codes), n)
				}
				a.Obs[key] = &Categorical{Categories: cats, Codes: codes}
				continue
			}
			if err := readPlainColumn(obs, key, a); err != nil {
				return errors.Wrapf(err, "obs/%s", key)
			}
		}
	}
	return nil
}

func readCategoricalGroup(obs container, key string) (*Categorical, error) {
	g, err := obs.OpenGroup(key)
	if err != nil {
		return nil, err
	}
	defer g.Close()

	children, err := members(g)
	if err != nil {
		return nil, err
	}
	if children["categories"] != hdf5.H5G_DATASET || children["codes"] != hdf5.H5G_DATASET {
		return nil, errors.New("group is not a categorical (missing categories or codes)")
	}
	cats, err := readStrings(g, "categories")
	if err != nil {
		return nil, errors.Wrap(err, "categories")
	}
	codes, err := readInts(g, "codes")
	if err != nil {
		return nil, errors.Wrap(err, "codes")
	}
	return &Categorical{Categories: cats, Codes: codes}, nil
}

// readPlainColumn stores string columns as categoricals and numeric ones in
// a.Numeric. Other element types are skipped.
func readPlainColumn(obs container, key string, a *AnnData) error {
	ds, err := obs.OpenDataset(key)
	if err != nil {
		return err
	}
	dtype, err := ds.Datatype()
	if err != nil {
		ds.Close()
		return err
	}
	class := dtype.Class()
	dtype.Close()
	ds.Close()

	switch class {
	case hdf5.T_STRING:
		values, err := readStrings(obs, key)
		if err != nil {
			return err
		}
		return a.SetColumn(key, values)
	case hdf5.T_INTEGER, hdf5.T_FLOAT:
		values, _, err := readFloats(obs, key)
		if err != nil {
			return err
		}
		if len(values) != a.NObs() {
			return errors.Errorf("%d values for %d cells", len(values), a.NObs())
		}
		a.Numeric[key] = values
	}
	return nil
}

func openWithDims(c container, name string) (*hdf5.Dataset, []uint, int, error) {
	ds, err := c.OpenDataset(name)
	if err != nil {
		return nil, nil, 0, err
	}
	space := ds.Space()
	defer space.Close()
	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		ds.Close()
		return nil, nil, 0, err
	}
	size := 1
	for _, d := range dims {
		size *= int(d)
	}
	return ds, dims, size, nil
}

// number is an element type h5ad files store numeric arrays with
type number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// readAs reads ds into a buffer of its own element type and widens it.
// Dataset.Read uses the file type as the memory type, so T must match the
// stored type exactly.
func readAs[T number](ds *hdf5.Dataset, size int) ([]float64, error) {
	buf := make([]T, size)
	if err := ds.Read(&buf); err != nil {
		return nil, err
	}
	out := make([]float64, size)
	for i, v := range buf {
		out[i] = float64(v)
	}
	return out, nil
}

var numericReaders = []struct {
	dtype *hdf5.Datatype
	read  func(*hdf5.Dataset, int) ([]float64, error)
}{
	{hdf5.T_IEEE_F64LE, readAs[float64]},
	{hdf5.T_IEEE_F32LE, readAs[float32]},
	{hdf5.T_STD_I8LE, readAs[int8]},
	{hdf5.T_STD_I16LE, readAs[int16]},
	{hdf5.T_STD_I32LE, readAs[int32]},
	{hdf5.T_STD_I64LE, readAs[int64]},
	{hdf5.T_STD_U8LE, readAs[uint8]},
	{hdf5.T_STD_U16LE, readAs[uint16]},
	{hdf5.T_STD_U32LE, readAs[uint32]},
	{hdf5.T_STD_U64LE, readAs[uint64]},
}

// readFloats reads any little-endian integer or float dataset as float64
func readFloats(c container, name string) ([]float64, []uint, error) {
	ds, dims, size, err := openWithDims(c, name)
	if err != nil {
		return nil, nil, err
	}
	defer ds.Close()
	dtype, err := ds.Datatype()
	if err != nil {
		return nil, nil, err
	}
	defer dtype.Close()

	if size == 0 {
		return []float64{}, dims, nil
	}
	for _, r := range numericReaders {
		if dtype.Equal(r.dtype) {
			data, err := r.read(ds, size)
			return data, dims, err
		}
	}
	return nil, nil, errors.Errorf("%s has unsupported element type (class %d, %d bytes)", name, dtype.Class(), dtype.Size())
}

func readInts(c container, name string) ([]int, error) {
	data, _, err := readFloats(c, name)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(data))
	for i, v := range data {
		out[i] = int(v)
	}
	return out, nil
}

// readStrings reads a variable-length or fixed-length string dataset
func readStrings(c container, name string) ([]string, error) {
	ds, _, size, err := openWithDims(c, name)
	if err != nil {
		return nil, err
	}
	defer ds.Close()
	dtype, err := ds.Datatype()
	if err != nil {
		return nil, err
	}
	defer dtype.Close()

	if dtype.Class() != hdf5.T_STRING {
		return nil, errors.Errorf("%s is not a string dataset (class %d)", name, dtype.Class())
	}
	if size == 0 {
		return []string{}, nil
	}

	vl := hdf5.VarLenType{Datatype: *dtype}
	if vl.IsVariableStr() {
		// one char* per element, allocated by the library
		ptrs := make([]uintptr, size)
		if err := ds.Read(&ptrs); err != nil {
			return nil, err
		}
		return goStrings(ptrs), nil
	}

	width := int(dtype.Size())
	buf := make([]byte, size*width)
	if err := ds.Read(&buf); err != nil {
		return nil, err
	}
	out := make([]string, size)
	for i := range out {
		field := buf[i*width : (i+1)*width]
		if end := bytes.IndexByte(field, 0); end >= 0 {
			field = field[:end]
		}
		out[i] = string(field)
	}
	return out, nil
}

// WriteH5AD writes a in the dense layout: X as a 2-D float64 dataset,
// categorical obs columns as categories/codes groups.
func WriteH5AD(path string, a *AnnData) error {
	if a.NObs() == 0 {
		return errors.Errorf("refusing to write empty AnnData to %s", path)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "creating %s", dir)
		}
	}

	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer f.Close()

	n, g := a.Shape()
	data := make([]float64, 0, n*g)
	for i := 0; i < n; i++ {
		data = append(data, a.X.RawRowView(i)...)
	}
	if err := writeDataset(f, "X", hdf5.T_NATIVE_DOUBLE, []uint{uint(n), uint(g)}, &data); err != nil {
		return errors.Wrap(err, "writing X")
	}

	obs, err := f.CreateGroup("obs")
	if err != nil {
		return errors.Wrap(err, "creating obs")
	}
	defer obs.Close()
	if err := writeStrings(obs, indexKey, a.ObsNames); err != nil {
		return errors.Wrap(err, "writing obs/_index")
	}
	for _, key := range a.ColumnNames() {
		if err := writeCategorical(obs, key, a.Obs[key]); err != nil {
			return errors.Wrapf(err, "writing obs/%s", key)
		}
	}
	for key, values := range a.Numeric {
		v := values
		if err := writeDataset(obs, key, hdf5.T_NATIVE_DOUBLE, []uint{uint(len(v))}, &v); err != nil {
			return errors.Wrapf(err, "writing obs/%s", key)
		}
	}

	vars, err := f.CreateGroup("var")
	if err != nil {
		return errors.Wrap(err, "creating var")
	}
	defer vars.Close()
	if err := writeStrings(vars, indexKey, a.VarNames); err != nil {
		return errors.Wrap(err, "writing var/_index")
	}
	return nil
}

func writeCategorical(obs container, key string, c *Categorical) error {
	g, err := obs.CreateGroup(key)
	if err != nil {
		return err
	}
	defer g.Close()

	if err := writeStrings(g, "categories", c.Categories); err != nil {
		return err
	}
	codes := make([]int32, len(c.Codes))
	for i, v := range c.Codes {
		codes[i] = int32(v)
	}
	return writeDataset(g, "codes", hdf5.T_NATIVE_INT32, []uint{uint(len(codes))}, &codes)
}

// writeStrings stores values as variable-length strings, the layout h5py
// uses for str arrays
func writeStrings(c container, name string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	dtype, err := hdf5.T_GO_STRING.Copy()
	if err != nil {
		return err
	}
	defer dtype.Close()
	ptrs := cStrings(values)
	defer freeCStrings(ptrs)
	return writeDataset(c, name, dtype, []uint{uint(len(values))}, &ptrs)
}

func writeDataset(c container, name string, dtype *hdf5.Datatype, dims []uint, data interface{}) error {
	space, err := hdf5.CreateSimpleDataspace(dims, nil)
	if err != nil {
		return err
	}
	defer space.Close()
	ds, err := c.CreateDataset(name, dtype, space)
	if err != nil {
		return err
	}
	defer ds.Close()
	return ds.Write(data)
}
