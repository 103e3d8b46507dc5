package dataset

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/hdf5"
)

func TestH5ADRoundTrip(t *testing.T) {
	a := toyAnnData(t)
	path := filepath.Join(t.TempDir(), "toy", "toy_count.h5ad")

	require.NoError(t, WriteH5AD(path, a))
	b, err := ReadH5AD(path)
	require.NoError(t, err)

	n, g := b.Shape()
	assert.Equal(t, 6, n)
	assert.Equal(t, 2, g)
	assert.Equal(t, a.ObsNames, b.ObsNames)
	assert.Equal(t, a.VarNames, b.VarNames)
	for i := 0; i < n; i++ {
		assert.Equal(t, a.X.RawRowView(i), b.X.RawRowView(i))
	}

	for _, key := range []string{"batch", "cell_type"} {
		want, _ := a.Labels(key)
		got, err := b.Labels(key)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, a.Numeric["n_counts"], b.Numeric["n_counts"])

	// names are stored as variable-length strings, as h5py does
	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	require.NoError(t, err)
	defer f.Close()
	ds, err := f.OpenDataset("obs/_index")
	require.NoError(t, err)
	defer ds.Close()
	dtype, err := ds.Datatype()
	require.NoError(t, err)
	defer dtype.Close()
	vl := hdf5.VarLenType{Datatype: *dtype}
	assert.True(t, vl.IsVariableStr())
}

// writeFixedStrings stores values as NUL-padded fixed-length strings
func writeFixedStrings(t *testing.T, c container, name string, values []string) {
	t.Helper()
	width := 1
	for _, v := range values {
		if len(v) >= width {
			width = len(v) + 1
		}
	}
	dtype, err := hdf5.T_C_S1.Copy()
	require.NoError(t, err)
	defer dtype.Close()
	require.NoError(t, dtype.SetSize(width))
	buf := make([]byte, width*len(values))
	for i, v := range values {
		copy(buf[i*width:], v)
	}
	require.NoError(t, writeDataset(c, name, dtype, []uint{uint(len(values))}, &buf))
}

func createGroup(t *testing.T, c container, name string) *hdf5.Group {
	t.Helper()
	g, err := c.CreateGroup(name)
	require.NoError(t, err)
	return g
}

// writeScanpyFixture writes three cells over two genes the way scanpy
// stores them: float32 X, int8 category codes, fixed-length names.
func writeScanpyFixture(t *testing.T, path string, sparse, legacy bool) {
	t.Helper()
	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	require.NoError(t, err)
	defer f.Close()

	if sparse {
		// CSR of [[1.5 0] [0 2] [3 0.25]]
		x := createGroup(t, f, "X")
		defer x.Close()
		data := []float32{1.5, 2, 3, 0.25}
		indices := []int32{0, 1, 0, 1}
		indptr := []int64{0, 1, 2, 4}
		require.NoError(t, writeDataset(x, "data", hdf5.T_NATIVE_FLOAT, []uint{4}, &data))
		require.NoError(t, writeDataset(x, "indices", hdf5.T_NATIVE_INT32, []uint{4}, &indices))
		require.NoError(t, writeDataset(x, "indptr", hdf5.T_NATIVE_INT64, []uint{4}, &indptr))
	} else {
		x := []float32{1.5, 0, 0, 2, 3, 0.25}
		require.NoError(t, writeDataset(f, "X", hdf5.T_NATIVE_FLOAT, []uint{3, 2}, &x))
	}

	obs := createGroup(t, f, "obs")
	defer obs.Close()
	writeFixedStrings(t, obs, indexKey, []string{"AAAC-1", "AAAG-1", "TTTC-1"})
	codes := []int8{0, 1, 1}
	if legacy {
		cats := createGroup(t, obs, legacyCategoryKey)
		defer cats.Close()
		writeFixedStrings(t, cats, "batch", []string{"Batch1", "Batch8"})
		require.NoError(t, writeDataset(obs, "batch", hdf5.T_NATIVE_INT8, []uint{3}, &codes))
	} else {
		batch := createGroup(t, obs, "batch")
		defer batch.Close()
		writeFixedStrings(t, batch, "categories", []string{"Batch1", "Batch8"})
		require.NoError(t, writeDataset(batch, "codes", hdf5.T_NATIVE_INT8, []uint{3}, &codes))
	}
	nGenes := []int16{1, 1, 2}
	require.NoError(t, writeDataset(obs, "n_genes", hdf5.T_NATIVE_INT16, []uint{3}, &nGenes))

	vars := createGroup(t, f, "var")
	defer vars.Close()
	writeFixedStrings(t, vars, indexKey, []string{"Gad1", "Sst"})
}

func TestReadH5ADScanpyLayouts(t *testing.T) {
	tests := []struct {
		name           string
		sparse, legacy bool
	}{
		{"dense", false, false},
		{"sparse", true, false},
		{"legacy categories", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "pancreas_normalized.h5ad")
			writeScanpyFixture(t, path, tt.sparse, tt.legacy)

			a, err := ReadH5AD(path)
			require.NoError(t, err)
			assert.Equal(t, []string{"AAAC-1", "AAAG-1", "TTTC-1"}, a.ObsNames)
			assert.Equal(t, []string{"Gad1", "Sst"}, a.VarNames)
			assert.Equal(t, []float64{1.5, 0}, a.X.RawRowView(0))
			assert.Equal(t, []float64{0, 2}, a.X.RawRowView(1))
			assert.Equal(t, []float64{3, 0.25}, a.X.RawRowView(2))

			labels, err := a.Labels("batch")
			require.NoError(t, err)
			assert.Equal(t, []string{"Batch1", "Batch8", "Batch8"}, labels)
			assert.Equal(t, []float64{1, 1, 2}, a.Numeric["n_genes"])

			target, reference, err := a.Partition("batch", []string{"Batch8", "Batch9"})
			require.NoError(t, err)
			assert.Equal(t, 1, reference.NObs())
			assert.Equal(t, 2, target.NObs())
		})
	}
}

func TestReadH5ADMissingFile(t *testing.T) {
	_, err := ReadH5AD(filepath.Join(t.TempDir(), "missing.h5ad"))
	assert.Error(t, err)
}

func TestWriteH5ADRejectsEmpty(t *testing.T) {
	empty := toyAnnData(t).Subset(nil)
	assert.Error(t, WriteH5AD(filepath.Join(t.TempDir(), "empty.h5ad"), empty))
}
