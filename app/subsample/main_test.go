package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alexflint/go-arg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func parse(t *testing.T, argv ...string) (options, error) {
	t.Helper()
	args := defaultOptions()
	p, err := arg.NewParser(arg.Config{}, &args)
	require.NoError(t, err)
	return args, p.Parse(argv)
}

func TestParseFlags(t *testing.T) {
	args, err := parse(t, "-d", "pancreas", "-f", "0", "-c", "1")
	require.NoError(t, err)
	assert.Equal(t, "pancreas", args.Data)
	assert.Equal(t, 0, args.Freeze)
	assert.Equal(t, 1, args.Count)
	assert.Nil(t, args.Seed)

	args, err = parse(t, "--data", "toy", "--freeze", "3", "--seed", "42")
	require.NoError(t, err)
	assert.Equal(t, 3, args.Freeze)
	assert.Equal(t, 0, args.Count)
	require.NotNil(t, args.Seed)
	assert.Equal(t, int64(42), *args.Seed)
}

func TestParseRequiresFlags(t *testing.T) {
	_, err := parse(t, "-f", "1")
	assert.Error(t, err, "data is required")

	_, err = parse(t, "-d", "toy")
	assert.Error(t, err, "freeze is required")

	_, err = parse(t, "-d", "toy", "-f", "yes")
	assert.Error(t, err)
}

func TestRunReportsErrors(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := "data_dir: " + filepath.Join(dir, "data") + "\nresults_dir: " + filepath.Join(dir, "results") + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0644))

	seed := int64(1)
	err := run(options{Data: "missing", Freeze: 1, Config: cfgPath, Seed: &seed}, zap.NewNop())
	assert.Error(t, err)

	err = run(options{Data: "missing", Config: filepath.Join(dir, "nope.yaml")}, zap.NewNop())
	assert.Error(t, err)
}
