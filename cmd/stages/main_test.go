package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ygrebnov/stages/internal/config"
	"github.com/ygrebnov/stages/metrics"
	"github.com/ygrebnov/stages/units"
)

func runCmd(t *testing.T, argv ...string) (int, string, string) {
	t.Helper()
	t.Setenv("STAGES_LOG_LEVEL", "error")
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), argv, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeDef(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func TestRun_Roundtrip(t *testing.T) {
	code, out, errOut := runCmd(t, "-pipeline", "roundtrip", "-buffers", "3")
	require.Equal(t, 0, code, errOut)
	require.Equal(t, strings.Repeat("Data contained: 0\n", 3), out)
}

func TestRun_IncrementCycles(t *testing.T) {
	code, out, errOut := runCmd(t, "-pipeline", "increment", "-buffers", "2", "-cycles", "3")
	require.Equal(t, 0, code, errOut)
	require.Empty(t, out)
}

func TestRun_Definition(t *testing.T) {
	path := writeDef(t, `
name: custom
buffers: 2
dynamic: true
stages:
  - unit: adder
    format: d
    args: [5]
  - unit: nested
    inner: adder
    instances: 2
  - unit: printer
`)
	code, out, errOut := runCmd(t, "-config", path, "-cycles", "2")
	require.Equal(t, 0, code, errOut)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	require.ElementsMatch(t, []string{
		"Data contained: 6", "Data contained: 6",
		"Data contained: 12", "Data contained: 12",
	}, lines)
}

func TestRun_Profile(t *testing.T) {
	code, out, errOut := runCmd(t, "-pipeline", "increment", "-buffers", "2", "-profile")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "STAGE")
	require.Contains(t, out, "COUNT")
}

func TestRun_Failures(t *testing.T) {
	code, _, errOut := runCmd(t, "-pipeline", "warp")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "unknown pipeline")

	code, _, _ = runCmd(t, "-no-such-flag")
	require.Equal(t, 2, code)

	code, _, _ = runCmd(t, "-buffers", "0")
	require.Equal(t, 1, code)

	code, _, errOut = runCmd(t, "-config", writeDef(t, "name: x\nstages: [{unit: adder, format: d, args: [x]}]"))
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "building pipeline")

	code, _, errOut = runCmd(t, "-config", writeDef(t, "name: x\nstages: [{unit: nop}, {unit: adder, format: s, args: [x]}]"))
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "starting pipeline")
}

func TestBuild_Prebuilt(t *testing.T) {
	e := env{out: &bytes.Buffer{}, log: zap.NewNop(), metrics: metrics.NewBasicProvider(), errBuffer: 8}
	want := map[string]int{"increment": 1, "roundtrip": 0, "nested": 2}
	for name, payload := range want {
		def, err := config.Prebuilt(name)
		require.NoError(t, err)
		p, err := e.build(def, 3)
		require.NoError(t, err, name)

		_, err = p.Run(context.Background())
		require.NoError(t, err)
		require.NoError(t, p.Cycle(nil))
		require.NoError(t, p.Close())

		n := 0
		p.Head().Drain(func(it units.Item) {
			require.Equal(t, payload, it.Payload(), name)
			n++
		})
		require.Equal(t, 3, n)
	}
}

func TestBuild_UnsignedAndCharArgs(t *testing.T) {
	def, err := config.ParsePipeline([]byte("name: typed\nstages: [{unit: nop, format: uc, args: [3, a]}, {unit: adder}]"))
	require.NoError(t, err)

	e := env{out: &bytes.Buffer{}, log: zap.NewNop(), metrics: metrics.NewNoopProvider(), errBuffer: 8}
	p, err := e.build(def, 1)
	require.NoError(t, err)
	require.Len(t, p.Stages(), 2)

	_, err = p.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Cycle(nil))
	require.NoError(t, p.Close())
	p.Head().Drain(func(it units.Item) {
		require.Equal(t, 1, it.Payload())
	})
}
