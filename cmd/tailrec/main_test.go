package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestAssembleOptimizeDisassemble(t *testing.T) {
	dir := t.TempDir()
	class := filepath.Join(dir, "Counter.class")
	optimized := filepath.Join(dir, "out", "Counter.class")

	app := newApp()
	require.NoError(t, app.Run([]string{"tailrec", "asm", filepath.Join("..", "..", "examples", "Counter.jasm"), class}))
	require.NoError(t, app.Run([]string{"tailrec", "optimize", "--workers", "1", "--output", optimized, class}))

	var before, after bytes.Buffer
	app.Writer = &before
	require.NoError(t, app.Run([]string{"tailrec", "disasm", class}))
	app.Writer = &after
	require.NoError(t, app.Run([]string{"tailrec", "disasm", optimized}))

	assert.Contains(t, before.String(), "invokestatic demo/Counter count (I)V")
	assert.NotContains(t, after.String(), "invokestatic demo/Counter count (I)V")
	assert.Contains(t, after.String(), "goto")

	var preview bytes.Buffer
	app.Writer = &preview
	require.NoError(t, app.Run([]string{"tailrec", "disasm", "--optimized", class}))
	assert.Equal(t, after.String(), preview.String())
}

func TestOptimizeRequiresOutput(t *testing.T) {
	dir := t.TempDir()
	err := newApp().Run([]string{"tailrec", "optimize", "--config", filepath.Join(dir, "missing.toml"), dir})
	assert.ErrorContains(t, err, "cannot read")

	cfg := filepath.Join(dir, "tailrec.toml")
	require.NoError(t, os.WriteFile(cfg, []byte("workers = 1\n"), 0o644))
	err = newApp().Run([]string{"tailrec", "optimize", "--config", cfg, dir})
	assert.ErrorContains(t, err, "either an output path or overwrite is required")

	err = newApp().Run([]string{"tailrec", "optimize"})
	assert.ErrorContains(t, err, "optimize takes one INPUT")
}

func TestAssembleReportsDiagnostics(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "Bad.jasm")
	require.NoError(t, os.WriteFile(source, []byte(`class demo/Bad {
    method f (I)V {
        maxs 1 1
        iloda 0
        return
    }
}
`), 0o644))
	class := filepath.Join(dir, "Bad.class")

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run([]string{"tailrec", "asm", source, class})

	var exit cli.ExitCoder
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 1, exit.ExitCode())
	assert.Contains(t, out.String(), "T0100")
	assert.Contains(t, out.String(), "iloda")
	assert.NoFileExists(t, class)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.50s", formatDuration(1500*time.Millisecond))
	assert.Equal(t, "2.5ms", formatDuration(2500*time.Microsecond))
	assert.Equal(t, "12ns", formatDuration(12))
	assert.Equal(t, "2.00min", formatDuration(2*time.Minute))
}
