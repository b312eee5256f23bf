package main

import (
	"bytes"
	"context"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cactusdynamics/labplot"
	"github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseOptions(t *testing.T, args ...string) Options {
	t.Helper()

	var opts Options
	_, err := flags.ParseArgs(&opts, args)
	require.NoError(t, err)
	return opts
}

func TestOptionsDefaults(t *testing.T) {
	opts := parseOptions(t)
	cfg := opts.Config()

	assert.Equal(t, "web", opts.Surface)
	assert.Equal(t, uint16(5274), opts.Port)
	assert.Equal(t, 20*time.Millisecond, cfg.Interval)
	assert.Equal(t, 100.0, cfg.SampleRate)
	assert.Equal(t, 30, cfg.WindowSize)
	assert.Equal(t, -1.0, cfg.VMin)
	assert.Equal(t, 1.0, cfg.VMax)
	assert.Equal(t, math.Pi/5, cfg.Omega)
	assert.Equal(t, 45.0, cfg.TickLabelRotation)
	assert.Equal(t, "Sample", cfg.XLabel)
	require.NoError(t, cfg.Validate())
}

func TestOptionsOverrides(t *testing.T) {
	opts := parseOptions(t,
		"--interval-ms", "50",
		"-n", "10",
		"--vmin", "0",
		"--vmax", "3.3",
		"--omega", "0.5",
		"--x-seconds",
		"--surface", "term",
	)
	cfg := opts.Config()

	assert.Equal(t, 50*time.Millisecond, cfg.Interval)
	assert.Equal(t, 10, cfg.WindowSize)
	assert.Equal(t, 3.3, cfg.VMax)
	assert.Equal(t, 0.5, cfg.Omega)
	assert.True(t, cfg.XInSeconds)
	assert.Equal(t, "Time (s)", cfg.XLabel)
	assert.Equal(t, "term", opts.Surface)
}

func TestOptionsZeroOmegaGivesConstantSignal(t *testing.T) {
	cfg := parseOptions(t, "--omega", "0").Config()
	assert.Equal(t, 0.0, cfg.Omega)
	require.NoError(t, cfg.Validate())

	source := labplot.NewSineSource(cfg.Omega)
	for n := 0; n < 5; n++ {
		v, err := source.NextSample(context.Background(), n)
		require.NoError(t, err)
		assert.Equal(t, 0.0, v)
	}
}

func TestOptionsAdcScale(t *testing.T) {
	assert.Nil(t, parseOptions(t).AdcScale())

	scale := parseOptions(t, "--adc", "--adc-max", "4095").AdcScale()
	require.NotNil(t, scale)
	assert.Equal(t, 4095.0, scale.Max)
	assert.Equal(t, 3.3, scale.VrefMax)
}

func TestRunRejectsZeroAdcFullScale(t *testing.T) {
	opts := parseOptions(t, "--surface", "term", "--serial", "-", "--adc", "--adc-max", "0")

	err := run(context.Background(), opts, strings.NewReader("512\n"), &bytes.Buffer{})
	assert.ErrorIs(t, err, labplot.ErrInvalidConfig)
}

func TestRunSerialSilentStdinStopsOnCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	opts := parseOptions(t, "--surface", "term", "--interval-ms", "1", "--serial", "-")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, opts, r, &bytes.Buffer{})
	}()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run kept waiting on silent stdin after cancel")
	}
}

func TestOptionsRejectUnknownSurface(t *testing.T) {
	var opts Options
	_, err := flags.ParseArgs(&opts, []string{"--surface", "gtk"})
	assert.Error(t, err)
}

func TestRunPng(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.png")
	opts := parseOptions(t, "--surface", "png", "--png-path", path, "--interval-ms", "1", "--ticks", "40")

	require.NoError(t, run(context.Background(), opts, strings.NewReader(""), &bytes.Buffer{}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	_, err = png.Decode(f)
	require.NoError(t, err)
}

func TestRunTerminal(t *testing.T) {
	var out bytes.Buffer
	opts := parseOptions(t, "--surface", "term", "--interval-ms", "1", "--ticks", "35", "-t", "lab8")

	require.NoError(t, run(context.Background(), opts, strings.NewReader(""), &out))

	frames := strings.Split(out.String(), "\x1b[H\x1b[2J")
	require.Len(t, frames, 36) // empty prefix plus one per tick
	assert.Contains(t, frames[1], "x: [0, auto]")
	assert.Contains(t, frames[35], "x: [5, 34]")
	assert.Contains(t, frames[35], "lab8")
}

func TestRunSerialFromStdin(t *testing.T) {
	var out bytes.Buffer
	stdin := strings.NewReader("0\n1023\n")
	opts := parseOptions(t,
		"--surface", "term",
		"--interval-ms", "1",
		"--ticks", "2",
		"--serial", "-",
		"--adc",
		"--vmin", "0",
		"--vmax", "3.3",
	)

	require.NoError(t, run(context.Background(), opts, stdin, &out))
	assert.Contains(t, out.String(), "3.30")
}

func TestRunSerialMissingDeviceFallsBackToSine(t *testing.T) {
	var out bytes.Buffer
	opts := parseOptions(t,
		"--surface", "term",
		"--interval-ms", "1",
		"--ticks", "3",
		"--serial", filepath.Join(t.TempDir(), "ttyACM0"),
	)

	require.NoError(t, run(context.Background(), opts, strings.NewReader(""), &out))
	assert.Equal(t, 3, strings.Count(out.String(), "labplot"))
}

func TestRunInvalidConfig(t *testing.T) {
	opts := parseOptions(t, "--surface", "term", "--vmin", "2", "--vmax", "1")

	err := run(context.Background(), opts, strings.NewReader(""), &bytes.Buffer{})
	assert.ErrorIs(t, err, labplot.ErrInvalidConfig)
}

func TestRunWebUntilCanceled(t *testing.T) {
	opts := parseOptions(t,
		"--surface", "web",
		"--host", "127.0.0.1",
		"--port", "0",
		"--no-browser",
		"--interval-ms", "1",
		"--ticks", "5",
	)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, run(ctx, opts, strings.NewReader(""), &bytes.Buffer{}))

	// The last frame stays up until the context ends.
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}
