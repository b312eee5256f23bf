package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cactusdynamics/labplot"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

type Options struct {
	IntervalMs int     `long:"interval-ms" default:"20" description:"redraw period in milliseconds"`
	SampleRate float64 `long:"fs" default:"100" description:"nominal sampling frequency in Hz"`
	Window     int     `short:"n" long:"window" default:"30" description:"number of most recent samples to plot"`
	VMin       float64 `long:"vmin" default:"-1" description:"lower bound of the vertical axis (V)"`
	VMax       float64 `long:"vmax" default:"1" description:"upper bound of the vertical axis (V)"`
	Omega      float64 `long:"omega" default:"0.6283185307179586" description:"angular frequency of the synthetic signal in rad/sample (pi/5)"`
	Rotation   float64 `long:"rotation" default:"45" description:"rotation of the horizontal tick labels in degrees"`
	XSeconds   bool    `long:"x-seconds" description:"plot the horizontal axis in seconds instead of sample index"`
	Title      string  `short:"t" long:"title" default:"labplot" description:"plot title"`

	Surface     string `long:"surface" default:"web" choice:"web" choice:"png" choice:"term" description:"where to draw the plot"`
	Host        string `long:"host" default:"127.0.0.1" description:"host to bind the web surface to"`
	Port        uint16 `short:"p" long:"port" default:"5274" description:"port of the web surface"`
	NoBrowser   bool   `long:"no-browser" description:"do not open the browser automatically"`
	PngPath     string `long:"png-path" default:"labplot.png" description:"output file of the png surface"`
	TermHeight  int    `long:"term-height" default:"12" description:"chart height in rows for the term surface"`

	Serial  string  `long:"serial" description:"read one sample per line from this device or file instead of generating a sine wave (- for stdin)"`
	Column  int     `long:"column" default:"0" description:"zero-based field of each line to plot"`
	Adc     bool    `long:"adc" description:"treat read values as raw ADC counts"`
	AdcMax  float64 `long:"adc-max" default:"1023" description:"full scale ADC count"`
	VrefMin float64 `long:"vref-min" default:"0" description:"voltage at ADC count 0"`
	VrefMax float64 `long:"vref-max" default:"3.3" description:"voltage at full scale ADC count"`

	Ticks    int    `long:"ticks" default:"0" description:"stop plotting after this many ticks (0 = run forever)"`
	LogLevel string `long:"log-level" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"log level"`
}

func (o Options) Config() labplot.Config {
	cfg := labplot.DefaultConfig()
	cfg.Interval = time.Duration(o.IntervalMs) * time.Millisecond
	cfg.SampleRate = o.SampleRate
	cfg.WindowSize = o.Window
	cfg.VMin = o.VMin
	cfg.VMax = o.VMax
	cfg.TickLabelRotation = o.Rotation
	cfg.XInSeconds = o.XSeconds
	cfg.Title = o.Title
	cfg.Omega = o.Omega

	if o.XSeconds {
		cfg.XLabel = "Time (s)"
	} else {
		cfg.XLabel = "Sample"
	}

	return cfg
}

// AdcScale returns the converter scale to apply to serial values, or nil
// when --adc is not set.
func (o Options) AdcScale() *labplot.AdcScale {
	if !o.Adc {
		return nil
	}
	return &labplot.AdcScale{
		Max:     o.AdcMax,
		VrefMin: o.VrefMin,
		VrefMax: o.VrefMax,
	}
}

func openSource(opts Options, cfg labplot.Config, stdin io.Reader) (labplot.SampleSource, func()) {
	synthetic := labplot.NewSineSource(cfg.Omega)
	if opts.Serial == "" {
		return synthetic, func() {}
	}

	logger := logrus.WithFields(logrus.Fields{
		"tag":    "main",
		"serial": opts.Serial,
	})

	var input io.Reader
	closeInput := func() {}

	if opts.Serial == "-" {
		input = stdin
	} else {
		f, err := os.Open(opts.Serial)
		if err != nil {
			logger.WithError(err).Warn("unable to open serial input, plotting synthetic data")
			return labplot.NewFallbackSource(nil, synthetic), func() {}
		}
		input = f
		closeInput = func() { f.Close() }
	}

	lines := labplot.NewLineSampleSource(input)
	lines.Column = opts.Column
	lines.Adc = opts.AdcScale()

	logger.Info("reading samples from serial input")
	return labplot.NewFallbackSource(lines, synthetic), closeInput
}

func run(ctx context.Context, opts Options, stdin io.Reader, stdout io.Writer) error {
	cfg := opts.Config()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if scale := opts.AdcScale(); scale != nil {
		if err := scale.Validate(); err != nil {
			return err
		}
	}

	logger := logrus.WithField("tag", "main")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := labplot.NewMetrics(registry)

	source, closeSource := openSource(opts, cfg, stdin)
	defer closeSource()

	var surface labplot.Surface
	var server *labplot.HttpServer

	switch opts.Surface {
	case "png":
		surface = labplot.NewPngSurface(opts.PngPath, cfg)
	case "term":
		term := labplot.NewTerminalSurface(stdout, cfg)
		term.Height = opts.TermHeight
		surface = term
	case "web":
		web := labplot.NewWebSurface(labplot.NewFrameBroadcaster(metrics))
		server = labplot.NewHttpServer(web.Broadcaster(), opts.Host, opts.Port, cfg.Metadata(), registry)
		server.SetOpenBrowser(!opts.NoBrowser)
		surface = web
	default:
		return fmt.Errorf("unknown surface %q", opts.Surface)
	}

	plotter := labplot.NewSignalPlotter(cfg, source, surface, metrics)
	surface.OnClose(plotter.OnClose)

	// A failing web server stops the plot too.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()

	var wg sync.WaitGroup
	serverErr := make(chan error, 1)
	if server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Run(serverCtx); err != nil {
				serverErr <- err
				cancelRun()
			}
		}()
	}

	animator := labplot.NewAnimator(cfg.Interval, opts.Ticks)
	err := animator.Run(runCtx, plotter.OnTick)

	// Finished ticking on purpose: keep the last frame up for viewers until
	// the user interrupts.
	if err == nil && server != nil && runCtx.Err() == nil {
		logger.Info("plotting finished, serving the last frame until interrupted")
		<-runCtx.Done()
	}

	if closeErr := surface.Close(); closeErr != nil {
		logger.WithError(closeErr).Warn("failed to close surface")
	}

	stopServer()
	wg.Wait()

	select {
	case serverRunErr := <-serverErr:
		if err == nil {
			err = serverRunErr
		}
	default:
	}

	return err
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	level, err := logrus.ParseLevel(opts.LogLevel)
	if err != nil {
		logrus.WithError(err).Fatal("invalid log level")
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdin, os.Stdout); err != nil {
		logrus.WithError(err).Error("labplot stopped")
		stop()
		os.Exit(1)
	}
}
