package labplot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// A SampleSource produces one numeric sample per request. n is the tick
// counter of the request; synthetic sources derive the value from it while
// acquisition sources ignore it.
type SampleSource interface {
	NextSample(ctx context.Context, n int) (float64, error)
}

// SampleSourceFunc adapts a plain function to a SampleSource.
type SampleSourceFunc func(ctx context.Context, n int) (float64, error)

func (f SampleSourceFunc) NextSample(ctx context.Context, n int) (float64, error) {
	return f(ctx, n)
}

// SineSource generates Amplitude * sin(Omega*n + Phase). It never fails.
type SineSource struct {
	Amplitude float64
	Omega     float64
	Phase     float64
}

func NewSineSource(omega float64) *SineSource {
	return &SineSource{
		Amplitude: 1,
		Omega:     omega,
	}
}

func (s *SineSource) NextSample(ctx context.Context, n int) (float64, error) {
	return s.Amplitude * math.Sin(s.Omega*float64(n)+s.Phase), nil
}

var errIgnoreThisLine = errors.New("ignore this line")

// Split on either comma or any number of spaces or tabs
var relaxedSplitter = regexp.MustCompile("[ \t]+|,")

// AdcScale maps raw converter counts in [0, Max] linearly onto
// [VrefMin, VrefMax].
type AdcScale struct {
	Max     float64
	VrefMin float64
	VrefMax float64
}

// MSP430 ADC10 with the 3.3V supply as reference.
var DefaultAdcScale = AdcScale{
	Max:     1023,
	VrefMin: 0,
	VrefMax: 3.3,
}

// Validate rejects scales that would divide by zero or produce NaN.
func (a AdcScale) Validate() error {
	if !(a.Max > 0) || math.IsInf(a.Max, 0) {
		return fmt.Errorf("%w: adc full scale must be a positive count, got %v", ErrInvalidConfig, a.Max)
	}
	if math.IsNaN(a.VrefMin) || math.IsNaN(a.VrefMax) || math.IsInf(a.VrefMin, 0) || math.IsInf(a.VrefMax, 0) {
		return fmt.Errorf("%w: adc reference voltages must be finite", ErrInvalidConfig)
	}
	return nil
}

func (a AdcScale) Volts(raw float64) float64 {
	return a.VrefMin + raw*(a.VrefMax-a.VrefMin)/a.Max
}

// LineSampleSource reads one sample per text line, usually from a serial
// device opened as a file. Lines may hold several fields separated by commas
// or whitespace; Column selects the one to plot. Lines that cannot be parsed
// are skipped with a warning.
//
// A single goroutine scans the input so that NextSample can return as soon as
// its context ends, even while the device sends nothing. That goroutine stays
// blocked in Read until the input is closed.
type LineSampleSource struct {
	lines <-chan scannedLine

	// Zero-based field index within a line.
	Column int

	// When set, the parsed value is treated as raw ADC counts.
	Adc *AdcScale

	lineCount int
	done      bool
	logger    logrus.FieldLogger
}

type scannedLine struct {
	text string
	err  error
}

func NewLineSampleSource(input io.Reader) *LineSampleSource {
	lines := make(chan scannedLine)
	logger := logrus.WithField("tag", "LineSampleSource")

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(input)
		for scanner.Scan() {
			lines <- scannedLine{text: scanner.Text()}
		}

		if err := scanner.Err(); err != nil {
			logger.WithError(err).Error("unable to read line")
			lines <- scannedLine{err: fmt.Errorf("reading sample line: %w", err)}
		}
	}()

	return &LineSampleSource{
		lines:  lines,
		logger: logger,
	}
}

func (s *LineSampleSource) NextSample(ctx context.Context, n int) (float64, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		if s.done {
			return 0, io.EOF
		}

		var line scannedLine
		var ok bool
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case line, ok = <-s.lines:
		}

		if !ok {
			s.done = true
			return 0, io.EOF
		}

		if line.err != nil {
			return 0, line.err
		}

		value, err := s.parseLine(line.text)
		if err == errIgnoreThisLine {
			continue
		}

		return value, err
	}
}

func (s *LineSampleSource) parseLine(line string) (float64, error) {
	s.lineCount++

	fields := Filter(relaxedSplitter.Split(strings.TrimSpace(line), -1), func(value string) bool {
		return len(value) > 0
	})

	logger := s.logger.WithFields(logrus.Fields{
		"line":    line,
		"lineNum": s.lineCount,
	})

	if s.Column >= len(fields) {
		logger.Warnf("line has %d fields, column %d not present, ignoring...", len(fields), s.Column)
		return 0, errIgnoreThisLine
	}

	value, err := strconv.ParseFloat(fields[s.Column], 64)
	if err != nil {
		logger.Warn("cannot parse float, ignoring...")
		return 0, errIgnoreThisLine
	}

	if s.Adc != nil {
		value = s.Adc.Volts(value)
	}

	return value, nil
}

// FallbackSource asks Primary first and, if it is nil or fails with an error
// other than context cancellation, answers from Fallback instead. The switch
// is permanent and logged once.
type FallbackSource struct {
	Primary  SampleSource
	Fallback SampleSource

	fellBack bool
	logger   logrus.FieldLogger
}

func NewFallbackSource(primary, fallback SampleSource) *FallbackSource {
	return &FallbackSource{
		Primary:  primary,
		Fallback: fallback,
		fellBack: primary == nil,
		logger:   logrus.WithField("tag", "FallbackSource"),
	}
}

func (s *FallbackSource) NextSample(ctx context.Context, n int) (float64, error) {
	if !s.fellBack {
		value, err := s.Primary.NextSample(ctx, n)
		if err == nil {
			return value, nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, err
		}

		logger := s.logger.WithField("n", n)
		if errors.Is(err, io.EOF) {
			logger.Warn("primary source reached end of input, using synthetic data from now on")
		} else {
			logger.WithError(err).Warn("primary source failed, using synthetic data from now on")
		}
		s.fellBack = true
	}

	return s.Fallback.NextSample(ctx, n)
}

// FellBack reports whether the fallback source is in use.
func (s *FallbackSource) FellBack() bool {
	return s.fellBack
}
