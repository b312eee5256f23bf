package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"

	"github.com/cactusdynamics/labplot"
	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
)

// errEnoughFrames stops the read loop once MaxFrames frames were written.
var errEnoughFrames = errors.New("enough frames")

// Config holds the configuration for the WS reader
type Config struct {
	ServerURL string
	Output    io.Writer
	Logger    logrus.FieldLogger

	// Stop after this many frames. 0 reads until the surface closes.
	MaxFrames int
}

// WSReader reads frames from the labplot websocket and outputs CSV data
type WSReader struct {
	config    Config
	csvWriter *csv.Writer
	frames    int
}

// NewWSReader creates a new WS reader with the given configuration
func NewWSReader(config Config) *WSReader {
	if config.Logger == nil {
		config.Logger = logrus.WithField("tag", "WSReader")
	}

	return &WSReader{
		config:    config,
		csvWriter: csv.NewWriter(config.Output),
	}
}

// Connect establishes websocket connection and processes messages until the
// surface closes, the connection drops or ctx is canceled.
func (w *WSReader) Connect(ctx context.Context) error {
	u, err := url.Parse(w.config.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	// Change scheme to websocket
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	u.Path = "/ws"

	w.config.Logger.WithField("url", u.String()).Info("connecting to websocket")

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to websocket: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Write CSV header
	if err := w.csvWriter.Write([]string{"frame", "x", "y"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for {
		_, messageData, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				w.config.Logger.Info("connection closed normally")
				break
			}
			if ctx.Err() != nil {
				break
			}
			w.config.Logger.WithError(err).Error("error reading message")
			break
		}

		if err := w.processMessage(messageData); err != nil {
			if err == io.EOF {
				w.config.Logger.Info("surface closed")
				break
			}
			if err == errEnoughFrames {
				break
			}
			w.config.Logger.WithError(err).Error("error processing message")
		}
	}

	w.csvWriter.Flush()
	return w.csvWriter.Error()
}

// processMessage processes a single websocket message
func (w *WSReader) processMessage(messageData []byte) error {
	msg, err := labplot.DecodeWSMessage(messageData)
	if err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}

	switch msg.Header.Type {
	case labplot.MessageTypeFrame:
		frameMsg, ok := msg.Payload.(labplot.FrameMessage)
		if !ok {
			return fmt.Errorf("invalid FRAME message payload type: %T", msg.Payload)
		}
		return w.processFrameMessage(frameMsg)

	case labplot.MessageTypeMetadata:
		metadata, ok := msg.Payload.(labplot.Metadata)
		if !ok {
			return fmt.Errorf("invalid METADATA message payload type: %T", msg.Payload)
		}
		w.config.Logger.WithField("metadata", metadata).Debug("received metadata")

	case labplot.MessageTypeSurfaceClosed:
		closed, ok := msg.Payload.(labplot.SurfaceClosedMessage)
		if !ok {
			return fmt.Errorf("invalid SURFACE_CLOSED message payload type: %T", msg.Payload)
		}
		if closed.Error {
			w.config.Logger.WithField("message", closed.Msg).Error("surface closed with error")
		}
		return io.EOF // Signal end of stream

	default:
		w.config.Logger.WithField("type", fmt.Sprintf("0x%02x", msg.Header.Type)).Warn("unknown message type")
	}

	return nil
}

// processFrameMessage writes one CSV row per point of the frame
func (w *WSReader) processFrameMessage(frameMsg labplot.FrameMessage) error {
	seq := strconv.FormatUint(frameMsg.Seq, 10)

	for i := 0; i < len(frameMsg.X); i++ {
		row := []string{
			seq,
			strconv.FormatFloat(frameMsg.X[i], 'g', -1, 64),
			strconv.FormatFloat(frameMsg.Y[i], 'g', -1, 64),
		}
		if err := w.csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.csvWriter.Flush()
	if err := w.csvWriter.Error(); err != nil {
		return err
	}

	w.frames++
	if w.config.MaxFrames > 0 && w.frames >= w.config.MaxFrames {
		return errEnoughFrames
	}

	return nil
}

type Options struct {
	URL      string `long:"url" default:"http://localhost:5274" description:"URL of the labplot web surface"`
	Frames   int    `long:"frames" default:"0" description:"exit after this many frames (0 = until the plot closes)"`
	LogLevel string `long:"log-level" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"log level"`
}

func main() {
	var opts Options
	if _, err := flags.Parse(&opts); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if level, err := logrus.ParseLevel(opts.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	reader := NewWSReader(Config{
		ServerURL: opts.URL,
		Output:    os.Stdout,
		Logger:    logger.WithField("tag", "WSReader"),
		MaxFrames: opts.Frames,
	})

	if err := reader.Connect(context.Background()); err != nil {
		logger.WithError(err).Error("failed to read frames")
		os.Exit(1)
	}
}
