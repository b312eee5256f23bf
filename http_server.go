package labplot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
)

// Frames buffered per viewer before the broadcaster starts dropping.
const viewerBufferSize = 16

type HttpServer struct {
	broadcaster *FrameBroadcaster
	host        string
	port        uint16
	metadata    Metadata
	mux         *http.ServeMux

	openBrowser bool

	logger logrus.FieldLogger
}

// NewHttpServer wires the web UI, metadata, websocket and metrics handlers.
// gatherer may be nil to leave /metrics out.
func NewHttpServer(broadcaster *FrameBroadcaster, host string, port uint16, metadata Metadata, gatherer prometheus.Gatherer) *HttpServer {
	s := &HttpServer{
		broadcaster: broadcaster,
		host:        host,
		port:        port,
		metadata:    metadata,
		mux:         http.NewServeMux(),
		logger:      logrus.WithField("tag", "HttpServer"),
	}

	s.mux.Handle("/", http.FileServer(http.FS(webuiFS())))
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.HandleFunc("/metadata", s.handleMetadata)

	if gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return s
}

// SetOpenBrowser makes Run open the UI in a browser once listening. Only
// prod builds actually do it.
func (s *HttpServer) SetOpenBrowser(open bool) {
	s.openBrowser = open
}

func (s *HttpServer) Handler() http.Handler {
	return s.mux
}

func (s *HttpServer) writeMessage(ctx context.Context, c *websocket.Conn, msg WSMessage) error {
	msg.Header.Version = ProtocolVersion

	data, err := EncodeWSMessage(msg)
	if err != nil {
		return err
	}

	return c.Write(ctx, websocket.MessageBinary, data)
}

func (s *HttpServer) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	c, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.WithError(err).Warn("failed to accept new websocket connection")
		return
	}

	logger := s.logger.WithField("viewer", uuid.NewString())

	ctx := req.Context()
	ctx = c.CloseRead(ctx) // Viewers never send anything; this also notices when they go away.

	if err := s.writeMessage(ctx, c, WSMessage{
		Header:  EnvelopeHeader{Type: MessageTypeMetadata},
		Payload: s.metadata,
	}); err != nil {
		logger.WithError(err).Warn("failed to send metadata")
		c.Close(websocket.StatusInternalError, "metadata")
		return
	}

	channel := make(chan Frame, viewerBufferSize)
	wg := sync.WaitGroup{}
	wg.Add(1)

	go func() {
		defer wg.Done()
		for {
			select {
			case frame := <-channel:
				data, err := encodeFrame(frame)
				if err != nil {
					logger.WithError(err).Error("failed to encode frame")
					c.Close(websocket.StatusInternalError, "encoding")
					return
				}

				if err := c.Write(ctx, websocket.MessageBinary, data); err != nil {
					// At this point the websocket closed, so we don't even need to send anything
					logger.WithError(err).Warn("websocket write failed and closed")
					return
				}
			case <-s.broadcaster.Done():
				logger.Info("surface closed, closing websocket")
				if err := s.writeMessage(ctx, c, WSMessage{
					Header:  EnvelopeHeader{Type: MessageTypeSurfaceClosed},
					Payload: SurfaceClosedMessage{Msg: "surface closed"},
				}); err != nil {
					logger.WithError(err).Warn("failed to send surface closed message")
				}
				c.Close(websocket.StatusNormalClosure, "")
				return
			case <-ctx.Done():
				logger.Info("client closed connection or context canceled")
				c.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}()

	logger.Info("viewer connected")

	// The channel is already being received from in another goroutine and we
	// register the channels in the main thread.
	s.broadcaster.RegisterChannel(ctx, channel)

	// Once the websocket writing thread finishes, we want to deregister the
	// channel from the broadcaster.
	wg.Wait()
	s.broadcaster.DeregisterChannel(context.Background(), channel)
	logger.Info("viewer disconnected")
}

func (s *HttpServer) handleMetadata(w http.ResponseWriter, req *http.Request) {
	w.Header().Add("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(s.metadata)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(err.Error()))
	}
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *HttpServer) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(int(s.port)))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	return s.Serve(ctx, listener)
}

func (s *HttpServer) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	url := fmt.Sprintf("http://%s", listener.Addr())
	s.logger.Infof("starting HTTP server at %s", url)

	if s.openBrowser {
		openBrowser(url)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Warn("HTTP server did not shut down cleanly")
		server.Close()
	}

	return nil
}
