package collector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// IngestPath receives tracking requests in either wire format.
	IngestPath = "/collect"

	// sseWriteTimeout bounds a single SSE write so slow clients cannot pin
	// the handler past shutdown.
	sseWriteTimeout = 5 * time.Second

	// maxBodyBytes caps POSTed documents.
	maxBodyBytes = 1 << 20

	defaultTitle     = "opix collector"
	titlePlaceholder = "{{.Title}}"
)

// pixelGIF is a transparent 1x1 GIF, the conventional pixel response.
var pixelGIF, _ = base64.StdEncoding.DecodeString("R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7")

// Server is a development stand-in for a collection endpoint.
//
// Routes:
//   - /collect: GET pixel requests and POSTed JSON documents
//   - GET /api/events: recent events as JSON (?limit=, ?event=)
//   - GET /api/sse: Server-Sent Events stream of new events
//   - GET /healthz: liveness
//   - GET /: live event page, when assets are configured
type Server struct {
	store     Store
	validator *Validator
	addr      string
	assets    fs.FS
	title     string
	logger    *slog.Logger
	received  metric.Int64Counter

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	done       chan struct{}
}

// NewServer creates a collector [Server]. assets may be nil; title defaults
// to "opix collector". The server is not started until [Server.Start].
func NewServer(st Store, v *Validator, addr string, assets fs.FS, title string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	received, _ := otel.Meter("github.com/jpalmerr/opix/internal/collector").Int64Counter(
		"opix.collector.events",
		metric.WithDescription("Tracking requests received by the development collector"),
	)
	return &Server{
		store:     st,
		validator: v,
		addr:      addr,
		assets:    assets,
		title:     title,
		logger:    logger,
		received:  received,
		done:      make(chan struct{}),
	}
}

// Handler returns the collector routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(IngestPath, s.handleIngest)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/sse", s.handleSSE)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok")
	})
	if s.assets != nil {
		mux.HandleFunc("/", s.handleDashboard)
	}
	return mux
}

// Start listens on the configured address and serves in the background
// until ctx is cancelled, then shuts down with a 5-second grace period.
//
// It returns an error if the address cannot be bound.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts end with ctx so SSE streams stop on shutdown
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	s.mu.Lock()
	s.httpServer, s.listener = srv, ln
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		defer close(s.done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	s.logger.Info("collector listening", "addr", ln.Addr().String(), "ingest_path", IngestPath)
	return nil
}

// Done is closed once a started server has finished shutting down.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Addr returns the bound address once started, or the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusNoContent)

	case http.MethodGet:
		attrs, err := decodeQuery(r.URL.RawQuery)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.record(r.Context(), FormatQuery, attrs)

		w.Header().Set("Content-Type", "image/gif")
		w.Header().Set("Cache-Control", "no-store")
		if _, err := w.Write(pixelGIF); err != nil {
			s.logger.Error("failed to write pixel response", "error", err)
		}

	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		attrs, err := decodeJSON(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ev := s.record(r.Context(), FormatJSON, attrs)
		if !ev.Valid {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string]any{"seq": ev.Seq, "error": *ev.Error})
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// record validates and stores one document. Invalid documents are kept so
// they show up in the stream.
func (s *Server) record(ctx context.Context, format string, attrs map[string]any) Event {
	ev := Event{
		ReceivedAt: time.Now().UTC(),
		Format:     format,
		Name:       stringAttr(attrs, "ev"),
		TrackerID:  stringAttr(attrs, "id"),
		VisitorID:  stringAttr(attrs, "uid"),
		Attributes: attrs,
		Valid:      true,
	}
	if s.validator != nil {
		if err := s.validator.Validate(attrs); err != nil {
			msg := err.Error()
			ev.Valid, ev.Error = false, &msg
		}
	}

	ev = s.store.Add(ev)
	if s.received != nil {
		s.received.Add(ctx, 1, metric.WithAttributes(
			attribute.String("format", format),
			attribute.Bool("valid", ev.Valid),
		))
	}

	if ev.Valid {
		s.logger.Info("event received",
			"seq", ev.Seq,
			"event", ev.Name,
			"tracker_id", ev.TrackerID,
			"format", format,
		)
	} else {
		s.logger.Warn("invalid event received",
			"seq", ev.Seq,
			"event", ev.Name,
			"format", format,
			"error", *ev.Error,
		)
	}
	return ev
}

// handleEvents returns recent events as JSON.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	name := r.URL.Query().Get("event")

	events := s.store.Recent(0)
	if name != "" {
		filtered := events[:0:0]
		for _, ev := range events {
			if ev.Name == name {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	if events == nil {
		events = []Event{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(events); err != nil {
		s.logger.Error("failed to encode events response", "error", err)
	}
}

// handleSSE streams new events via Server-Sent Events, after replaying the
// current history.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	// commit headers so clients connect before the first event
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	// events added between Subscribe and Recent are in both; skip by seq
	var lastSeq uint64
	for _, ev := range s.store.Recent(0) {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := writeAndFlush(data); err != nil {
			return
		}
		lastSeq = ev.Seq
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Seq <= lastSeq {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}
			lastSeq = ev.Seq

		case <-r.Context().Done():
			return
		}
	}
}

// handleDashboard serves the live event page.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	content, err := fs.ReadFile(s.assets, "assets/index.html")
	if err != nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	title := s.title
	if title == "" {
		title = defaultTitle
	}
	rendered := strings.ReplaceAll(string(content), titlePlaceholder, html.EscapeString(title))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := io.WriteString(w, rendered); err != nil {
		s.logger.Error("failed to write dashboard response", "error", err)
	}
}
