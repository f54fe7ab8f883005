package main

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/opix"
	"github.com/jpalmerr/opix/identity"
)

const (
	visitorCookie = "opix_demo"
	closeTimeout  = 5 * time.Second
)

// shop serves a few static pages and tracks each view on the server.
//
// Every visitor gets their own identity jar, keyed by a cookie, the way a
// browser keeps one cookie jar per profile.
type shop struct {
	endpoint  string
	trackerID string
	logger    *slog.Logger

	mu   sync.Mutex
	jars map[string]identity.Store

	pending sync.WaitGroup
}

func newShop(endpoint, trackerID string, logger *slog.Logger) *shop {
	return &shop{
		endpoint:  endpoint,
		trackerID: trackerID,
		logger:    logger,
		jars:      make(map[string]identity.Store),
	}
}

// Handler returns the shop routes wrapped in page tracking.
func (s *shop) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.page("Home", `<a href="/product?utm_source=demo&utm_campaign=launch">Product</a>`))
	mux.HandleFunc("/product", s.page("Product", `<a href="https://go.dev/">Leave for go.dev</a> | <a href="/">Home</a>`))
	return s.track(mux)
}

// Wait blocks until every tracker has finished delivering.
func (s *shop) Wait() {
	s.pending.Wait()
}

func (s *shop) page(title, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" && r.URL.Path != "/product" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<!DOCTYPE html><title>%s</title><h1>%s</h1><p>%s</p>",
			html.EscapeString(title), html.EscapeString(title), body)
	}
}

// jar returns the visitor's identity jar, issuing a cookie on first visit.
func (s *shop) jar(w http.ResponseWriter, r *http.Request) identity.Store {
	id := ""
	if c, err := r.Cookie(visitorCookie); err == nil {
		id = c.Value
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.jars[id]; ok {
		return st
	}
	id = uuid.NewString()
	http.SetCookie(w, &http.Cookie{Name: visitorCookie, Value: id, Path: "/", HttpOnly: true})
	st := identity.NewMemoryStore()
	s.jars[id] = st
	return st
}

// track runs one tracker per page view. The request is the page: the view is
// sent on arrival and the page close once the response is written.
func (s *shop) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env := opix.RequestEnvironment(r)
		tr, err := opix.New(
			opix.WithEndpoint(s.endpoint),
			opix.WithTrackerID(s.trackerID),
			opix.WithEnvironment(env),
			opix.WithIdentityStore(s.jar(w, r)),
			opix.WithLogger(s.logger),
		)
		if err != nil {
			s.logger.Error("failed to create tracker", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		if err := tr.Load(r.Context(), nil); err != nil {
			s.logger.Error("failed to load tracker", "error", err)
		}
		tr.Call(opix.VerbParam, "path", r.URL.Path)
		tr.Call(opix.VerbEvent, opix.EventPageView)

		next.ServeHTTP(w, r)

		tr.PageHide()

		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			if err := tr.Close(ctx); err != nil {
				s.logger.Warn("tracker close", "error", err)
			}
		}()
	})
}
