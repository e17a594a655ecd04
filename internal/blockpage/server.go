// Package blockpage serves the friendly "blocked" response. The hosts
// enforcer points blocked domains at loopback and the port redirector moves
// ports 80/443 here, so every request that arrives was for a blocked or
// time-restricted site; the server answers all of them with a redirect to the
// explanation page plus an inline fallback.
package blockpage

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"homeguard/internal/certs"
	"homeguard/internal/engine"
	"homeguard/internal/logger"
	"homeguard/internal/metrics"
)

type Server struct {
	eng       *engine.Engine
	gen       *certs.Generator
	adminURL  string
	httpPort  int
	httpsPort int

	httpSrv *http.Server
	tlsSrv  *http.Server
}

func NewServer(eng *engine.Engine, gen *certs.Generator, adminURL string, httpPort, httpsPort int) *Server {
	return &Server{
		eng:       eng,
		gen:       gen,
		adminURL:  adminURL,
		httpPort:  httpPort,
		httpsPort: httpsPort,
	}
}

// Start brings up the HTTP listener and, when the root CA is provisioned,
// the HTTPS listener. A missing CA only disables HTTPS interception.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/", s.handle)

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", s.httpPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpSrv.Addr, err)
	}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Errorf("block page HTTP server: %v", err)
		}
	}()
	logger.Infof("block page server listening on %s", s.httpSrv.Addr)

	if s.gen != nil && s.gen.CAAvailable() {
		if err := s.startTLS(); err != nil {
			return err
		}
	} else {
		logger.Warn("HTTPS interception disabled: root CA not provisioned")
	}
	return nil
}

func (s *Server) startTLS() error {
	tlsMux := http.NewServeMux()
	tlsMux.HandleFunc("/", s.handle)

	s.tlsSrv = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", s.httpsPort),
		Handler:      tlsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		TLSConfig: &tls.Config{
			GetCertificate: s.certificateFor,
			MinVersion:     tls.VersionTLS12,
		},
	}
	ln, err := net.Listen("tcp", s.tlsSrv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.tlsSrv.Addr, err)
	}
	go func() {
		if err := s.tlsSrv.ServeTLS(ln, "", ""); err != nil && err != http.ErrServerClosed {
			logger.Errorf("block page HTTPS server: %v", err)
		}
	}()
	logger.Infof("block page HTTPS server listening on %s", s.tlsSrv.Addr)
	return nil
}

// certificateFor picks a per-connection certificate from the SNI hostname,
// minting one on demand. Connections without SNI get a certificate for
// "localhost" so the handshake still completes.
func (s *Server) certificateFor(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	name := hello.ServerName
	if name == "" {
		name = "localhost"
	}
	cert, err := s.gen.Load(strings.ToLower(name))
	if err != nil {
		logger.Errorf("certificate for %s: %v", name, err)
		return nil, err
	}
	return cert, nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" {
		host = "unknown"
	}

	v := s.eng.Check(host, time.Now())
	if v.Allowed {
		// Whatever pointed the client here no longer blocks the host.
		http.NotFound(w, r)
		return
	}
	s.serveBlockPage(w, r, host, v)
}

func (s *Server) serveBlockPage(w http.ResponseWriter, r *http.Request, host string, v engine.Verdict) {
	category := v.Category
	if category == "" {
		category = "MANUAL"
	}

	params := url.Values{}
	params.Set("url", originalScheme(r)+"://"+host)
	params.Set("reason", v.Reason)
	params.Set("category", category)
	lower := strings.ToLower(v.Reason)
	if strings.Contains(lower, "schedule") || strings.Contains(lower, "limit") {
		params.Set("time_restriction", v.Reason)
	}
	target := s.adminURL + "?" + params.Encode()

	w.Header().Set("Location", target)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusFound)

	// Meta-refresh fallback for clients that ignore the redirect.
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
<title>Page Blocked</title>
<meta http-equiv="refresh" content="0;url=%s">
</head>
<body>
<h1>Page Blocked</h1>
<p>This page has been blocked: %s</p>
<p><a href="%s">Click here if you are not redirected automatically</a></p>
</body>
</html>
`, html.EscapeString(target), html.EscapeString(v.Reason), html.EscapeString(target))
}

// originalScheme guesses whether the client originally asked for HTTP or
// HTTPS once traffic has been redirected onto one listener. The header
// heuristic is best-effort and only affects the URL echoed on the block
// page; it must never feed a security decision.
func originalScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if r.Header.Get("Upgrade-Insecure-Requests") == "1" {
		return "https"
	}
	if ref := r.Header.Get("Referer"); strings.HasPrefix(ref, "https://") {
		return "https"
	}
	return "http"
}

// Shutdown stops both listeners gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, srv := range []*http.Server{s.httpSrv, s.tlsSrv} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
