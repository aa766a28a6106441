package devserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"

	"scanasha/internal/logging"
)

// Options configure the dev server.
type Options struct {
	Host           string
	Port           int
	HMRTopic       string
	RootDir        string
	OutDir         string
	EntryFile      string
	TargetFilePath string
	ExtensionName  string
	CertFile       string
	KeyFile        string
	Debounce       time.Duration
}

// TLS reports whether the server runs over HTTPS.
func (o Options) TLS() bool {
	return o.CertFile != "" && o.KeyFile != ""
}

// BaseURL is the origin browsers load files from.
func (o Options) BaseURL() string {
	scheme := "http"
	if o.TLS() {
		scheme = "https"
	}
	return fmt.Sprintf("%s://localhost:%d", scheme, o.Port)
}

// MainFile is the URL of the bundle entry.
func (o Options) MainFile() string {
	return o.BaseURL() + "/" + path.Join(filepath.ToSlash(o.OutDir), o.EntryFile)
}

// RootComponentPath is the URL of the chunk built from the target file.
func (o Options) RootComponentPath() string {
	return o.BaseURL() + "/" + path.Join(filepath.ToSlash(o.OutDir), ChunkFromID("src/"+o.TargetFilePath)+".js")
}

// Server serves RootDir and notifies HMR clients about changes in OutDir.
type Server struct {
	opts   Options
	hub    *Hub
	hashes *Hashes
}

// New creates a dev server.
func New(opts Options) *Server {
	if opts.RootDir == "" {
		opts.RootDir = "."
	}
	if opts.OutDir == "" {
		opts.OutDir = "dist"
	}
	if opts.HMRTopic == "" {
		opts.HMRTopic = "hmr-update"
	}
	return &Server{opts: opts, hub: NewHub(), hashes: NewHashes()}
}

// Hub exposes the client registry.
func (s *Server) Hub() *Hub { return s.hub }

// Handler serves files, or upgrades to the HMR socket on request.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			s.hub.ServeHTTP(w, r)
			return
		}
		s.serveFile(w, r)
	})
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")

	notFound := func() {
		h.Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, "File not found: "+r.URL.RequestURI())
	}

	name := filepath.Join(s.opts.RootDir, filepath.FromSlash(path.Clean("/"+r.URL.Path)))
	info, err := os.Stat(name)
	if err != nil || !info.Mode().IsRegular() {
		notFound()
		return
	}
	f, err := os.Open(name)
	if err != nil {
		notFound()
		return
	}
	defer f.Close()

	// The module loader rejects scripts served without a matching type.
	ctype := mime.TypeByExtension(filepath.Ext(name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	h.Set("Content-Type", ctype)

	// Theme variables of the bundle must not leak into the host app.
	if filepath.Ext(name) == ".css" && s.opts.ExtensionName != "" {
		b, err := io.ReadAll(f)
		if err != nil {
			logging.DevServerWarn("read %s: %v", name, err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = io.WriteString(w, ScopeCSS(string(b), s.opts.ExtensionName))
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = io.Copy(w, f)
	}
}

// payloadFor maps a watcher change to the message browsers receive.
func (s *Server) payloadFor(c Change) Payload {
	rel, err := filepath.Rel(s.opts.RootDir, c.Path)
	if err != nil {
		rel = c.Path
	}
	return Payload{
		Topic:             s.opts.HMRTopic,
		ChangeType:        c.Type,
		Path:              s.opts.BaseURL() + "/" + filepath.ToSlash(rel),
		RootComponentPath: s.opts.RootComponentPath(),
	}
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.opts.Host, fmt.Sprint(s.opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run over an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	watchDir := filepath.Join(s.opts.RootDir, s.opts.OutDir)
	watcher, err := NewWatcher(watchDir, s.opts.Debounce, s.hashes)
	if err != nil {
		ln.Close()
		return fmt.Errorf("watch %s: %w", watchDir, err)
	}

	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	if s.opts.TLS() {
		cert, err := tls.LoadX509KeyPair(s.opts.CertFile, s.opts.KeyFile)
		if err != nil {
			ln.Close()
			return fmt.Errorf("load certificate: %w", err)
		}
		srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
		ln = tls.NewListener(ln, srv.TLSConfig)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	watchDone := make(chan error, 1)
	go func() {
		watchDone <- watcher.Run(ctx, func(c Change) {
			p := s.payloadFor(c)
			n := s.hub.Broadcast(p)
			logging.DevServerDebug("%s %s sent to %d clients", p.ChangeType, p.Path, n)
		})
	}()

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- srv.Serve(ln)
	}()
	fmt.Fprintln(os.Stdout, Banner(s.opts))

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveDone:
	}
	cancel()

	logging.DevServer("HMR - stopping processes")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	if serveErr == nil {
		serveErr = <-serveDone
	}
	<-watchDone

	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	return serveErr
}

var (
	bannerTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#38bdf8")).Padding(0, 1)
	bannerLabel = lipgloss.NewStyle().Foreground(lipgloss.Color("#22d3ee")).Width(14)
	bannerHint  = lipgloss.NewStyle().Foreground(lipgloss.Color("#f87171"))
	bannerBox   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#475569")).Padding(0, 1)
)

// Banner is the startup summary printed to the terminal.
func Banner(o Options) string {
	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, bannerLabel.Render(label), value)
	}
	scheme := "http"
	if o.TLS() {
		scheme = "https"
	}
	lines := []string{
		bannerTitle.Render("EXTENSION DEVKIT"),
		"",
		row("Server:", fmt.Sprintf("%s://%s:%d", scheme, o.Host, o.Port)),
		row("Extension ID:", o.ExtensionName),
		row("MainFile:", o.MainFile()),
		"",
		bannerHint.Render("Open the MainFile URL in your browser to make sure the index file loads."),
	}
	return bannerBox.Render(strings.Join(lines, "\n"))
}
