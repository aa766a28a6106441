package devserver

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestChunkFromID(t *testing.T) {
	cases := map[string]string{
		"/a/src/components/app-routes/index.tsx": "src_components_app-routes_index",
		"src/main.ts":                            "src_main",
		"/abs/path/widget.js":                    "widget",
		"src/pages/poll.view.tsx":                "src_pages_poll.view",
	}
	for in, want := range cases {
		assert.Equal(t, want, ChunkFromID(in), in)
	}
}

func TestScopeCSS(t *testing.T) {
	css := ":root {\n  --bg: #fff;\n}\n.dark {\n  --bg: #000;\n}\n.card :root {\n}"
	got := ScopeCSS(css, "scanasha")
	assert.Equal(t, "#scanasha {\n  --bg: #fff;\n}\n.dark #scanasha {\n  --bg: #000;\n}\n.card :root {\n}", got)
}

func TestHashes(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.js")
	require.NoError(t, os.WriteFile(p, []byte("one"), 0644))

	h := NewHashes()
	assert.False(t, h.Known(p))
	changed, err := h.Update(p)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = h.Update(p)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, os.WriteFile(p, []byte("two"), 0644))
	changed, err = h.Update(p)
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, []string{p}, h.Paths())
	h.Forget(p)
	assert.Zero(t, h.Len())

	_, err = h.Update(filepath.Join(dir, "missing.js"))
	assert.Error(t, err)
}

func collect(t *testing.T, ch <-chan Change, n int) []Change {
	t.Helper()
	var out []Change
	deadline := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case c := <-ch:
			out = append(out, c)
		case <-deadline:
			t.Fatalf("got %d of %d changes: %+v", len(out), n, out)
		}
	}
	return out
}

func TestWatcherReportsSettledChanges(t *testing.T) {
	root := t.TempDir()
	existing := filepath.Join(root, "main.js")
	require.NoError(t, os.WriteFile(existing, []byte("v1"), 0644))

	w, err := NewWatcher(root, 30*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan Change, 16)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, func(c Change) { ch <- c }) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	added := filepath.Join(root, "chunk.js")
	require.NoError(t, os.WriteFile(added, []byte("x"), 0644))
	assert.Equal(t, []Change{{Type: ChangeAdd, Path: added}}, collect(t, ch, 1))

	require.NoError(t, os.WriteFile(existing, []byte("v2"), 0644))
	assert.Equal(t, []Change{{Type: ChangeChange, Path: existing}}, collect(t, ch, 1))

	// Same bytes again: nothing to reload.
	require.NoError(t, os.WriteFile(existing, []byte("v2"), 0644))
	require.NoError(t, os.Remove(added))
	assert.Equal(t, []Change{{Type: ChangeUnlink, Path: added}}, collect(t, ch, 1))

	sub := filepath.Join(root, "assets")
	require.NoError(t, os.Mkdir(sub, 0755))
	time.Sleep(100 * time.Millisecond)
	nested := filepath.Join(sub, "style.css")
	require.NoError(t, os.WriteFile(nested, []byte("body{}"), 0644))
	assert.Equal(t, []Change{{Type: ChangeAdd, Path: nested}}, collect(t, ch, 1))

	require.NoError(t, os.RemoveAll(sub))
	got := collect(t, ch, 1)
	assert.Equal(t, ChangeUnlink, got[0].Type)
	assert.Equal(t, nested, got[0].Path)
}

const themeCSS = ":root {\n  --bg: #fff;\n}\n.dark {\n  --bg: #000;\n}\n"

func testOptions(t *testing.T) Options {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dist"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dist", "index.js"), []byte("export default 1"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dist", "blob.bin7"), []byte{1, 2}, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dist", "style.css"), []byte(themeCSS), 0644))
	return Options{
		Host:           "localhost",
		Port:           3123,
		HMRTopic:       "hmr-update",
		RootDir:        root,
		OutDir:         "dist",
		EntryFile:      "index.js",
		TargetFilePath: "components/app-routes/index.tsx",
		ExtensionName:  "scanasha",
		Debounce:       30 * time.Millisecond,
	}
}

func TestOptionsURLs(t *testing.T) {
	o := testOptions(t)
	assert.Equal(t, "http://localhost:3123", o.BaseURL())
	assert.Equal(t, "http://localhost:3123/dist/index.js", o.MainFile())
	assert.Equal(t, "http://localhost:3123/dist/src_components_app-routes_index.js", o.RootComponentPath())

	o.CertFile, o.KeyFile = "cert.pem", "key.pem"
	assert.Equal(t, "https://localhost:3123", o.BaseURL())

	banner := Banner(o)
	assert.Contains(t, banner, "scanasha")
	assert.Contains(t, banner, "https://localhost:3123/dist/index.js")
}

func TestStaticFiles(t *testing.T) {
	s := New(testOptions(t))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/dist/index.js")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "export default 1", string(body))
	assert.Contains(t, resp.Header.Get("Content-Type"), "javascript")
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "no-store, no-cache, must-revalidate, proxy-revalidate", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no-cache", resp.Header.Get("Pragma"))
	assert.Equal(t, "0", resp.Header.Get("Expires"))

	resp, err = http.Get(ts.URL + "/dist/blob.bin7")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))

	resp, err = http.Get(ts.URL + "/dist/style.css")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/css")
	assert.Equal(t, "#scanasha {\n  --bg: #fff;\n}\n.dark #scanasha {\n  --bg: #000;\n}\n", string(body))

	resp, err = http.Get(ts.URL + "/dist/nope.js?x=1")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "File not found: /dist/nope.js?x=1", string(body))

	// Directories and escapes out of the root are not served.
	resp, err = http.Get(ts.URL + "/dist")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/../../etc/passwd")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	require.NoError(t, err)
	return conn
}

func TestHubBroadcast(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := NewHub()
	ts := httptest.NewServer(hub)
	defer ts.Close()

	a := dial(t, ts.URL)
	defer a.Close()
	b := dial(t, ts.URL)
	defer b.Close()
	require.Eventually(t, func() bool { return hub.Count() == 2 }, 2*time.Second, 10*time.Millisecond)

	p := Payload{Topic: "hmr-update", ChangeType: ChangeChange, Path: "http://localhost:3000/dist/a.js"}
	assert.Equal(t, 2, hub.Broadcast(p))
	for _, c := range []*websocket.Conn{a, b} {
		var got Payload
		require.NoError(t, c.ReadJSON(&got))
		assert.Equal(t, p, got)
	}

	require.NoError(t, b.Close())
	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Close()
	assert.Zero(t, hub.Count())
	_, _, err := a.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestServerPushesReloads(t *testing.T) {
	opts := testOptions(t)
	s := New(opts)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	conn := dial(t, "http://"+ln.Addr().String()+"/")
	defer conn.Close()
	require.Eventually(t, func() bool { return s.Hub().Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	target := filepath.Join(opts.RootDir, "dist", "index.js")
	require.NoError(t, os.WriteFile(target, []byte("export default 2"), 0644))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var got map[string]string
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, map[string]string{
		"topic":             "hmr-update",
		"changeType":        "change",
		"path":              "http://localhost:3123/dist/index.js",
		"rootComponentPath": "http://localhost:3123/dist/src_components_app-routes_index.js",
	}, got)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestStaticCSSUnscopedWithoutExtensionName(t *testing.T) {
	opts := testOptions(t)
	opts.ExtensionName = ""
	ts := httptest.NewServer(New(opts).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/dist/style.css")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, themeCSS, string(body))
}
