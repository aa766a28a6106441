package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLLM struct {
	answer string
	err    error
	user   string
}

func (s *stubLLM) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	return s.CompleteJSON(ctx, system, user)
}

func (s *stubLLM) CompleteJSON(_ context.Context, _, user string) (string, error) {
	s.user = user
	return s.answer, s.err
}

func (s *stubLLM) Model() string { return "stub" }

type stubRenderer struct {
	html  string
	calls int
}

func (r *stubRenderer) Render(context.Context, string) (string, error) {
	r.calls++
	return r.html, nil
}

// local lets fetchers reach httptest servers on the loopback interface.
var local = FetchOptions{AllowPrivateHosts: true}

const docHTML = `<html><head><title>Vault Docs</title><script>var x=1;</script></head>
<body><nav>menu</nav><h1>Vault</h1><p>The   vault holds deposits.</p>
<ul><li>Audited</li><li>Upgradeable</li></ul>
<pre>forge build</pre><a href="https://github.com/acme/vault">source</a></body></html>`

func TestHTMLToText(t *testing.T) {
	title, text, err := HTMLToText(docHTML)
	require.NoError(t, err)

	assert.Equal(t, "Vault Docs", title)
	assert.Contains(t, text, "# Vault")
	assert.Contains(t, text, "The vault holds deposits.")
	assert.Contains(t, text, "- Audited")
	assert.Contains(t, text, "https://github.com/acme/vault")
	assert.NotContains(t, text, "menu")
	assert.NotContains(t, text, "var x")
	assert.NotContains(t, text, "\n\n\n")
}

func TestFetcher_HTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "scanasha")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(docHTML))
	}))
	defer server.Close()

	page, err := NewFetcher(local, nil).Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "Vault Docs", page.Title)
	assert.Contains(t, page.Text, "vault holds deposits")
	assert.False(t, page.Rendered)
}

func TestFetcher_PlainTextAndTruncation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/markdown")
		w.Write([]byte(strings.Repeat("a", 100)))
	}))
	defer server.Close()

	page, err := NewFetcher(FetchOptions{MaxChars: 10, AllowPrivateHosts: true}, nil).Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.True(t, page.Truncated)
	assert.True(t, strings.HasPrefix(page.Text, strings.Repeat("a", 10)+"\n\n[...truncated...]"))
}

func TestFetcher_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewFetcher(local, nil).Fetch(context.Background(), server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestFetcher_RendersThinPages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><div id="root"></div></body></html>`))
	}))
	defer server.Close()

	renderer := &stubRenderer{html: docHTML}
	page, err := NewFetcher(FetchOptions{MinTextChars: 50, AllowPrivateHosts: true}, renderer).Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, 1, renderer.calls)
	assert.True(t, page.Rendered)
	assert.Contains(t, page.Text, "vault holds deposits")
}

func TestParseIntel(t *testing.T) {
	intel, err := ParseIntel(`{"name":"Vault","description":"  ","codebase":"null","address":"0x52908400098527886E0F7030069857D2E4169EE7"}`)
	require.NoError(t, err)
	require.NotNil(t, intel.Name)
	assert.Equal(t, "Vault", *intel.Name)
	assert.Nil(t, intel.Description)
	assert.Nil(t, intel.Codebase)
	require.NotNil(t, intel.Address)

	intel, err = ParseIntel(`{"address":"0x123"}`)
	require.NoError(t, err)
	assert.Nil(t, intel.Address)

	_, err = ParseIntel(`nope`)
	assert.Error(t, err)
}

func TestExtractor_FetchFailureDegradesToURLOnly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	llm := &stubLLM{answer: `{"name":"X"}`}
	intel, err := NewExtractor(llm, NewFetcher(local, nil)).Analyze(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "X", *intel.Name)
	assert.Equal(t, "Please analyze this documentation: "+server.URL, llm.user)
}

func TestExtractor_IncludesPageContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(docHTML))
	}))
	defer server.Close()

	llm := &stubLLM{answer: `{}`}
	_, err := NewExtractor(llm, NewFetcher(local, nil)).Analyze(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Contains(t, llm.user, "Page title: Vault Docs")
	assert.Contains(t, llm.user, "vault holds deposits")
}

func TestValidateURL(t *testing.T) {
	assert.ErrorIs(t, ValidateURL(""), ErrDocumentationURLRequired)
	assert.ErrorIs(t, ValidateURL("ftp://x.org"), ErrInvalidURL)
	assert.ErrorIs(t, ValidateURL("docs"), ErrInvalidURL)
	assert.NoError(t, ValidateURL("https://docs.example.com/vault"))
}

func TestServer_Analyze(t *testing.T) {
	tests := []struct {
		name string
		body string
		llm  *stubLLM
		code int
		want string
	}{
		{"missing url", `{}`, &stubLLM{}, http.StatusBadRequest, `{"error":"Documentation URL is required"}`},
		{"llm failure", `{"documentationUrl":"https://docs.example.com"}`, &stubLLM{err: errors.New("down")}, http.StatusInternalServerError, `{"success":false,"error":"Failed to analyze documentation"}`},
		{"ok", `{"documentationUrl":"https://docs.example.com"}`, &stubLLM{answer: `{"name":"Vault"}`}, http.StatusOK, `{"success":true,"data":{"name":"Vault","description":null,"codebase":null,"address":null}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewServer(NewExtractor(tt.llm, nil)).Handler()
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(tt.body)))

			assert.Equal(t, tt.code, rec.Code)
			assert.JSONEq(t, tt.want, rec.Body.String())
		})
	}
}

func TestDocumentIntelJSONNulls(t *testing.T) {
	out, err := json.Marshal(DocumentIntel{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":null,"description":null,"codebase":null,"address":null}`, string(out))
}

func TestFetcher_RejectsNonPublicHosts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(docHTML))
	}))
	defer server.Close()

	_, err := NewFetcher(FetchOptions{}, nil).Fetch(context.Background(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPrivateHost)

	page, err := NewFetcher(local, nil).Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "Vault Docs", page.Title)
}

func TestExtractor_NonPublicHostDegradesToURLOnly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(docHTML))
	}))
	defer server.Close()

	llm := &stubLLM{answer: `{}`}
	_, err := NewExtractor(llm, NewFetcher(FetchOptions{}, nil)).Analyze(context.Background(), server.URL)
	require.NoError(t, err)
	assert.NotContains(t, llm.user, "vault holds deposits")
}

func TestCheckPublicHost(t *testing.T) {
	ctx := context.Background()
	for _, u := range []string{
		"http://127.0.0.1:8080/x",
		"http://169.254.169.254/latest/meta-data",
		"http://10.0.0.7/",
		"http://192.168.1.1/",
		"http://0.0.0.0/",
		"http://[::1]/",
	} {
		assert.ErrorIs(t, checkPublicHost(ctx, u), ErrPrivateHost, u)
	}
	assert.NoError(t, checkPublicHost(ctx, "https://93.184.216.34/docs"))
}

func TestFetcher_SkipsRenderForNonPublicHost(t *testing.T) {
	renderer := &stubRenderer{html: docHTML}
	f := NewFetcher(FetchOptions{MinTextChars: 50}, renderer)
	page := Page{URL: "http://127.0.0.1/app", Text: "thin"}
	f.render(context.Background(), &page)
	assert.Zero(t, renderer.calls)
	assert.False(t, page.Rendered)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("é", 10) // two bytes each
	got, cut := truncate(s, 5)
	require.True(t, cut)
	head := strings.TrimSuffix(got, "\n\n[...truncated...]")
	assert.Equal(t, "éé", head)
	assert.True(t, utf8.ValidString(got))

	got, cut = truncate("abc", 5)
	assert.False(t, cut)
	assert.Equal(t, "abc", got)
}
