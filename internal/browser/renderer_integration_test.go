//go:build integration

package browser_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanasha/internal/browser"
)

func TestRenderer_RendersScriptedContent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `<html><body><div id="app"></div>
<script>document.getElementById("app").innerText = "Vault contract docs";</script>
</body></html>`)
	}))
	defer ts.Close()

	r := browser.NewRenderer(browser.Config{NavigationTimeout: 10 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	defer func() { _ = r.Shutdown() }()

	html, err := r.Render(ctx, ts.URL)
	require.NoError(t, err)
	assert.Contains(t, html, "Vault contract docs")
	assert.NotEmpty(t, r.ControlURL())
}

func TestRenderer_ShutdownIsIdempotent(t *testing.T) {
	r := browser.NewRenderer(browser.Config{})
	assert.NoError(t, r.Shutdown())
	assert.NoError(t, r.Shutdown())
}
