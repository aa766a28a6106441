package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLogging(t *testing.T) {
	t.Helper()
	CloseAll()
	loggersMu.Lock()
	ready = false
	opts = Options{}
	loggersMu.Unlock()
	t.Cleanup(func() {
		CloseAll()
		loggersMu.Lock()
		ready = false
		loggersMu.Unlock()
	})
}

func TestGetBeforeInitializeIsNoop(t *testing.T) {
	resetLogging(t)

	l := Get(CategoryAudit)
	require.NotNil(t, l)
	assert.Nil(t, l.sugar)

	// Must not panic.
	l.Info("hello %s", "world")
	Audit("convenience %d", 1)
}

func TestAllCategoriesLogToFiles(t *testing.T) {
	resetLogging(t)
	dir := t.TempDir()

	require.NoError(t, Initialize(Options{Level: "debug", Format: "json", Dir: dir}))

	for _, cat := range AllCategories {
		Get(cat).Info("test message for %s", cat)
	}
	CloseAll()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	found := map[string]bool{}
	for _, e := range entries {
		for _, cat := range AllCategories {
			if strings.HasSuffix(e.Name(), "_"+string(cat)+".log") {
				found[string(cat)] = true
			}
		}
	}
	for _, cat := range AllCategories {
		assert.True(t, found[string(cat)], "missing log file for %s", cat)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*_audit.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"test message for audit"`)
	assert.Contains(t, string(data), `"logger":"audit"`)
}

func TestCategoryFilter(t *testing.T) {
	resetLogging(t)
	dir := t.TempDir()

	require.NoError(t, Initialize(Options{
		Level:      "info",
		Dir:        dir,
		Categories: map[string]bool{"scanner": false},
	}))

	assert.False(t, IsCategoryEnabled(CategoryScanner))
	assert.True(t, IsCategoryEnabled(CategoryAudit))
	assert.Nil(t, Get(CategoryScanner).sugar)
}

func TestLevelFiltering(t *testing.T) {
	resetLogging(t)
	dir := t.TempDir()

	require.NoError(t, Initialize(Options{Level: "warn", Format: "json", Dir: dir}))
	Get(CategoryStore).Info("should not appear")
	Get(CategoryStore).Warn("should appear")
	CloseAll()

	matches, _ := filepath.Glob(filepath.Join(dir, "*_store.log"))
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.NotContains(t, string(data), "should not appear")
	assert.Contains(t, string(data), "should appear")
}

func TestConcurrentGet(t *testing.T) {
	resetLogging(t)
	require.NoError(t, Initialize(Options{Level: "error", Dir: t.TempDir()}))

	var wg sync.WaitGroup
	got := make([]*Logger, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = Get(CategoryRegistry)
		}(i)
	}
	wg.Wait()

	for _, l := range got[1:] {
		assert.Same(t, got[0], l)
	}
}

func TestTimer(t *testing.T) {
	resetLogging(t)
	timer := StartTimer(CategoryLLM, "TestOperation")
	time.Sleep(time.Millisecond)
	elapsed := timer.Stop()
	assert.Greater(t, elapsed, time.Duration(0))

	slow := StartTimer(CategoryLLM, "Slow")
	time.Sleep(2 * time.Millisecond)
	assert.GreaterOrEqual(t, slow.StopWithThreshold(time.Millisecond), time.Millisecond)
}
