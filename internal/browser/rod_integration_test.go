package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// openChromium открывает сессию на временном профиле или пропускает тест, если браузера нет.
func openChromium(t *testing.T) Page {
	t.Helper()
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("chromium is not available")
	}

	cfg := DefaultConfig()
	cfg.Bin, cfg.ProfileDir = bin, t.TempDir()
	cfg.NavigationTimeout = 10 * time.Second

	session, err := NewRodLauncher(cfg, log.WithField("test", "rod")).Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session.Page()
}

// listingSite отдаёт страницу, которая после load дозагружает список запросом длиной delay.
func listingSite(t *testing.T, delay time.Duration, poll bool) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		script := `fetch('/list').then(r => r.text()).then(t => { document.body.dataset.list = t })`
		if poll {
			script = `setInterval(() => fetch('/list'), 100)`
		}
		_, _ = fmt.Fprintf(w, `<html><body><script>%s</script></body></html>`, script)
	})
	mux.HandleFunc("/list", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(delay)
		_, _ = w.Write([]byte("loaded"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL + "/"
}

func TestRodPage_WaitIdleCoversRequestsStartedDuringLoad(t *testing.T) {
	page := openChromium(t)
	ctx := context.Background()

	require.NoError(t, page.Navigate(ctx, listingSite(t, 1500*time.Millisecond, false)))
	require.NoError(t, page.WaitIdle(ctx, 10*time.Second))

	_, found, err := page.Find(ctx, `body[data-list="loaded"]`)
	require.NoError(t, err)
	require.True(t, found, "list request was still in flight when WaitIdle returned")
}

func TestRodPage_WaitIdleTimesOutOnBusyNetwork(t *testing.T) {
	page := openChromium(t)
	ctx := context.Background()

	require.NoError(t, page.Navigate(ctx, listingSite(t, 50*time.Millisecond, true)))

	start := time.Now()
	err := page.WaitIdle(ctx, time.Second)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 5*time.Second)
}
