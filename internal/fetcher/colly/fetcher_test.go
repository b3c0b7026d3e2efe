package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitewatch/internal/tracker"
)

func TestFetcherReturnsVisibleText(t *testing.T) {
	t.Parallel()

	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><style>p{}</style><script>var x=1;</script></head>` +
			`<body><h1>Summer Camps</h1><p>Register now</p></body></html>`))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	text, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Contains(t, text, "Summer Camps")
	require.Contains(t, text, "Register now")
	require.NotContains(t, text, "var x")
	require.Equal(t, DefaultUserAgent, gotUA)
}

func TestFetcherFollowsRedirects(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>moved here</body></html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	text, err := New(Config{}).Fetch(context.Background(), srv.URL+"/old")
	require.NoError(t, err)
	require.Contains(t, text, "moved here")
}

func TestFetcherRevisitsSameURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<p>stable</p>"))
	}))
	defer srv.Close()

	f := New(Config{})
	for i := 0; i < 2; i++ {
		text, err := f.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
		require.Contains(t, text, "stable")
	}
}

func TestFetcherStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(Config{}).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	var fe *tracker.FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, tracker.FetchErrorStatus, fe.Kind)
	require.Equal(t, srv.URL, fe.URL)
}

func TestFetcherTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()
	defer close(release)

	_, err := New(Config{Timeout: 50 * time.Millisecond}).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	var fe *tracker.FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, tracker.FetchErrorTimeout, fe.Kind)
}

func TestFetcherUnreachableHost(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Timeout: 2 * time.Second}).Fetch(context.Background(), "http://127.0.0.1:1")
	require.Error(t, err)
	var fe *tracker.FetchError
	require.True(t, errors.As(err, &fe))
	require.NotEqual(t, tracker.FetchErrorParse, fe.Kind)
}

func TestBuildCollectorAppliesConfig(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", RespectRobots: true, Timeout: time.Second})
	collector := f.buildCollector()
	require.Equal(t, "coverage-agent", collector.UserAgent)
	require.False(t, collector.IgnoreRobotsTxt)
	require.True(t, collector.AllowURLRevisit)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	var (
		body     []byte
		status   int
		fetchErr error
	)
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, &body, &status, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	raw := []byte("body")
	hooks.onResponse(&colly.Response{StatusCode: http.StatusOK, Body: raw})
	raw[0] = 'B'
	require.Equal(t, "body", string(body), "body must be copied")
	require.Equal(t, http.StatusOK, status)

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
	require.Equal(t, http.StatusBadGateway, status)
}

func TestExtractTextDropsInvisibleElements(t *testing.T) {
	t.Parallel()

	text, err := ExtractText([]byte(`<div>a<noscript>enable js</noscript><template>t</template>b</div>`))
	require.NoError(t, err)
	require.Equal(t, "ab", strings.TrimSpace(text))
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
