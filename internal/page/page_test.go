package page

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/skim/internal/errors"
)

const article = `<!doctype html>
<html>
<head>
  <title>  The   Title </title>
  <style>body { color: red }</style>
  <script>var secret = "do not read";</script>
</head>
<body>
  <nav><a href="/">Home</a> <a href="/about">About</a></nav>
  <h1>Heading</h1>
  <p>First    paragraph
     continues here.</p>
  <p hidden>hidden paragraph</p>
  <div style="display: none">invisible</div>
  <span aria-hidden="true">decorative</span>
  <ul><li>one</li><li>two</li></ul>
  line<br>break
  <!-- a comment -->
  <noscript>enable js</noscript>
</body>
</html>`

func TestExtract(t *testing.T) {
	title, text, err := Extract(strings.NewReader(article))
	require.NoError(t, err)
	require.Equal(t, "The Title", title)

	want := strings.Join([]string{
		"Home About",
		"Heading",
		"First paragraph continues here.",
		"one",
		"two",
		"line",
		"break",
	}, "\n")
	require.Equal(t, want, text)
}

func TestExtract_NoBody(t *testing.T) {
	title, text, err := Extract(strings.NewReader("just text"))
	require.NoError(t, err)
	require.Empty(t, title)
	require.Equal(t, "just text", text)
}

func TestHTTPSource_Load(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/article":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = io.WriteString(w, article)
		case "/plain":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = io.WriteString(w, "plain   text\n\n\nbody")
		case "/image":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.Client())
	ctx := context.Background()

	p, err := src.Load(ctx, srv.URL+"/article")
	require.NoError(t, err)
	require.Equal(t, "The Title", p.Title)
	require.Equal(t, srv.URL+"/article", p.URL)
	require.Contains(t, p.Text, "First paragraph continues here.")
	require.NotContains(t, p.Text, "secret")

	p, err = src.Load(ctx, srv.URL+"/plain")
	require.NoError(t, err)
	require.Equal(t, "plain text\nbody", p.Text)

	_, err = src.Load(ctx, srv.URL+"/image")
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = src.Load(ctx, srv.URL+"/missing")
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = src.Load(ctx, "::not a url")
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}
