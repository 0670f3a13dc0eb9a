package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-driver/internal/browser/dom"
	"github.com/xkilldash9x/scalpel-driver/internal/config"
)

func newTestSession(t *testing.T, mutate ...func(*config.BrowserConfig)) *Session {
	t.Helper()
	cfg := config.NewDefaultConfig().Browser()
	for _, m := range mutate {
		m(&cfg)
	}
	return New(cfg, zaptest.NewLogger(t))
}

func TestSession_NotInitialized(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	_, err := s.Resolver()
	assert.ErrorIs(t, err, dom.ErrNotInitialized)
	assert.ErrorIs(t, s.Navigate(ctx, "about:blank"), dom.ErrNotInitialized)
	assert.ErrorIs(t, s.SetViewport(ctx, 800, 600), dom.ErrNotInitialized)
	assert.ErrorIs(t, s.SetDownloadDir(ctx, t.TempDir()), dom.ErrNotInitialized)
}

func TestSession_IDsAreUnique(t *testing.T) {
	a, b := newTestSession(t), newTestSession(t)
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestSession_CloseBeforeInit(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")
	assert.ErrorIs(t, s.Init(context.Background()), dom.ErrSessionClosed)

	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

func TestSession_InitWithDoneParent(t *testing.T) {
	s := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Init(ctx), context.Canceled)
	_, err := s.Resolver()
	assert.ErrorIs(t, err, dom.ErrNotInitialized)
}

func TestSession_InitFailsWithoutBrowser(t *testing.T) {
	s := newTestSession(t, func(c *config.BrowserConfig) {
		c.ExecPath = "/nonexistent/chrome-for-tests"
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.Error(t, s.Init(ctx))
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("failed launch did not release the allocator")
	}
	_, err := s.Resolver()
	assert.ErrorIs(t, err, dom.ErrNotInitialized)
	assert.ErrorIs(t, s.Init(ctx), dom.ErrSessionClosed)
	require.NoError(t, s.Close(), "close after a failed launch")
	require.NoError(t, s.Wait(ctx))
}

func TestJSLiteral(t *testing.T) {
	assert.Equal(t, `"data-x"`, jsLiteral("data-x"))
	assert.Equal(t, `"a\"b\\c"`, jsLiteral(`a"b\c`))
	assert.Equal(t, `"\u003c/script\u003e"`, jsLiteral("</script>"))
}

func TestCenter(t *testing.T) {
	x, y := center([]float64{10, 20, 30, 20, 30, 60, 10, 60})
	assert.Equal(t, 20.0, x)
	assert.Equal(t, 40.0, y)
}
