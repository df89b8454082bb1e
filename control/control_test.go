package control

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"aurena/catalogue"
	"aurena/session"
	"aurena/transport"
)

func newTestSurface(t *testing.T) *Surface {
	t.Helper()
	cat, err := catalogue.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	coord := session.New(5459, func() int64 { return 1 }, nil)
	hub := transport.NewHub()
	return &Surface{Coord: coord, Hub: hub, Cat: cat}
}

func postForm(t *testing.T, s *Surface, handler echo.HandlerFunc, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := handler(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	return rec
}

func getQuery(t *testing.T, s *Surface, handler echo.HandlerFunc, path string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := handler(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	return rec
}

func TestHandlePlayPause(t *testing.T) {
	s := newTestSurface(t)
	s.Coord.Pause()

	rec := postForm(t, s, s.handlePlay, "/control/play", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if s.Coord.Snapshot().Paused {
		t.Fatal("expected playback to resume")
	}
}

func TestHandleNextRejectsDisallowedURIScheme(t *testing.T) {
	s := newTestSurface(t)
	rec := getQuery(t, s, s.handleNext, "/control/next?id=ftp://example.lan/file")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", rec.Code)
	}
}

func TestHandleNextAcceptsCustomURI(t *testing.T) {
	s := newTestSurface(t)
	rec := getQuery(t, s, s.handleNext, "/control/next?id=http://example.lan/file.mp3")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if s.Coord.Snapshot().CursorURI != "http://example.lan/file.mp3" {
		t.Fatalf("CursorURI = %q", s.Coord.Snapshot().CursorURI)
	}
}

func TestHandleVolumeClamped(t *testing.T) {
	s := newTestSurface(t)
	form := url.Values{"level": {"15"}}
	rec := postForm(t, s, s.handleVolume, "/control/volume", form)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if s.Coord.Snapshot().MasterVolume != 10 {
		t.Fatalf("MasterVolume = %v, want clamped to 10", s.Coord.Snapshot().MasterVolume)
	}
}

func TestHandleVolumeBadInput(t *testing.T) {
	s := newTestSurface(t)
	form := url.Values{"level": {"not-a-number"}}
	rec := postForm(t, s, s.handleVolume, "/control/volume", form)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", rec.Code)
	}
}
