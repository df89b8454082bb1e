// Package resource implements Aurena's resource data plane: serving
// catalogue entries as memory-mapped, refcounted local files, or redirecting
// to a URI entry's origin.
package resource

import (
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/labstack/echo/v4"

	"aurena/catalogue"
)

// mappedFile is a refcounted memory mapping of one local file.
type mappedFile struct {
	mu   sync.Mutex
	refs int
	f    *os.File
	m    mmap.MMap
}

func openMapped(path string) (*mappedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		// mmap-go refuses to map a zero-length file; serve it directly
		// without a mapping rather than failing the whole request.
		return &mappedFile{f: f, refs: 1}, nil
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &mappedFile{f: f, m: m, refs: 1}, nil
}

// acquire takes another reference, reporting false if the last holder has
// already released (unmapped and closed) the file.
func (mf *mappedFile) acquire() bool {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	if mf.refs == 0 {
		return false
	}
	mf.refs++
	return true
}

// release decrements the refcount, unmapping and closing once it reaches
// zero.
func (mf *mappedFile) release() {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	mf.refs--
	if mf.refs > 0 {
		return
	}
	if mf.m != nil {
		mf.m.Unmap()
	}
	mf.f.Close()
}

func (mf *mappedFile) bytes() []byte {
	if mf.m != nil {
		return mf.m
	}
	return nil
}

// Registry lazily maps catalogue entries on first use and keeps each
// mapping alive only while at least one request holds it open.
type Registry struct {
	cat *catalogue.Catalogue

	mu     sync.Mutex
	mapped map[uint32]*mappedFile
}

func NewRegistry(cat *catalogue.Catalogue) *Registry {
	return &Registry{cat: cat, mapped: make(map[uint32]*mappedFile)}
}

// Handle is a held reference to a mapped file; call Close when done serving
// the request.
type Handle struct {
	mf *mappedFile
}

func (h *Handle) Bytes() []byte { return h.mf.bytes() }
func (h *Handle) File() *os.File { return h.mf.f }
func (h *Handle) Close()        { h.mf.release() }

// Open returns a held Handle to id's local file. The caller must Close it.
func (r *Registry) Open(id uint32, path string) (*Handle, error) {
	r.mu.Lock()
	mf, ok := r.mapped[id]
	if ok && mf.acquire() {
		r.mu.Unlock()
		return &Handle{mf: mf}, nil
	}
	r.mu.Unlock()

	mf, err := openMapped(path)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.mapped[id]; ok && existing.acquire() {
		// Lost a race with a concurrent Open; keep the winner, release ours.
		r.mu.Unlock()
		mf.release()
		return &Handle{mf: existing}, nil
	}
	r.mapped[id] = mf
	r.mu.Unlock()
	return &Handle{mf: mf}, nil
}

// HandleResource serves GET /resource/:id — a local path's bytes, a 307
// redirect for a URI entry, or 404 for an unknown ID.
func (r *Registry) HandleResource(c echo.Context) error {
	idVal, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.NoContent(http.StatusNotFound)
	}
	id := uint32(idVal)

	loc, isURI, err := r.cat.Get(id)
	if err != nil {
		return c.NoContent(http.StatusNotFound)
	}
	if isURI {
		return c.Redirect(http.StatusTemporaryRedirect, loc)
	}

	h, err := r.Open(id, loc)
	if err != nil {
		return c.NoContent(http.StatusNotFound)
	}
	defer h.Close()

	if b := h.Bytes(); b != nil {
		return c.Blob(http.StatusOK, "application/octet-stream", b)
	}
	return c.Stream(http.StatusOK, "application/octet-stream", h.File())
}
