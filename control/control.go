// Package control implements Aurena's control surface: the HTTP endpoints a
// controller uses to drive playback, and the subscriber-enrolment endpoint
// that wires a new connection into the session coordinator and transport
// hub.
package control

import (
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"aurena/catalogue"
	"aurena/event"
	"aurena/session"
	"aurena/transport"
)

// Surface bundles the dependencies every control handler needs.
type Surface struct {
	Coord *session.Coordinator
	Hub   *transport.Hub
	Cat   *catalogue.Catalogue
}

// Register mounts every control-surface route on e.
func (s *Surface) Register(e *echo.Echo) {
	e.GET("/client/events", s.handleEvents)
	e.POST("/client/events", s.handleClientStats)
	e.GET("/client/player_info", s.handlePlayerInfo)
	e.GET("/control/play", s.handlePlay)
	e.GET("/control/pause", s.handlePause)
	e.GET("/control/next", s.handleNext)
	e.POST("/control/seek", s.handleSeek)
	e.POST("/control/volume", s.handleVolume)
	e.POST("/control/setclient", s.handleSetClient)
	e.POST("/control/language", s.handleLanguage)
}

func (s *Surface) dispatch(events []event.Event) {
	for _, e := range events {
		s.Hub.Broadcast(e)
	}
}

// handleEvents is the subscriber enrolment endpoint: it resolves roles from
// the "roles" query parameter, enrols (or reattaches) a proxy in the
// coordinator, then hands the connection to the transport hub using
// whichever kind the request negotiates.
func (s *Surface) handleEvents(c echo.Context) error {
	roles := event.ParseRoles(c.QueryParam("roles"))
	if roles == 0 {
		roles = event.RoleController
	}

	host, _, err := net.SplitHostPort(c.Request().RemoteAddr)
	if err != nil {
		host = c.Request().RemoteAddr
	}
	_, events := s.Coord.Enrol(host, roles)
	for _, e := range events {
		s.Hub.Broadcast(e)
	}

	if websocketRequested(c.Request()) {
		return s.Hub.AcceptWebSocket(c, roles, s.onControlFrame)
	}
	if c.QueryParam("once") == "1" {
		return s.Hub.AcceptSingle(c, roles)
	}
	return s.Hub.AcceptChunked(c, roles)
}

func websocketRequested(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// onControlFrame handles an inbound control frame received over a
// websocket-kind subscriber connection, treating it as an already-decoded
// event and re-dispatching any resulting coordinator events.
func (s *Surface) onControlFrame(connID string, frame []byte) {
	e, err := event.Decode(frame)
	if err != nil {
		return
	}
	switch e.Name() {
	case event.NamePlay:
		s.dispatch(s.Coord.Play())
	case event.NamePause:
		s.dispatch(s.Coord.Pause())
	}
}

// handlePlayerInfo returns a single-reply snapshot of the current player
// roster, for controllers that poll rather than subscribe.
func (s *Surface) handlePlayerInfo(c echo.Context) error {
	var ids []uint32
	for _, p := range s.Coord.Players() {
		ids = append(ids, p.ID)
	}
	e := event.New(event.NamePlayerClients, event.RoleController, event.Payload{Players: ids})
	return c.Blob(http.StatusOK, "application/json", e.Encode())
}

// handleClientStats accepts a client-stats event body posted by a player or
// capture connection and forwards it verbatim to controllers, the same
// pass-through the original control channel gave aur_manager_handle_client_stats.
func (s *Surface) handleClientStats(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	e, err := event.Decode(body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	s.Hub.Broadcast(event.New(event.NameClientStats, event.RoleController, e.Payload()))
	return c.NoContent(http.StatusOK)
}

func (s *Surface) handlePlay(c echo.Context) error {
	s.dispatch(s.Coord.Play())
	return c.NoContent(http.StatusOK)
}

func (s *Surface) handlePause(c echo.Context) error {
	s.dispatch(s.Coord.Pause())
	return c.NoContent(http.StatusOK)
}

// handleNext accepts a single "id" query parameter that is either an integer
// catalogue ID or a custom URI (only http:// is accepted, mirroring the
// original control_callback's is_allowed_uri check), or is absent — in which
// case a random catalogue entry is picked.
func (s *Surface) handleNext(c echo.Context) error {
	raw := c.QueryParam("id")

	var id uint32
	var uri string
	switch {
	case raw == "":
		// random fallback
	case strings.HasPrefix(raw, "http://"):
		uri = raw
	case strings.Contains(raw, "://"):
		return c.NoContent(http.StatusBadRequest)
	default:
		parsed, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return c.NoContent(http.StatusBadRequest)
		}
		id = uint32(parsed)
	}

	count, err := s.Cat.Count()
	if err != nil {
		return c.NoContent(http.StatusServiceUnavailable)
	}

	s.dispatch(s.Coord.Next(id, uri, count))
	return c.NoContent(http.StatusOK)
}

func (s *Surface) handleSeek(c echo.Context) error {
	pos, err := strconv.ParseInt(c.FormValue("position"), 10, 64)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	s.dispatch(s.Coord.Seek(pos))
	return c.NoContent(http.StatusOK)
}

// handleVolume accepts a "level" value in [0,10] and an optional "client_id"
// (0, or absent, addresses the master volume).
func (s *Surface) handleVolume(c echo.Context) error {
	level, err := strconv.ParseFloat(c.FormValue("level"), 64)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	var clientID uint64
	if raw := c.FormValue("client_id"); raw != "" {
		clientID, err = strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return c.NoContent(http.StatusBadRequest)
		}
	}
	s.dispatch(s.Coord.Volume(uint32(clientID), level))
	return c.NoContent(http.StatusOK)
}

func (s *Surface) handleSetClient(c echo.Context) error {
	clientID, err := strconv.ParseUint(c.FormValue("client_id"), 10, 32)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	enable := c.FormValue("enable") == "1"
	recordEnable := c.FormValue("record_enable") == "1"
	s.dispatch(s.Coord.SetClient(uint32(clientID), enable, recordEnable))
	return c.NoContent(http.StatusOK)
}

func (s *Surface) handleLanguage(c echo.Context) error {
	tag := c.FormValue("language")
	s.dispatch(s.Coord.Language(tag))
	return c.NoContent(http.StatusOK)
}
