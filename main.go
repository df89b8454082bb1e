// Command aurenad runs the Aurena session coordinator: a LAN-local
// multi-room media synchronization server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thejerf/suture/v4"

	"aurena/catalogue"
	"aurena/clock"
	"aurena/config"
	"aurena/control"
	"aurena/discovery"
	"aurena/ingest"
	"aurena/resource"
	"aurena/session"
	"aurena/transport"
)

// Version is stamped at build time; left as a constant here in the absence
// of a build pipeline.
const Version = "0.1.0"

func main() {
	if len(os.Args) > 1 {
		if RunCLI(os.Args[1:], defaultDBPath()) {
			return
		}
	}

	configPath := flag.String("config", "", "path to an Aurena config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[main] config: %v", err)
	}

	cat, err := catalogue.Open(cfg.Database)
	if err != nil {
		log.Fatalf("[main] catalogue: %v", err)
	}
	defer cat.Close()

	if cfg.Playlist != "" {
		if n, err := cat.ScanPlaylist(cfg.Playlist); err != nil {
			log.Printf("[main] playlist scan: %v (continuing with an empty catalogue)", err)
		} else {
			log.Printf("[main] imported %d entries from %s", n, cfg.Playlist)
		}
	}

	clockProvider, err := clock.NewProvider(fmt.Sprintf(":%d", cfg.ClockPort))
	if err != nil {
		log.Fatalf("[main] clock provider: %v", err)
	}
	defer clockProvider.Close()

	ing := ingest.NewCoordinator(filepath.Dir(cfg.Database))
	coord := session.New(clockProvider.Port(), clockProvider.Now, ing.GetRecordDest)
	hub := transport.NewHub()
	reg := resource.NewRegistry(cat)

	surface := &control.Surface{Coord: coord, Hub: hub, Cat: cat}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Printf("[api] %s %s -> %d", c.Request().Method, v.URI, v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = jsonErrorHandler

	surface.Register(e)
	e.GET("/resource/:id", reg.HandleResource)
	e.POST("/record/:id", ing.HandleUpload)
	e.GET("/control/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/", func(c echo.Context) error {
		return c.Redirect(http.StatusMovedPermanently, "/index.html")
	})
	e.GET("/*", staticHandler(cfg.UIDir))

	responder, err := discovery.Publish(cfg.ServiceName, cfg.Port)
	if err != nil {
		log.Printf("[main] discovery: %v (continuing without LAN advertisement)", err)
	} else {
		defer responder.Shutdown()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	super := suture.NewSimple("aurenad")
	super.Add(serviceFunc(func(ctx context.Context) error {
		return clockProvider.Serve()
	}))
	super.Add(serviceFunc(func(ctx context.Context) error {
		hub.RunLiveness(ctx)
		return nil
	}))
	super.Add(serviceFunc(func(ctx context.Context) error {
		runMetrics(ctx, hub, 5*time.Second)
		return nil
	}))
	super.Add(serviceFunc(func(ctx context.Context) error {
		ing.RunTicker(ctx)
		return nil
	}))
	go super.Serve(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		log.Printf("[main] listening on %s (clock port %d)", addr, clockProvider.Port())
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[main] http server: %v", err)
		}
	}()

	<-sig
	log.Println("[main] shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = e.Shutdown(shutdownCtx)
	cancel()
}

// staticHandler serves the bundled UI: plain files under dir, with the MIME
// type inferred from a small fixed extension list (falling back to
// text/plain for anything else, rather than pulling in a full mime registry
// for what is in practice a handful of web-asset types).
func staticHandler(dir string) echo.HandlerFunc {
	return func(c echo.Context) error {
		rel := filepath.Clean("/" + c.Param("*"))
		if rel == "/" {
			rel = "/index.html"
		}
		path := filepath.Join(dir, rel)

		f, err := os.Open(path)
		if err != nil {
			return c.NoContent(http.StatusNotFound)
		}
		defer f.Close()

		return c.Stream(http.StatusOK, staticMIME(path), f)
	}
}

func staticMIME(path string) string {
	switch filepath.Ext(path) {
	case ".html":
		return "text/html"
	case ".css":
		return "text/css"
	case ".js":
		return "application/javascript"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "text/plain"
	}
}

// serviceFunc adapts a plain function to suture's Service interface.
type serviceFunc func(ctx context.Context) error

func (f serviceFunc) Serve(ctx context.Context) error { return f(ctx) }

func jsonErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
	}
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]string{"error": err.Error()})
	}
}

func defaultDBPath() string {
	return config.Defaults().Database
}
