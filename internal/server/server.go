package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/fhirworks/fhirstore/internal/platform/auth"
	"github.com/fhirworks/fhirstore/internal/platform/fhir"
	"github.com/fhirworks/fhirstore/internal/platform/middleware"
	"github.com/fhirworks/fhirstore/internal/repo"
	"github.com/fhirworks/fhirstore/internal/search"
)

const fhirMIME = "application/fhir+json; charset=utf-8"

// Server is the HTTP face of the store: a thin echo layer over the
// repository and search engine. All domain decisions live below it.
type Server struct {
	echo    *echo.Echo
	repo    *repo.Repository
	engine  *search.Engine
	pool    *pgxpool.Pool
	baseURL string
	version string
}

type Options struct {
	Repo    *repo.Repository
	Engine  *search.Engine
	Pool    *pgxpool.Pool
	Logger  zerolog.Logger
	Auth    auth.Config
	BaseURL string
	Version string
}

func New(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		repo:    opts.Repo,
		engine:  opts.Engine,
		pool:    opts.Pool,
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		version: opts.Version,
	}
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recovery(opts.Logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(opts.Logger))

	e.GET("/healthz", s.health)
	e.GET("/metadata", s.metadata)

	api := e.Group("", auth.Middleware(opts.Auth))
	api.POST("/", s.processBundle)
	api.POST("/:type", s.create)
	api.GET("/:type", s.search)
	api.POST("/:type/_search", s.searchForm)
	api.GET("/:type/_history", s.typeHistory)
	api.GET("/:type/:id", s.read)
	api.PUT("/:type/:id", s.update)
	api.DELETE("/:type/:id", s.delete)
	api.GET("/:type/:id/_history", s.instanceHistory)
	api.GET("/:type/:id/_history/:vid", s.vread)
	api.GET("/Patient/:id/:ctype", s.compartmentSearch)

	return s
}

// Echo exposes the underlying router, for tests and the serve command.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// errorHandler renders every error as an OperationOutcome with the status
// the failure taxonomy assigns. echo's own routing errors pass through
// with their original status.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		outcome := fhir.NewOperationOutcome("error", issueCodeFor(he.Code), fmt.Sprintf("%v", he.Message))
		_ = respond(c, he.Code, outcome)
		return
	}
	outcome, status := fhir.OutcomeForError(err)
	_ = respond(c, status, outcome)
}

func issueCodeFor(status int) string {
	switch status {
	case http.StatusNotFound:
		return "not-found"
	case http.StatusUnauthorized, http.StatusForbidden:
		return "security"
	case http.StatusBadRequest:
		return "invalid"
	default:
		return "processing"
	}
}

// respond writes a JSON body under the FHIR media type.
func respond(c echo.Context, status int, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fhir.InternalError(err)
	}
	return c.Blob(status, fhirMIME, data)
}
