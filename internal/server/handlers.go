package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/fhirworks/fhirstore/internal/platform/db"
	"github.com/fhirworks/fhirstore/internal/platform/fhir"
	"github.com/fhirworks/fhirstore/internal/repo"
	"github.com/fhirworks/fhirstore/internal/search"
)

// maxBodyBytes caps request bodies; large Bundles stay well under this.
const maxBodyBytes = 32 << 20

func (s *Server) create(c echo.Context) error {
	resource, err := readResource(c)
	if err != nil {
		return err
	}
	resourceType := c.Param("type")
	if resource.Type() != resourceType {
		return fhir.InvalidError("body resourceType %q does not match URL type %q", resource.Type(), resourceType)
	}

	created, err := s.repo.Create(c.Request().Context(), resource)
	if err != nil {
		return err
	}
	s.setResourceHeaders(c, created)
	c.Response().Header().Set(echo.HeaderLocation,
		fmt.Sprintf("%s/%s/%s/_history/%s", s.baseURL, created.Type(), created.ID(), created.VersionID()))
	return respond(c, http.StatusCreated, created)
}

func (s *Server) read(c echo.Context) error {
	res, err := s.repo.Read(c.Request().Context(), c.Param("type"), c.Param("id"))
	if err != nil {
		return err
	}
	s.setResourceHeaders(c, res)
	return respond(c, http.StatusOK, res)
}

func (s *Server) vread(c echo.Context) error {
	res, err := s.repo.ReadVersion(c.Request().Context(), c.Param("type"), c.Param("id"), c.Param("vid"))
	if err != nil {
		return err
	}
	s.setResourceHeaders(c, res)
	return respond(c, http.StatusOK, res)
}

func (s *Server) update(c echo.Context) error {
	resource, err := readResource(c)
	if err != nil {
		return err
	}
	resourceType, id := c.Param("type"), c.Param("id")
	if resource.Type() != resourceType {
		return fhir.InvalidError("body resourceType %q does not match URL type %q", resource.Type(), resourceType)
	}
	switch resource.ID() {
	case "":
		resource.SetID(id)
	case id:
	default:
		return fhir.InvalidError("body id %q does not match URL id %q", resource.ID(), id)
	}

	expected := parseETag(c.Request().Header.Get("If-Match"))
	updated, err := s.repo.Update(c.Request().Context(), resource, expected)
	if err != nil {
		return err
	}
	s.setResourceHeaders(c, updated)
	return respond(c, http.StatusOK, updated)
}

func (s *Server) delete(c echo.Context) error {
	if err := s.repo.Delete(c.Request().Context(), c.Param("type"), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) search(c echo.Context) error {
	return s.runSearch(c, c.Param("type"), c.QueryParams(), "")
}

// searchForm is the POST /:type/_search alternative; form fields merge
// with the query string.
func (s *Server) searchForm(c echo.Context) error {
	if err := c.Request().ParseForm(); err != nil {
		return fhir.InvalidError("malformed search form: %v", err)
	}
	return s.runSearch(c, c.Param("type"), c.Request().Form, "")
}

// compartmentSearch handles GET /Patient/{id}/{type}. The route also
// captures the reserved _history segment, which belongs to instance
// history.
func (s *Server) compartmentSearch(c echo.Context) error {
	if c.Param("ctype") == "_history" {
		return s.instanceHistoryFor(c, "Patient", c.Param("id"))
	}
	return s.runSearch(c, c.Param("ctype"), c.QueryParams(), c.Param("id"))
}

func (s *Server) runSearch(c echo.Context, resourceType string, values url.Values, compartment string) error {
	req, err := search.ParseRequest(resourceType, values, s.engine.Limits())
	if err != nil {
		return err
	}
	req.Compartment = compartment

	bundle, err := s.engine.Execute(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, bundle)
}

func (s *Server) instanceHistory(c echo.Context) error {
	return s.instanceHistoryFor(c, c.Param("type"), c.Param("id"))
}

func (s *Server) instanceHistoryFor(c echo.Context, resourceType, id string) error {
	opts, err := historyOptions(c)
	if err != nil {
		return err
	}
	entries, err := s.repo.ReadHistory(c.Request().Context(), resourceType, id, opts)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, s.historyBundle(resourceType, entries))
}

func (s *Server) typeHistory(c echo.Context) error {
	opts, err := historyOptions(c)
	if err != nil {
		return err
	}
	resourceType := c.Param("type")
	entries, err := s.repo.TypeHistory(c.Request().Context(), resourceType, opts)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, s.historyBundle(resourceType, entries))
}

func (s *Server) processBundle(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	bundle := &fhir.Bundle{}
	if err := json.Unmarshal(body, bundle); err != nil {
		return fhir.InvalidError("malformed bundle: %v", err)
	}
	if bundle.ResourceType != "Bundle" {
		return fhir.InvalidError("root endpoint accepts Bundle resources, got %q", bundle.ResourceType)
	}

	result, err := s.repo.ProcessBundle(c.Request().Context(), bundle)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, result)
}

func (s *Server) health(c echo.Context) error {
	if s.pool == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  "no database pool",
		})
	}
	if err := db.CheckHealth(c.Request().Context(), s.pool); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"database": db.PoolStats(s.pool),
	})
}

func (s *Server) metadata(c echo.Context) error {
	return respond(c, http.StatusOK, s.capability())
}

// ============================================================================
// Helpers
// ============================================================================

func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return nil, fhir.InvalidError("reading request body: %v", err)
	}
	if len(body) == 0 {
		return nil, fhir.InvalidError("request body is required")
	}
	return body, nil
}

func readResource(c echo.Context) (fhir.Resource, error) {
	body, err := readBody(c)
	if err != nil {
		return nil, err
	}
	resource, err := fhir.ParseResource(body)
	if err != nil {
		return nil, fhir.InvalidError("malformed resource: %v", err)
	}
	return resource, nil
}

func (s *Server) setResourceHeaders(c echo.Context, res fhir.Resource) {
	h := c.Response().Header()
	if vid := res.VersionID(); vid != "" {
		h.Set("ETag", `W/"`+vid+`"`)
	}
	if lu := res.LastUpdated(); !lu.IsZero() {
		h.Set("Last-Modified", lu.UTC().Format(http.TimeFormat))
	}
}

// parseETag strips the weak-validator wrapper from an If-Match value.
func parseETag(etag string) string {
	s := strings.TrimPrefix(strings.TrimSpace(etag), "W/")
	return strings.Trim(s, `"`)
}

func historyOptions(c echo.Context) (repo.HistoryOptions, error) {
	var opts repo.HistoryOptions
	q := c.QueryParams()

	if raw := q.Get("_count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return opts, fhir.InvalidError("invalid _count %q", raw)
		}
		opts.Count = n
	}
	if raw := q.Get("_since"); raw != "" {
		ts, err := repo.ParseFlexTime(raw)
		if err != nil {
			return opts, fhir.InvalidError("invalid _since %q", raw)
		}
		opts.Since = &ts
	}
	if raw := q.Get("_before"); raw != "" {
		ts, err := repo.ParseFlexTime(raw)
		if err != nil {
			return opts, fhir.InvalidError("invalid _before %q", raw)
		}
		opts.Before = &ts
	}
	return opts, nil
}

// historyBundle shapes history entries into a history Bundle. Tombstones
// carry a DELETE request entry instead of a resource.
func (s *Server) historyBundle(resourceType string, entries []repo.HistoryEntry) *fhir.Bundle {
	bundle := fhir.NewBundle("history")
	total := len(entries)
	bundle.Total = &total

	for _, e := range entries {
		lastUpdated := e.LastUpdated
		entry := fhir.BundleEntry{
			FullURL: s.baseURL + "/" + resourceType + "/" + e.ID,
		}
		if e.Deleted {
			entry.Request = &fhir.BundleRequest{Method: http.MethodDelete, URL: resourceType + "/" + e.ID}
			entry.Response = &fhir.BundleResponse{
				Status:       statusLine(http.StatusNoContent),
				LastModified: &lastUpdated,
			}
		} else {
			entry.Resource = e.Resource
			entry.Request = &fhir.BundleRequest{Method: http.MethodPut, URL: resourceType + "/" + e.ID}
			entry.Response = &fhir.BundleResponse{
				Status:       statusLine(http.StatusOK),
				ETag:         `W/"` + e.Resource.VersionID() + `"`,
				LastModified: &lastUpdated,
			}
		}
		bundle.Entry = append(bundle.Entry, entry)
	}
	return bundle
}

func statusLine(code int) string {
	return fmt.Sprintf("%d %s", code, http.StatusText(code))
}
