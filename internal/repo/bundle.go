package repo

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fhirworks/fhirstore/internal/platform/db"
	"github.com/fhirworks/fhirstore/internal/platform/fhir"
)

// ============================================================================
// Bundle processing
//
// Transactions execute atomically in one database transaction with
// urn:uuid placeholder resolution; batches execute each entry in
// isolation and report per-entry outcomes.
// ============================================================================

// supportedMethods is the set of entry methods a bundle may carry.
var supportedMethods = map[string]bool{
	"DELETE": true,
	"POST":   true,
	"PUT":    true,
	"GET":    true,
	"HEAD":   true,
}

type bundleOp struct {
	index     int // position in the request bundle
	method    string
	urlType   string
	urlID     string
	versionID string
	ifMatch   string
	resource  fhir.Resource
	assigned  string // server-assigned id for POST
}

// ProcessBundle dispatches a transaction or batch bundle. The response
// bundle mirrors the request entry order.
func (r *Repository) ProcessBundle(ctx context.Context, bundle *fhir.Bundle) (*fhir.Bundle, error) {
	if bundle == nil || bundle.ResourceType != "Bundle" {
		return nil, fhir.InvalidError("expected a Bundle resource")
	}
	switch bundle.Type {
	case "transaction":
		return r.processTransaction(ctx, bundle)
	case "batch":
		return r.processBatch(ctx, bundle)
	default:
		return nil, fhir.InvalidError("unsupported bundle type %q", bundle.Type)
	}
}

func (r *Repository) processTransaction(ctx context.Context, bundle *fhir.Bundle) (*fhir.Bundle, error) {
	ops, err := parseBundleOps(bundle)
	if err != nil {
		return nil, err
	}

	// Pre-assign ids for creates so placeholder references can resolve
	// before anything executes.
	urnMap := make(map[string]string)
	for i, entry := range bundle.Entry {
		op := ops[i]
		if op.method == "POST" {
			op.assigned = uuid.NewString()
		}
		if strings.HasPrefix(entry.FullURL, "urn:") {
			switch op.method {
			case "POST":
				urnMap[entry.FullURL] = op.urlType + "/" + op.assigned
			case "PUT":
				urnMap[entry.FullURL] = op.urlType + "/" + op.urlID
			}
		}
	}
	for _, op := range ops {
		if op.resource != nil {
			rewriteReferences(op.resource, urnMap)
		}
	}

	// Entries execute in input order; placeholder resolution above makes
	// forward references work without reordering.
	responses := make([]fhir.BundleEntry, len(ops))
	err = db.WithTransaction(ctx, r.pool, func(tx pgx.Tx) error {
		for _, op := range ops {
			entry, err := r.executeOp(ctx, tx, op)
			if err != nil {
				return err
			}
			responses[op.index] = entry
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := fhir.NewBundle("transaction-response")
	out.Entry = responses
	return out, nil
}

func (r *Repository) processBatch(ctx context.Context, bundle *fhir.Bundle) (*fhir.Bundle, error) {
	out := fhir.NewBundle("batch-response")
	out.Entry = make([]fhir.BundleEntry, len(bundle.Entry))

	for i, entry := range bundle.Entry {
		op, err := parseBundleOp(i, entry)
		if err == nil {
			if op.method == "POST" {
				op.assigned = uuid.NewString()
			}
			var resp fhir.BundleEntry
			err = db.WithTransaction(ctx, r.pool, func(tx pgx.Tx) error {
				var txErr error
				resp, txErr = r.executeOp(ctx, tx, op)
				return txErr
			})
			if err == nil {
				out.Entry[i] = resp
				continue
			}
		}
		outcome, status := fhir.OutcomeForError(err)
		out.Entry[i] = fhir.BundleEntry{
			Response: &fhir.BundleResponse{
				Status:  statusLine(status),
				Outcome: outcome,
			},
		}
	}
	return out, nil
}

// executeOp runs one entry inside an open transaction and shapes its
// response entry.
func (r *Repository) executeOp(ctx context.Context, tx pgx.Tx, op *bundleOp) (fhir.BundleEntry, error) {
	switch op.method {
	case "POST":
		if err := r.precheck(op.resource); err != nil {
			return fhir.BundleEntry{}, err
		}
		stored := op.resource.Clone()
		stored.SetID(op.assigned)
		stored.Stamp(uuid.NewString(), time.Now().UTC())
		if err := r.writeResource(ctx, tx, stored); err != nil {
			return fhir.BundleEntry{}, err
		}
		return responseEntry(stored, http.StatusCreated), nil

	case "PUT":
		if err := r.precheck(op.resource); err != nil {
			return fhir.BundleEntry{}, err
		}
		if op.resource.ID() != op.urlID {
			return fhir.BundleEntry{}, fhir.InvalidError("entry resource id %q does not match request url id %q", op.resource.ID(), op.urlID)
		}
		current, _, err := r.lockRow(ctx, tx, op.urlType, op.urlID)
		if err != nil {
			return fhir.BundleEntry{}, err
		}
		if op.ifMatch != "" {
			expected := parseETag(op.ifMatch)
			if current == nil || current.VersionID() != expected {
				return fhir.BundleEntry{}, fhir.VersionConflictError(op.urlType, op.urlID, expected)
			}
		}
		stored := op.resource.Clone()
		stored.Stamp(uuid.NewString(), time.Now().UTC())
		if err := r.writeResource(ctx, tx, stored); err != nil {
			return fhir.BundleEntry{}, err
		}
		status := http.StatusOK
		if current == nil {
			status = http.StatusCreated
		}
		return responseEntry(stored, status), nil

	case "DELETE":
		if err := r.deleteInTx(ctx, tx, op.urlType, op.urlID); err != nil {
			return fhir.BundleEntry{}, err
		}
		return fhir.BundleEntry{
			Response: &fhir.BundleResponse{Status: statusLine(http.StatusNoContent)},
		}, nil

	case "GET", "HEAD":
		res, err := r.readInTx(ctx, tx, op)
		if err != nil {
			return fhir.BundleEntry{}, err
		}
		entry := responseEntry(res, http.StatusOK)
		if op.method == "HEAD" {
			entry.Resource = nil
		}
		return entry, nil
	}
	return fhir.BundleEntry{}, fhir.InvalidError("unsupported bundle entry method %q", op.method)
}

// readInTx reads a resource, or one version of it, through the open
// transaction so transaction GETs see the bundle's own writes.
func (r *Repository) readInTx(ctx context.Context, tx pgx.Tx, op *bundleOp) (fhir.Resource, error) {
	if err := r.checkType(op.urlType); err != nil {
		return nil, err
	}
	if op.versionID != "" {
		sql, args := SelectVersionSQL(op.urlType, op.urlID, op.versionID)
		var content string
		err := tx.QueryRow(ctx, sql, args...).Scan(&content)
		if err == pgx.ErrNoRows {
			return nil, fhir.NotFoundError(op.urlType, op.urlID)
		}
		if err != nil {
			return nil, fhir.InternalError(err)
		}
		if content == "" {
			return nil, fhir.GoneError(op.urlType, op.urlID)
		}
		return fhir.ParseResource([]byte(content))
	}

	sql, args := SelectRowSQL(op.urlType, op.urlID, r.readProject(ctx))
	var content string
	var deleted bool
	var lastUpdated time.Time
	err := tx.QueryRow(ctx, sql, args...).Scan(&content, &deleted, &lastUpdated)
	if err == pgx.ErrNoRows {
		return nil, fhir.NotFoundError(op.urlType, op.urlID)
	}
	if err != nil {
		return nil, fhir.InternalError(err)
	}
	if deleted {
		return nil, fhir.GoneError(op.urlType, op.urlID)
	}
	return fhir.ParseResource([]byte(content))
}

// ============================================================================
// Parsing and shaping
// ============================================================================

func parseBundleOps(bundle *fhir.Bundle) ([]*bundleOp, error) {
	if len(bundle.Entry) == 0 {
		return nil, fhir.InvalidError("bundle has no entries")
	}
	ops := make([]*bundleOp, len(bundle.Entry))
	for i, entry := range bundle.Entry {
		op, err := parseBundleOp(i, entry)
		if err != nil {
			return nil, err
		}
		ops[i] = op
	}
	return ops, nil
}

func parseBundleOp(index int, entry fhir.BundleEntry) (*bundleOp, error) {
	if entry.Request == nil {
		return nil, fhir.InvalidError("entry %d has no request", index)
	}
	method := strings.ToUpper(entry.Request.Method)
	if !supportedMethods[method] {
		return nil, fhir.InvalidError("entry %d: unsupported method %q", index, entry.Request.Method)
	}

	resourceType, id, versionID, err := parseRequestURL(entry.Request.URL)
	if err != nil {
		return nil, fhir.InvalidError("entry %d: %s", index, err.Error())
	}

	op := &bundleOp{
		index:     index,
		method:    method,
		urlType:   resourceType,
		urlID:     id,
		versionID: versionID,
		ifMatch:   entry.Request.IfMatch,
		resource:  entry.Resource,
	}

	switch method {
	case "POST":
		if op.resource == nil {
			return nil, fhir.InvalidError("entry %d: POST requires a resource", index)
		}
		if id != "" {
			return nil, fhir.InvalidError("entry %d: POST url must not carry an id", index)
		}
	case "PUT":
		if op.resource == nil {
			return nil, fhir.InvalidError("entry %d: PUT requires a resource", index)
		}
		if id == "" {
			return nil, fhir.InvalidError("entry %d: PUT url must carry an id", index)
		}
	case "DELETE", "GET", "HEAD":
		if id == "" {
			return nil, fhir.InvalidError("entry %d: %s url must carry an id", index, method)
		}
	}
	if op.resource != nil && op.resource.Type() != resourceType {
		return nil, fhir.InvalidError("entry %d: resource type %q does not match url type %q", index, op.resource.Type(), resourceType)
	}
	return op, nil
}

// parseRequestURL accepts "Type", "Type/id" and "Type/id/_history/vid".
func parseRequestURL(raw string) (resourceType, id, versionID string, err error) {
	trimmed := strings.TrimPrefix(raw, "/")
	if trimmed == "" {
		return "", "", "", fmt.Errorf("request url is empty")
	}
	if strings.ContainsAny(trimmed, "?&") {
		return "", "", "", fmt.Errorf("search urls are not supported in bundle entries")
	}
	parts := strings.Split(trimmed, "/")
	switch len(parts) {
	case 1:
		return parts[0], "", "", nil
	case 2:
		return parts[0], parts[1], "", nil
	case 4:
		if parts[2] != "_history" {
			return "", "", "", fmt.Errorf("unrecognized request url %q", raw)
		}
		return parts[0], parts[1], parts[3], nil
	default:
		return "", "", "", fmt.Errorf("unrecognized request url %q", raw)
	}
}

// rewriteReferences walks a resource and replaces placeholder reference
// values with their resolved Type/id form. Only "reference" properties
// are rewritten.
func rewriteReferences(node interface{}, urnMap map[string]string) {
	switch v := node.(type) {
	case map[string]interface{}:
		for key, child := range v {
			if key == "reference" {
				if ref, ok := child.(string); ok {
					if resolved, found := urnMap[ref]; found {
						v[key] = resolved
					}
				}
				continue
			}
			rewriteReferences(child, urnMap)
		}
	case []interface{}:
		for _, item := range v {
			rewriteReferences(item, urnMap)
		}
	case fhir.Resource:
		rewriteReferences(map[string]interface{}(v), urnMap)
	}
}

func responseEntry(resource fhir.Resource, status int) fhir.BundleEntry {
	lastUpdated := resource.LastUpdated()
	return fhir.BundleEntry{
		Resource: resource,
		Response: &fhir.BundleResponse{
			Status:       statusLine(status),
			Location:     fmt.Sprintf("%s/%s/_history/%s", resource.Type(), resource.ID(), resource.VersionID()),
			ETag:         etagFor(resource.VersionID()),
			LastModified: &lastUpdated,
		},
	}
}

func statusLine(code int) string {
	return fmt.Sprintf("%d %s", code, http.StatusText(code))
}

func etagFor(versionID string) string {
	return `W/"` + versionID + `"`
}

// parseETag strips the weak-validator wrapper from an If-Match value.
func parseETag(etag string) string {
	s := strings.TrimPrefix(strings.TrimSpace(etag), "W/")
	return strings.Trim(s, `"`)
}
