package repo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/fhirworks/fhirstore/internal/platform/db"
	"github.com/fhirworks/fhirstore/internal/platform/fhir"
	"github.com/fhirworks/fhirstore/internal/registry"
	"github.com/fhirworks/fhirstore/internal/schema"
)

// Querier is the subset of pgx both a pool and a transaction satisfy.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Repository persists FHIR resources against the generated schema. All
// writes are transactional: main row, history record, reference edges and
// lookup rows move together or not at all.
type Repository struct {
	pool      *pgxpool.Pool
	registry  *registry.Registry
	validator fhir.Validator
}

func NewRepository(pool *pgxpool.Pool, reg *registry.Registry, validator fhir.Validator) *Repository {
	if validator == nil {
		validator = fhir.BasicValidator{}
	}
	return &Repository{pool: pool, registry: reg, validator: validator}
}

// Registry exposes the registry the repository was built against.
func (r *Repository) Registry() *registry.Registry { return r.registry }

// Pool exposes the underlying connection pool for collaborators such as
// the search engine.
func (r *Repository) Pool() *pgxpool.Pool { return r.pool }

// RunInTransaction runs fn inside a retried transaction, for callers that
// compose their own multi-statement work.
func (r *Repository) RunInTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return db.WithTransaction(ctx, r.pool, fn)
}

// ============================================================================
// CRUD
// ============================================================================

// Create stores a new resource. The server assigns the id and version;
// client-supplied values in those fields are discarded.
func (r *Repository) Create(ctx context.Context, resource fhir.Resource) (fhir.Resource, error) {
	if err := r.precheck(resource); err != nil {
		return nil, err
	}
	stored := resource.Clone()
	stored.SetID(uuid.NewString())
	stored.Stamp(uuid.NewString(), time.Now().UTC())

	err := db.WithTransaction(ctx, r.pool, func(tx pgx.Tx) error {
		return r.writeResource(ctx, tx, stored)
	})
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Debug().Str("resourceType", stored.Type()).Str("id", stored.ID()).Msg("resource created")
	return stored, nil
}

// Read returns the current version of a resource. Missing rows map to
// not-found, soft-deleted rows to deleted.
func (r *Repository) Read(ctx context.Context, resourceType, id string) (fhir.Resource, error) {
	if err := r.checkType(resourceType); err != nil {
		return nil, err
	}
	sql, args := SelectRowSQL(resourceType, id, r.readProject(ctx))

	var content string
	var deleted bool
	var lastUpdated time.Time
	err := r.pool.QueryRow(ctx, sql, args...).Scan(&content, &deleted, &lastUpdated)
	if err == pgx.ErrNoRows {
		return nil, fhir.NotFoundError(resourceType, id)
	}
	if err != nil {
		return nil, fhir.InternalError(err)
	}
	if deleted {
		return nil, fhir.GoneError(resourceType, id)
	}
	return fhir.ParseResource([]byte(content))
}

// ReadVersion returns one historical version. Delete tombstones surface
// as deleted.
func (r *Repository) ReadVersion(ctx context.Context, resourceType, id, versionID string) (fhir.Resource, error) {
	if err := r.checkType(resourceType); err != nil {
		return nil, err
	}
	sql, args := SelectVersionSQL(resourceType, id, versionID)

	var content string
	err := r.pool.QueryRow(ctx, sql, args...).Scan(&content)
	if err == pgx.ErrNoRows {
		return nil, fhir.NotFoundError(resourceType, id)
	}
	if err != nil {
		return nil, fhir.InternalError(err)
	}
	if content == "" {
		return nil, fhir.GoneError(resourceType, id)
	}
	return fhir.ParseResource([]byte(content))
}

// Update replaces a resource by id, creating it when absent. When
// expectedVersion is non-empty the write only proceeds if it matches the
// current versionId.
func (r *Repository) Update(ctx context.Context, resource fhir.Resource, expectedVersion string) (fhir.Resource, error) {
	if err := r.precheck(resource); err != nil {
		return nil, err
	}
	if resource.ID() == "" {
		return nil, fhir.InvalidError("update requires a resource id")
	}

	stored := resource.Clone()
	stored.Stamp(uuid.NewString(), time.Now().UTC())

	err := db.WithTransaction(ctx, r.pool, func(tx pgx.Tx) error {
		current, _, err := r.lockRow(ctx, tx, stored.Type(), stored.ID())
		if err != nil {
			return err
		}
		if expectedVersion != "" {
			if current == nil || current.VersionID() != expectedVersion {
				return fhir.VersionConflictError(stored.Type(), stored.ID(), expectedVersion)
			}
		}
		return r.writeResource(ctx, tx, stored)
	})
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Debug().Str("resourceType", stored.Type()).Str("id", stored.ID()).Msg("resource updated")
	return stored, nil
}

// Delete soft-deletes a resource: the live row becomes a cleared tombstone,
// a history tombstone is appended, and reference edges and lookup rows are
// removed. Deleting an already-deleted resource is a no-op.
func (r *Repository) Delete(ctx context.Context, resourceType, id string) error {
	if err := r.checkType(resourceType); err != nil {
		return err
	}
	err := db.WithTransaction(ctx, r.pool, func(tx pgx.Tx) error {
		return r.deleteInTx(ctx, tx, resourceType, id)
	})
	if err != nil {
		return err
	}
	log.Ctx(ctx).Debug().Str("resourceType", resourceType).Str("id", id).Msg("resource deleted")
	return nil
}

// ============================================================================
// History
// ============================================================================

// HistoryOptions bound a history listing.
type HistoryOptions struct {
	Since  *time.Time
	Before *time.Time
	Count  int
}

const defaultHistoryCount = 100

// ReadHistory lists the versions of one resource, newest first. Tombstone
// versions come back as nil resources paired with their timestamp.
func (r *Repository) ReadHistory(ctx context.Context, resourceType, id string, opts HistoryOptions) ([]HistoryEntry, error) {
	if err := r.checkType(resourceType); err != nil {
		return nil, err
	}
	if opts.Count <= 0 {
		opts.Count = defaultHistoryCount
	}
	sql, args := InstanceHistorySQL(resourceType, id, opts.Since, opts.Before, opts.Count)
	return r.scanHistory(ctx, sql, args)
}

// TypeHistory lists versions across all resources of a type, newest first.
func (r *Repository) TypeHistory(ctx context.Context, resourceType string, opts HistoryOptions) ([]HistoryEntry, error) {
	if err := r.checkType(resourceType); err != nil {
		return nil, err
	}
	if opts.Count <= 0 {
		opts.Count = defaultHistoryCount
	}
	sql, args := TypeHistorySQL(resourceType, opts.Since, opts.Before, opts.Count)
	return r.scanHistory(ctx, sql, args)
}

// HistoryEntry is one version in a history listing. Resource is nil for
// delete tombstones.
type HistoryEntry struct {
	ID          string
	Resource    fhir.Resource
	LastUpdated time.Time
	Deleted     bool
}

func (r *Repository) scanHistory(ctx context.Context, sql string, args []interface{}) ([]HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fhir.InternalError(err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var id, content string
		var lastUpdated time.Time
		if err := rows.Scan(&id, &content, &lastUpdated); err != nil {
			return nil, fhir.InternalError(err)
		}
		entry := HistoryEntry{ID: id, LastUpdated: lastUpdated}
		if content == "" {
			entry.Deleted = true
		} else {
			res, err := fhir.ParseResource([]byte(content))
			if err != nil {
				return nil, fhir.InternalError(err)
			}
			entry.Resource = res
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fhir.InternalError(err)
	}
	return entries, nil
}

// ============================================================================
// Write plumbing
// ============================================================================

// writeResource performs the full indexed write inside an open transaction:
// upsert main row, append history, rewrite reference edges, rewrite lookup
// rows.
func (r *Repository) writeResource(ctx context.Context, tx pgx.Tx, resource fhir.Resource) error {
	impls := r.registry.Impls(resource.Type())

	row, err := BuildMainRow(resource, impls)
	if err != nil {
		return fhir.InvalidError("%s", err.Error())
	}
	row.ProjectID = r.writeProject(ctx)

	sql, args := UpsertMainRowSQL(resource.Type(), row)
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fhir.InternalError(err)
	}

	history, err := BuildHistoryRow(resource)
	if err != nil {
		return fhir.InvalidError("%s", err.Error())
	}
	sql, args = InsertHistoryRowSQL(resource.Type(), history)
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fhir.InternalError(err)
	}

	sql, args = DeleteReferencesSQL(resource.Type(), resource.ID())
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fhir.InternalError(err)
	}
	if sql, args = InsertReferencesSQL(resource.Type(), BuildReferences(resource, impls)); sql != "" {
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fhir.InternalError(err)
		}
	}

	for _, table := range lookupTablesFor(impls) {
		sql, args = DeleteLookupRowsSQL(table, resource.ID())
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fhir.InternalError(err)
		}
	}
	for _, lookup := range BuildLookupRows(resource, impls) {
		sql, args = InsertLookupRowSQL(&lookup)
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fhir.InternalError(err)
		}
	}
	return nil
}

// deleteInTx performs the soft delete inside an open transaction.
// Deleting an already deleted resource leaves its row unchanged but
// still records a fresh tombstone version in history.
func (r *Repository) deleteInTx(ctx context.Context, tx pgx.Tx, resourceType, id string) error {
	current, deleted, err := r.lockRow(ctx, tx, resourceType, id)
	if err != nil {
		return err
	}
	if current == nil && !deleted {
		return fhir.NotFoundError(resourceType, id)
	}
	if deleted {
		history := &HistoryRow{ID: id, VersionID: uuid.NewString(), LastUpdated: time.Now().UTC(), Content: ""}
		sql, args := InsertHistoryRowSQL(resourceType, history)
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fhir.InternalError(err)
		}
		return nil
	}

	impls := r.registry.Impls(resourceType)
	now := time.Now().UTC()
	row := BuildDeletedRow(resourceType, id, now, r.writeProject(ctx), impls)

	sql, args := UpsertMainRowSQL(resourceType, row)
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fhir.InternalError(err)
	}
	history := &HistoryRow{ID: id, VersionID: uuid.NewString(), LastUpdated: now, Content: ""}
	sql, args = InsertHistoryRowSQL(resourceType, history)
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fhir.InternalError(err)
	}
	sql, args = DeleteReferencesSQL(resourceType, id)
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fhir.InternalError(err)
	}
	for _, table := range lookupTablesFor(impls) {
		sql, args = DeleteLookupRowsSQL(table, id)
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fhir.InternalError(err)
		}
	}
	return nil
}

// lockRow reads the current row under FOR UPDATE inside a transaction.
// Returns (nil, false, nil) when the row does not exist, (nil, true, nil)
// when it is a delete tombstone.
func (r *Repository) lockRow(ctx context.Context, tx pgx.Tx, resourceType, id string) (fhir.Resource, bool, error) {
	sql := fmt.Sprintf(
		`SELECT "content", "deleted" FROM %s WHERE "id" = $1 FOR UPDATE`,
		schema.Quote(resourceType),
	)
	var content string
	var deleted bool
	err := tx.QueryRow(ctx, sql, id).Scan(&content, &deleted)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fhir.InternalError(err)
	}
	if deleted {
		return nil, true, nil
	}
	res, err := fhir.ParseResource([]byte(content))
	if err != nil {
		return nil, false, fhir.InternalError(err)
	}
	return res, false, nil
}

func (r *Repository) precheck(resource fhir.Resource) error {
	result := r.validator.Validate(resource)
	if !result.Valid {
		diag := "resource failed validation"
		for _, issue := range result.Issues {
			if issue.Severity == "error" || issue.Severity == "fatal" {
				diag = issue.Diagnostics
				break
			}
		}
		return fhir.InvalidError("%s", diag)
	}
	return r.checkType(resource.Type())
}

func (r *Repository) checkType(resourceType string) error {
	profile, ok := r.registry.Profile(resourceType)
	if !ok || profile.Abstract || profile.Kind != "resource" {
		return fhir.InvalidError("unknown resource type %q", resourceType)
	}
	return nil
}

// writeProject is the projectId recorded on rows written in this context.
func (r *Repository) writeProject(ctx context.Context) interface{} {
	oc := fhir.OperationContextFrom(ctx)
	if oc == nil || oc.Project == "" {
		return nil
	}
	return oc.Project
}

// readProject is the projectId reads filter on. Super admins see across
// projects.
func (r *Repository) readProject(ctx context.Context) string {
	oc := fhir.OperationContextFrom(ctx)
	if oc == nil || oc.SuperAdmin {
		return ""
	}
	return oc.Project
}

func lookupTablesFor(impls []*registry.Impl) []string {
	set := make(map[string]bool)
	for _, impl := range impls {
		if impl.Strategy == registry.StrategyLookupTable {
			set[impl.LookupTable] = true
		}
	}
	tables := make([]string, 0, len(set))
	for t := range set {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}
