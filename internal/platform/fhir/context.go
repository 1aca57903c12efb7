package fhir

import "context"

// OperationContext carries the per-call tenancy and authorship scope.
// When Project is set, writes record it as the row's projectId and reads
// filter on it unless SuperAdmin.
type OperationContext struct {
	Project    string
	Author     string
	SuperAdmin bool
}

type opCtxKey struct{}

// WithOperationContext attaches an OperationContext to a context.
func WithOperationContext(ctx context.Context, oc *OperationContext) context.Context {
	return context.WithValue(ctx, opCtxKey{}, oc)
}

// OperationContextFrom extracts the OperationContext, or nil.
func OperationContextFrom(ctx context.Context) *OperationContext {
	oc, _ := ctx.Value(opCtxKey{}).(*OperationContext)
	return oc
}
