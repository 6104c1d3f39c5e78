package graph

import "github.com/mmdatafocus/closing_backend/workflow"

// This file will not be regenerated automatically.
//
// It serves as dependency injection for your app, add any dependencies you require here.

type Resolver struct {
	Reconciler *workflow.Reconciler
}
