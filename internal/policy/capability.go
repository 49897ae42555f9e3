// Package policy holds per-field policy consumption: capability checks and
// the approval gate. Identity and role storage live outside this service;
// callers supply an opaque CapabilityChecker.
package policy

import (
	"context"

	"github.com/brandvault/metaledger/internal/model"
)

// CapabilityChecker answers permission questions for an actor. Implementations
// typically delegate to the surrounding platform's role storage.
type CapabilityChecker interface {
	// CanEdit reports whether the actor may write values for the field.
	CanEdit(ctx context.Context, actor model.Actor, fieldID string) (bool, error)
	// CanApprove reports whether the actor may approve or reject pending values.
	CanApprove(ctx context.Context, actor model.Actor, fieldID string) (bool, error)
	// BypassReview reports whether the actor holds a review-bypass capability.
	// Brand scope is consulted before tenant scope.
	BypassReview(ctx context.Context, actor model.Actor) (bool, error)
}

// StaticChecker is an in-memory CapabilityChecker for tests and single-tenant
// deployments.
type StaticChecker struct {
	Editors      map[string]bool // actor id → may edit
	Approvers    map[string]bool // actor id → may approve
	BrandBypass  map[string]bool // brand id → review bypass
	TenantBypass map[string]bool // tenant id → review bypass
}

// AllowAll returns a checker granting every capability to every actor.
func AllowAll() *StaticChecker {
	return &StaticChecker{}
}

func (c *StaticChecker) CanEdit(_ context.Context, actor model.Actor, _ string) (bool, error) {
	if c.Editors == nil {
		return true, nil
	}
	return c.Editors[actor.ID], nil
}

func (c *StaticChecker) CanApprove(_ context.Context, actor model.Actor, _ string) (bool, error) {
	if c.Approvers == nil {
		return true, nil
	}
	return c.Approvers[actor.ID], nil
}

func (c *StaticChecker) BypassReview(_ context.Context, actor model.Actor) (bool, error) {
	// Brand scope wins over tenant scope.
	if c.BrandBypass != nil && c.BrandBypass[actor.BrandID] {
		return true, nil
	}
	if c.TenantBypass != nil && c.TenantBypass[actor.TenantID] {
		return true, nil
	}
	return false, nil
}
