package testutil

import (
	"context"
	"net/http"

	"verigate/pkg/requestcontext"
)

// WithUserID adds a user ID to the request context.
// This simulates what the auth middleware would do for authenticated requests.
func WithUserID(req *http.Request, userID string) *http.Request {
	return req.WithContext(requestcontext.WithUserID(req.Context(), userID))
}

// WithOrganizationID adds an organization ID to the request context.
func WithOrganizationID(req *http.Request, organizationID string) *http.Request {
	return req.WithContext(requestcontext.WithOrganizationID(req.Context(), organizationID))
}

// WithAuth adds both user and organization, the typical state for an
// authenticated request. Empty values are skipped.
func WithAuth(req *http.Request, userID, organizationID string) *http.Request {
	ctx := req.Context()
	if userID != "" {
		ctx = requestcontext.WithUserID(ctx, userID)
	}
	if organizationID != "" {
		ctx = requestcontext.WithOrganizationID(ctx, organizationID)
	}
	return req.WithContext(ctx)
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
