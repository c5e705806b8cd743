package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/careledger/portal/internal/platform/auth"
)

// AuditEvent describes a single access to protected health information.
type AuditEvent struct {
	UserID     string
	Roles      []string
	Action     string
	Resource   string
	ResourceID string
	Method     string
	Path       string
	Status     int
	RemoteIP   string
	RequestID  string
	OccurredAt time.Time
}

// AuditRecorder persists audit events. Implementations must not block the
// request path for long; the middleware calls Record after the response is
// written.
type AuditRecorder interface {
	Record(ctx context.Context, event AuditEvent) error
}

// Audit returns middleware that records an audit trail entry for every
// request under the API prefix. Health and verification endpoints are
// public and excluded.
func Audit(logger zerolog.Logger, recorder AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			path := c.Request().URL.Path
			if !strings.HasPrefix(path, "/api/v1/") {
				return err
			}

			userID := auth.UserIDFromContext(c.Request().Context())
			roles := auth.RolesFromContext(c.Request().Context())
			rid, _ := c.Get("request_id").(string)

			resource, resourceID := extractResource(path)
			event := AuditEvent{
				UserID:     userID,
				Roles:      roles,
				Action:     methodToAction(c.Request().Method),
				Resource:   resource,
				ResourceID: resourceID,
				Method:     c.Request().Method,
				Path:       path,
				Status:     c.Response().Status,
				RemoteIP:   c.RealIP(),
				RequestID:  rid,
				OccurredAt: time.Now().UTC(),
			}

			logger.Info().
				Str("user_id", event.UserID).
				Strs("roles", event.Roles).
				Str("action", event.Action).
				Str("resource", event.Resource).
				Str("resource_id", event.ResourceID).
				Str("method", event.Method).
				Str("path", event.Path).
				Int("status", event.Status).
				Str("remote_ip", event.RemoteIP).
				Str("request_id", event.RequestID).
				Msg("phi_access")

			if recorder != nil {
				if rerr := recorder.Record(c.Request().Context(), event); rerr != nil {
					logger.Error().Err(rerr).Msg("audit record failed")
				}
			}

			return err
		}
	}
}

func methodToAction(method string) string {
	switch method {
	case "GET", "HEAD":
		return "read"
	case "POST":
		return "create"
	case "PUT", "PATCH":
		return "update"
	case "DELETE":
		return "delete"
	default:
		return "other"
	}
}

// extractResource pulls the resource name and id from an API path like
// /api/v1/appointments/123.
func extractResource(path string) (resource, id string) {
	trimmed := strings.TrimPrefix(path, "/api/v1/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		return "", ""
	}
	resource = parts[0]
	if len(parts) > 1 {
		id = parts[1]
	}
	return resource, id
}
