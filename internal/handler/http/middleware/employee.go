package middleware

import (
	"context"
	"net/http"

	"github.com/cmlabs-hris/attendance-engine/internal/domain/attendance"
	"github.com/cmlabs-hris/attendance-engine/internal/handler/http/response"
	"github.com/cmlabs-hris/attendance-engine/internal/pkg/jwt"
	"github.com/go-chi/jwtauth/v5"
)

// RequireEmployee admits tokens that name an employee. Access tokens sent
// in the Authorization header are forwarded upstream on the caller's behalf.
func RequireEmployee(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if EmployeeID(r.Context()) == "" {
			response.HandleError(w, attendance.ErrEmployeeRequired)
			return
		}

		ctx := r.Context()
		_, claims, _ := jwtauth.FromContext(ctx)
		if claims["type"] == jwt.TokenTypeAccess {
			if raw := jwtauth.TokenFromHeader(r); raw != "" {
				ctx = attendance.WithUpstreamToken(ctx, raw)
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// EmployeeID returns the employee_id claim of the verified token.
func EmployeeID(ctx context.Context) string {
	_, claims, err := jwtauth.FromContext(ctx)
	if err != nil {
		return ""
	}
	employeeID, _ := claims["employee_id"].(string)
	return employeeID
}

// UserID returns the user_id claim of the verified token.
func UserID(ctx context.Context) string {
	_, claims, err := jwtauth.FromContext(ctx)
	if err != nil {
		return ""
	}
	userID, _ := claims["user_id"].(string)
	return userID
}
