package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/carebridge/consent-api/internal/system/config"
	"github.com/carebridge/consent-api/internal/system/constants"
	"github.com/carebridge/consent-api/internal/system/error/serviceerror"
	"github.com/carebridge/consent-api/internal/system/utils"
)

const principalContextKey = "principal"

// Principal is the authenticated caller. Identity is owned by an external
// identity provider; this service only reads the subject and role.
type Principal struct {
	ID   string
	Role string
}

// IsPatient reports whether the principal acts as a patient.
func (p Principal) IsPatient() bool { return p.Role == constants.RolePatient }

// IsDoctor reports whether the principal acts as a doctor.
func (p Principal) IsDoctor() bool { return p.Role == constants.RoleDoctor }

// IsService reports whether the principal is a trusted internal service.
func (p Principal) IsService() bool { return p.Role == constants.RoleService }

// Authenticate resolves the principal from a bearer token, or from gateway
// headers when trusted headers are enabled, and rejects the request otherwise.
func Authenticate(cfg config.SecurityConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			principal Principal
			err       error
		)

		authHeader := c.GetHeader(constants.AuthorizationHeaderName)
		switch {
		case cfg.JWT.Enabled && authHeader != "":
			principal, err = principalFromToken(cfg.JWT, authHeader)
		case cfg.TrustedHeaders:
			principal, err = principalFromHeaders(c)
		default:
			err = fmt.Errorf("missing bearer token")
		}

		if err != nil {
			utils.SendError(c, serviceerror.CustomServiceError(serviceerror.UnauthenticatedError, err.Error()))
			return
		}

		c.Set(principalContextKey, principal)
		c.Next()
	}
}

// GetPrincipal returns the principal set by Authenticate.
func GetPrincipal(c *gin.Context) (Principal, bool) {
	value, exists := c.Get(principalContextKey)
	if !exists {
		return Principal{}, false
	}
	principal, ok := value.(Principal)
	return principal, ok
}

// SetPrincipal stores a principal on the context. Used by tests and internal callers.
func SetPrincipal(c *gin.Context, principal Principal) {
	c.Set(principalContextKey, principal)
}

func principalFromToken(cfg config.JWTConfig, authHeader string) (Principal, error) {
	tokenString, found := strings.CutPrefix(authHeader, constants.TokenTypeBearer+" ")
	if !found || tokenString == "" {
		return Principal{}, fmt.Errorf("authorization header must use the Bearer scheme")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.SigningKey), nil
	}, opts...)
	if err != nil {
		return Principal{}, fmt.Errorf("invalid token: %w", err)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return Principal{}, fmt.Errorf("token has no subject")
	}

	roleClaim := cfg.RoleClaim
	if roleClaim == "" {
		roleClaim = "role"
	}
	role, _ := claims[roleClaim].(string)
	if !isKnownRole(role) {
		return Principal{}, fmt.Errorf("token has no recognised role")
	}

	return Principal{ID: subject, Role: role}, nil
}

func principalFromHeaders(c *gin.Context) (Principal, error) {
	userID := strings.TrimSpace(c.GetHeader(constants.UserIDHeaderName))
	role := strings.ToLower(strings.TrimSpace(c.GetHeader(constants.UserRoleHeaderName)))
	if userID == "" {
		return Principal{}, fmt.Errorf("%s header is required", constants.UserIDHeaderName)
	}
	if !isKnownRole(role) {
		return Principal{}, fmt.Errorf("%s header must be one of patient, doctor, service", constants.UserRoleHeaderName)
	}
	return Principal{ID: userID, Role: role}, nil
}

func isKnownRole(role string) bool {
	switch role {
	case constants.RolePatient, constants.RoleDoctor, constants.RoleService:
		return true
	default:
		return false
	}
}
