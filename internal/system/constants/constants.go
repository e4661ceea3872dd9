package constants

const (
	APIBasePath             = "/api/v1"
	AuthorizationHeaderName = "Authorization"
	ContentTypeHeaderName   = "Content-Type"
	CorrelationIDHeaderName = "X-Correlation-ID"
	UserIDHeaderName        = "X-User-ID"
	UserRoleHeaderName      = "X-User-Role"
	ContentTypeJSON         = "application/json"
	DefaultPageSize         = 30
	MaxPageSize             = 100
	TokenTypeBearer         = "Bearer"

	// SystemActor is recorded as the actor of transitions made by background processes.
	SystemActor = "SYSTEM"

	// Aliases for convenience
	HeaderContentType = ContentTypeHeaderName
)

// Principal roles
const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleService = "service"
)
