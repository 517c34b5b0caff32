package models

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// ValidRole reports whether role is one of the accepted role values.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAdmin
}

type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"-"`
	Role      string `json:"role"`
	CreatedAt int64  `json:"-"`
}

// EndpointUsage is one row of the per-endpoint service counter.
type EndpointUsage struct {
	Endpoint    string `json:"endpoint"`
	Method      string `json:"method"`
	ServedCount int64  `json:"served_count"`
}

// UserCallCount is one row of the per-user API call counter, joined
// with the owning user for the admin listing.
type UserCallCount struct {
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	APICallCount int64  `json:"api_call_count"`
}
