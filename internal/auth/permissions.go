package auth

import "go.mongodb.org/mongo-driver/bson/primitive"

const roleAdmin = "admin"

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID primitive.ObjectID
	Email  string
	Role   string
}

// IsAdmin reports whether the caller has the admin role. A nil principal is anonymous.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == roleAdmin
}

// CanManage reports whether the caller may modify a resource owned by ownerID.
func CanManage(p *Principal, ownerID primitive.ObjectID) bool {
	if p == nil {
		return false
	}
	return p.IsAdmin() || (!ownerID.IsZero() && p.UserID == ownerID)
}
