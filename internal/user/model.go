package user

// Profile is the public part of users/{id}. The engine only reads it to
// denormalize peers into the conversation list.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
	Bio      string `json:"bio"`
	LastSeen int64  `json:"lastSeen"`
}

// DisplayName falls back to the username, then the id.
func (p Profile) DisplayName() string {
	switch {
	case p.Name != "":
		return p.Name
	case p.Username != "":
		return p.Username
	default:
		return p.ID
	}
}

type TokenClaims struct {
	UserID   string
	Username string
}
