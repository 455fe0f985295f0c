package protocol

// User is the person talking to the assistant, as known to the helpdesk backend.
type User struct {
	Username string `json:"username"`
	FullName string `json:"nombreCompleto,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"rol,omitempty"`
}

// DisplayName returns the full name, falling back to the username.
func (u User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	if u.Username != "" {
		return u.Username
	}
	return "User"
}

// Admin is a technician a ticket can be assigned to.
type Admin struct {
	Username string `json:"username,omitempty"`
	FullName string `json:"nombreCompleto,omitempty"`
	Name     string `json:"nombre,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"rol,omitempty"`
}

// DisplayName returns the label shown on the technician's button.
func (a Admin) DisplayName() string {
	switch {
	case a.FullName != "":
		return a.FullName
	case a.Username != "":
		return a.Username
	case a.Name != "":
		return a.Name
	}
	return "Technician"
}

// Handle returns the identifier sent back as the preferred admin, or ""
// when the admin has none.
func (a Admin) Handle() string {
	if a.Username != "" {
		return a.Username
	}
	return a.Name
}
