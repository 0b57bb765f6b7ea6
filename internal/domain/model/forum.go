package model

// Forum is a topic room with a participant set.
type Forum struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	CreatedBy    string   `json:"createdBy"`
	CreatedAt    int64    `json:"createdAt"`
	Participants []string `json:"participants"`
}

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"createdAt,omitempty"`
}

// DisplayName falls back to the identifier for users without a name.
func (u User) DisplayName() string {
	if u.Name == "" {
		return u.ID
	}
	return u.Name
}
