package domain

import "github.com/google/uuid"

type Role string

const (
	RoleMember    Role = "member"
	RoleTreasurer Role = "treasurer"
	RoleAdmin     Role = "admin"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID    uuid.UUID `json:"user_id"`
	Role      Role      `json:"role"`
	ChapterID uuid.UUID `json:"chapter_id"`
}

// IsOperator reports whether the caller may manage billing for chapterID.
func (i Identity) IsOperator(chapterID uuid.UUID) bool {
	return (i.Role == RoleTreasurer || i.Role == RoleAdmin) && i.ChapterID == chapterID
}
