package gorm

import "github.com/google/uuid"

// idString stores uuid.Nil as the empty string.
func idString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

// parseID maps the empty string and malformed values to uuid.Nil.
func parseID(s string) uuid.UUID {
	if s == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}
