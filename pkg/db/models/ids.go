package models

import "github.com/google/uuid"

// ensureID assigns a fresh UUID when the caller left the primary key empty.
// Postgres would default it anyway; sqlite test databases cannot.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
