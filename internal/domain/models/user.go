package models

import "github.com/google/uuid"

// User - идентификационная запись, принадлежащая внешнему identity слою.
// Этот сервис читает только id, роль и флаг верификации.
type User struct {
	ID         uuid.UUID `json:"id"`
	Role       string    `json:"role"`
	IsVerified bool      `json:"is_verified"`
}
