package model

import (
	"strings"
	"time"
)

// Role is the closed set of account roles. Roles are assigned at
// registration and never change through the auth endpoints.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleInstructor  Role = "instructor"
	RoleParent      Role = "parent"
	RoleSchoolAdmin Role = "school_admin"
)

func ParseRole(value string) (Role, bool) {
	role := Role(strings.TrimSpace(strings.ToLower(value)))
	switch role {
	case RoleAdmin, RoleInstructor, RoleParent, RoleSchoolAdmin:
		return role, true
	default:
		return "", false
	}
}

type User struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Phone        *string
	Role         Role
	Active       bool
	LastLogin    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type ParentProfile struct {
	UserID string `json:"userId"`
}

type InstructorProfile struct {
	UserID         string    `json:"userId"`
	HireDate       time.Time `json:"hireDate"`
	EmploymentType string    `json:"employmentType"`
}
