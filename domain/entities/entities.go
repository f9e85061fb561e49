package entities

import (
	"errors"
	"strings"
)

// Candidate represents the person taking a mock interview
type Candidate struct {
	ID    string `json:"id" bson:"id"`
	Name  string `json:"name" bson:"name"`
	Email string `json:"email,omitempty" bson:"email,omitempty"`
}

// Validate validates the candidate data
func (c *Candidate) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("candidate id is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("candidate name is required")
	}
	return nil
}
