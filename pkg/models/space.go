package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MemberIDs is the canonical member list of a space.
// Stored documents may hold bare ids or {"uid": ...} objects; both decode to ids.
type MemberIDs []string

func (m *MemberIDs) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*m = nil
		return nil
	}
	ids := make(MemberIDs, 0, len(raw))
	for _, entry := range raw {
		var id string
		if err := json.Unmarshal(entry, &id); err == nil {
			if id != "" {
				ids = append(ids, id)
			}
			continue
		}
		var obj struct {
			UID string `json:"uid"`
		}
		if err := json.Unmarshal(entry, &obj); err != nil {
			return fmt.Errorf("invalid member entry %s: %w", string(entry), err)
		}
		if obj.UID != "" {
			ids = append(ids, obj.UID)
		}
	}
	*m = ids
	return nil
}

// Contains reports whether uid is in the list.
func (m MemberIDs) Contains(uid string) bool {
	for _, id := range m {
		if id == uid {
			return true
		}
	}
	return false
}

// Space is a workspace owned by one admin
type Space struct {
	ID             string     `json:"id"`
	AdminID        string     `json:"adminId"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	Members        MemberIDs  `json:"members"`
	MemberCount    int        `json:"memberCount"`
	Tasks          int        `json:"tasks"`
	Notes          string     `json:"notes"`
	NotesUpdatedAt *time.Time `json:"notesUpdatedAt,omitempty"`
	NotesUpdatedBy string     `json:"notesUpdatedBy,omitempty"`
	IsActive       bool       `json:"isActive"`
	CreatedAt      time.Time  `json:"createdAt"`
	CreatedBy      string     `json:"createdBy"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// CountBase is the member count a read-modify-write update starts from:
// memberCount when set, else the length of members, else 1.
func (s *Space) CountBase() int {
	if s.MemberCount > 0 {
		return s.MemberCount
	}
	if len(s.Members) > 0 {
		return len(s.Members)
	}
	return 1
}

// SpaceSummary is the dashboard view of a space (members collapsed to a count).
type SpaceSummary struct {
	ID          string    `json:"id"`
	AdminID     string    `json:"adminId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Members     int       `json:"members"`
	Tasks       int       `json:"tasks"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (s *Space) Summary() SpaceSummary {
	return SpaceSummary{
		ID:          s.ID,
		AdminID:     s.AdminID,
		Name:        s.Name,
		Description: s.Description,
		Members:     s.CountBase(),
		Tasks:       s.Tasks,
		IsActive:    s.IsActive,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

// MemberInfo is a resolved member profile as listed for a space
type MemberInfo struct {
	UID       string    `json:"uid"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	IsAdmin   bool      `json:"isAdmin"`
}

// SpaceInput is the create-space payload
type SpaceInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Notes is the shared notes field of a space.
type Notes struct {
	SpaceID   string     `json:"spaceId"`
	Notes     string     `json:"notes"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	UpdatedBy string     `json:"updatedBy,omitempty"`
}

func (s *Space) NotesView() Notes {
	return Notes{SpaceID: s.ID, Notes: s.Notes, UpdatedAt: s.NotesUpdatedAt, UpdatedBy: s.NotesUpdatedBy}
}
