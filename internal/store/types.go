package store

import (
	"encoding/json"
	"time"
)

// TargetType classifies what a match entry points at. It is assigned once,
// when a raw index hit is classified, and treated as a closed set everywhere
// else.
type TargetType string

const (
	TargetPhoto   TargetType = "photo"
	TargetUser    TargetType = "user"
	TargetUnknown TargetType = "unknown"
)

// FaceStatus marks whether a face record is the authoritative one for its
// user. Stale records are kept for history and never deleted.
type FaceStatus string

const (
	StatusActive FaceStatus = "active"
	StatusStale  FaceStatus = "stale"
)

// MatchEntry is one entry in a face record's historical match list.
type MatchEntry struct {
	TargetID   string     `json:"targetId"`
	TargetType TargetType `json:"targetType"`
	Similarity float64    `json:"similarity"` // 0-100
	MatchedAt  time.Time  `json:"matchedAt"`
}

// FaceRecord is one registered face for a user. A user may have several
// records from repeated registrations; the most recently created one is
// authoritative.
type FaceRecord struct {
	UserID            string
	DescriptorID      string
	Attributes        json.RawMessage // opaque facial attributes from the index
	HistoricalMatches []MatchEntry
	Status            FaceStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// MatchedUser is one entry in a photo record's matched_users list.
//
// Older writers stored bare user id strings instead of objects. Decoding
// accepts both shapes; encoding always produces the structured form.
type MatchedUser struct {
	UserID       string    `json:"userId"`
	DescriptorID string    `json:"descriptorId,omitempty"`
	Similarity   float64   `json:"similarity,omitempty"`
	MatchedAt    time.Time `json:"matchedAt,omitempty"`

	legacy bool
}

// Legacy reports whether the entry was decoded from the bare-string form.
func (m MatchedUser) Legacy() bool {
	return m.legacy
}

func (m *MatchedUser) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var userID string
		if err := json.Unmarshal(data, &userID); err != nil {
			return err
		}
		*m = MatchedUser{UserID: userID, legacy: true}
		return nil
	}
	type plain MatchedUser
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = MatchedUser(p)
	return nil
}

// PhotoRecord is one uploaded photo. The record itself is created by the
// upload pipeline; only matched_users is mutated here.
type PhotoRecord struct {
	ID             string
	OwnerUserID    string
	StorageLocator string
	MatchedUsers   []MatchedUser
	CreatedAt      time.Time

	// Revision guards read-modify-write updates of matched_users.
	// Incremented by the store on every successful update.
	Revision int64
}

// HasMatchedUser reports whether userID is already present in matched_users,
// in either the structured or the legacy bare-string representation.
func (p *PhotoRecord) HasMatchedUser(userID string) bool {
	for _, m := range p.MatchedUsers {
		if m.UserID == userID {
			return true
		}
	}
	return false
}
