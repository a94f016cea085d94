package domain

import "time"

// Visibility controls whether a room can be joined without an invite.
type Visibility string

const (
	VisibilityPublic  Visibility = "PUBLIC"
	VisibilityPrivate Visibility = "PRIVATE"
)

// ParseVisibility maps client input onto a Visibility, defaulting to public.
func ParseVisibility(s string) Visibility {
	if Visibility(s) == VisibilityPrivate || s == "private" {
		return VisibilityPrivate
	}
	return VisibilityPublic
}

// Room is a shared listening session with a host and a member list.
type Room struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	Name         string     `gorm:"size:191;not null" json:"name"`
	HostID       string     `gorm:"size:36;index" json:"hostId"`
	HostName     string     `gorm:"size:191" json:"hostName"`
	Visibility   Visibility `gorm:"size:16;not null" json:"visibility"`
	MaxMembers   int        `gorm:"not null" json:"maxMembers"`
	PasscodeHash string     `gorm:"size:191" json:"-"` // bcrypt hash, empty when no passcode is set
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// HasPasscode reports whether joining requires a passcode.
func (r *Room) HasPasscode() bool { return r.PasscodeHash != "" }

// IsLocked reports whether the room shows as locked in listings.
func (r *Room) IsLocked() bool {
	return r.Visibility == VisibilityPrivate || r.HasPasscode()
}

// RoomMember is one listener in a room.
type RoomMember struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	RoomID       string    `gorm:"size:36;index;not null" json:"roomId"`
	DisplayName  string    `gorm:"size:191;not null" json:"displayName"`
	JoinedAt     time.Time `gorm:"index" json:"joinedAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	IsHost       bool      `json:"isHost"`
}

// RoomInvite is a short-lived, use-limited token to join a room.
type RoomInvite struct {
	Code              string    `gorm:"primaryKey;size:16" json:"code"`
	RoomID            string    `gorm:"size:36;index;not null" json:"roomId"`
	CreatedByMemberID string    `gorm:"size:36" json:"createdByMemberId"`
	CreatedAt         time.Time `json:"createdAt"`
	ExpiresAt         time.Time `gorm:"index" json:"expiresAt"`
	MaxUses           int       `json:"maxUses"`
	Uses              int       `json:"uses"`
}

// Active reports whether the invite can still be redeemed at now.
func (i *RoomInvite) Active(now time.Time) bool {
	return now.Before(i.ExpiresAt) && i.Uses < i.MaxUses
}

// RoomSummary is one row of a room listing.
type RoomSummary struct {
	Room        Room           `json:"room"`
	MemberCount int            `json:"memberCount"`
	IsLocked    bool           `json:"isLocked"`
	NowPlaying  *PlaybackState `json:"nowPlaying,omitempty"`
}
