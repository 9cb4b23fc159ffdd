package kgorm

import (
	"time"

	"github.com/getkayan/magiclink/core/audit"
	"github.com/getkayan/magiclink/core/identity"
	"github.com/getkayan/magiclink/core/link"
)

type gormMagicLink struct {
	ID         string     `gorm:"primaryKey"`
	IdentityID string     `gorm:"index"`
	Token      string     `gorm:"uniqueIndex;size:36"`
	RedirectTo string     `gorm:"size:255"`
	CreatedAt  time.Time
	ExpiresAt  time.Time  `gorm:"index"`
	AccessedAt *time.Time
	LoggedInAt *time.Time
	Active     bool
}

func (gormMagicLink) TableName() string { return "magic_links" }

func fromCoreLink(l *link.MagicLink) *gormMagicLink {
	if l == nil {
		return nil
	}
	return &gormMagicLink{
		ID:         l.ID,
		IdentityID: l.IdentityID,
		Token:      l.Token,
		RedirectTo: l.RedirectTo,
		CreatedAt:  l.CreatedAt,
		ExpiresAt:  l.ExpiresAt,
		AccessedAt: l.AccessedAt,
		LoggedInAt: l.LoggedInAt,
		Active:     l.Active,
	}
}

func toCoreLink(gl *gormMagicLink) *link.MagicLink {
	if gl == nil {
		return nil
	}
	return &link.MagicLink{
		ID:         gl.ID,
		IdentityID: gl.IdentityID,
		Token:      gl.Token,
		RedirectTo: gl.RedirectTo,
		CreatedAt:  gl.CreatedAt,
		ExpiresAt:  gl.ExpiresAt,
		AccessedAt: gl.AccessedAt,
		LoggedInAt: gl.LoggedInAt,
		Active:     gl.Active,
	}
}

type gormLinkUse struct {
	ID         string    `gorm:"primaryKey"`
	LinkID     string    `gorm:"index"`
	Timestamp  time.Time `gorm:"index"`
	HTTPMethod string    `gorm:"size:10"`
	SessionKey string    `gorm:"size:40"`
	RemoteAddr string    `gorm:"size:100"`
	UserAgent  string    `gorm:"type:text"`
	Error      string    `gorm:"size:100"`
}

func (gormLinkUse) TableName() string { return "magic_link_uses" }

func fromCoreUse(u *audit.Use) *gormLinkUse {
	if u == nil {
		return nil
	}
	return &gormLinkUse{
		ID:         u.ID,
		LinkID:     u.LinkID,
		Timestamp:  u.Timestamp,
		HTTPMethod: u.HTTPMethod,
		SessionKey: u.SessionKey,
		RemoteAddr: u.RemoteAddr,
		UserAgent:  u.UserAgent,
		Error:      u.Error,
	}
}

func toCoreUse(gu *gormLinkUse) *audit.Use {
	if gu == nil {
		return nil
	}
	return &audit.Use{
		ID:         gu.ID,
		LinkID:     gu.LinkID,
		Timestamp:  gu.Timestamp,
		HTTPMethod: gu.HTTPMethod,
		SessionKey: gu.SessionKey,
		RemoteAddr: gu.RemoteAddr,
		UserAgent:  gu.UserAgent,
		Error:      gu.Error,
	}
}

type gormIdentity struct {
	ID        string        `gorm:"primaryKey"`
	Traits    identity.JSON `gorm:"type:json"`
	State     string        `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (gormIdentity) TableName() string { return "identities" }

func toCoreIdentity(gi *gormIdentity) *identity.Identity {
	if gi == nil {
		return nil
	}
	return &identity.Identity{
		ID:        gi.ID,
		Traits:    gi.Traits,
		State:     gi.State,
		CreatedAt: gi.CreatedAt,
		UpdatedAt: gi.UpdatedAt,
	}
}

func fromCoreIdentity(i *identity.Identity) *gormIdentity {
	if i == nil {
		return nil
	}
	return &gormIdentity{
		ID:        i.ID,
		Traits:    i.Traits,
		State:     i.State,
		CreatedAt: i.CreatedAt,
		UpdatedAt: i.UpdatedAt,
	}
}
