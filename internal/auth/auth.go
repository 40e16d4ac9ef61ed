// Package auth defines the authentication collaborator consumed by the
// sync engine.
package auth

import "github.com/yihtzu/timetable/core/internal/models"

// Provider reports the currently authenticated user. A nil user means
// "not authenticated": sync treats that as not-yet-ready, not an error.
type Provider interface {
	CurrentUser() *models.User
}

// StaticProvider returns a fixed user, typically read from config.
type StaticProvider struct {
	User models.User
}

// CurrentUser implements Provider.
func (p *StaticProvider) CurrentUser() *models.User {
	if p == nil || p.User.ID == "" {
		return nil
	}
	u := p.User
	return &u
}

// NilProvider never reports a user. Useful before login and in tests.
type NilProvider struct{}

// CurrentUser implements Provider.
func (NilProvider) CurrentUser() *models.User { return nil }
