package resource

import "github.com/boddenberg/consultant-bfa-go/internal/domain"

// IdentitySource supplies the identity resource hooks are scoped to.
// auth.Context implements it for browser sessions.
type IdentitySource interface {
	CurrentIdentity() *domain.Identity
	AccessToken() string
}

// StaticIdentity is a fixed identity, used for bearer-token requests and for
// service calls made on the consultant's behalf. An empty Token makes row
// calls run with service privileges.
type StaticIdentity struct {
	Identity *domain.Identity
	Token    string
}

func (s StaticIdentity) CurrentIdentity() *domain.Identity { return s.Identity }

func (s StaticIdentity) AccessToken() string { return s.Token }

// Anonymous has no identity; every hook behaves as signed out.
var Anonymous IdentitySource = StaticIdentity{}
