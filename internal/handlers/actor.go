package handlers

import (
	"net/http"
	"strings"

	domain "github.com/VNZray/capstone-project-sub001/internal/domain"
)

// Identity headers are stamped by the upstream auth gateway; this service
// trusts them and only validates shape.
const (
	headerActorID   = "X-Actor-ID"
	headerActorRole = "X-Actor-Role"
)

var knownRoles = map[domain.ActorRole]struct{}{
	domain.RoleCustomer:      {},
	domain.RoleMerchantOwner: {},
	domain.RoleMerchantStaff: {},
	domain.RolePlatformAdmin: {},
}

// actorFromRequest resolves the acting identity from gateway headers. The
// system role is reserved for internal jobs and never accepted over HTTP.
func actorFromRequest(r *http.Request) (domain.Actor, bool) {
	id := strings.TrimSpace(r.Header.Get(headerActorID))
	role := domain.ActorRole(strings.TrimSpace(r.Header.Get(headerActorRole)))

	if id == "" {
		return domain.Actor{}, false
	}
	if _, ok := knownRoles[role]; !ok {
		return domain.Actor{}, false
	}

	return domain.Actor{
		ID:   id,
		Role: role,
		IP:   r.RemoteAddr,
	}, true
}
