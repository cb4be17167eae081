package api

import (
	"net/http"
	"strconv"

	"github.com/Rainbow-0328/dianping/internal/domain"
)

// Identity resolves the caller of a request. Authentication happens in front
// of this service.
type Identity interface {
	User(r *http.Request) (domain.User, bool)
}

// DefaultUserHeader carries the authenticated user id.
const DefaultUserHeader = "X-User-ID"

// HeaderIdentity trusts a user id header set by an upstream gateway.
type HeaderIdentity struct {
	Header string
}

func (h HeaderIdentity) User(r *http.Request) (domain.User, bool) {
	name := h.Header
	if name == "" {
		name = DefaultUserHeader
	}
	id, err := strconv.ParseInt(r.Header.Get(name), 10, 64)
	if err != nil || id <= 0 {
		return domain.User{}, false
	}
	return domain.User{ID: id}, true
}
