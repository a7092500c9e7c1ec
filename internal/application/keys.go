package application

import (
	"github.com/bnema/homiez-cli/internal/cache"
	"github.com/bnema/homiez-cli/internal/domain"
)

const (
	rootAuthUser       = "authUser"
	rootFriends        = "friends"
	rootRecommended    = "recommended"
	rootOutgoing       = "outgoing"
	rootFriendRequests = "friendRequests"
	rootStreamToken    = "streamToken"
)

var (
	KeyAuthUser       = cache.NewKey(rootAuthUser)
	KeyFriends        = cache.NewKey(rootFriends)
	KeyRecommended    = cache.NewKey(rootRecommended)
	KeyOutgoing       = cache.NewKey(rootOutgoing)
	KeyFriendRequests = cache.NewKey(rootFriendRequests)
)

// StreamTokenKey scopes the realtime token to the identity it was issued for.
func StreamTokenKey(id domain.UserID) cache.Key {
	return cache.NewKey(rootStreamToken, string(id))
}

// identityScoped matches every key whose value belongs to whoever is logged
// in. authUser itself is handled separately.
func identityScoped(key cache.Key) bool {
	return key.Root() != rootAuthUser
}
