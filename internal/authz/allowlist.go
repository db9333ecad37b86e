package authz

import (
	"strings"
	"sync"
)

// Wildcard admits every sender.
const Wildcard = "*"

// AllowList is the set of user IDs the relay answers. An empty list admits
// nobody.
type AllowList struct {
	mu    sync.RWMutex
	all   bool
	users map[string]struct{}
}

func NewAllowList(userIDs []string) *AllowList {
	a := &AllowList{users: make(map[string]struct{}, len(userIDs))}
	for _, id := range userIDs {
		a.Add(id)
	}
	return a
}

func (a *AllowList) Add(userID string) {
	if a == nil {
		return
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if userID == Wildcard {
		a.all = true
		return
	}
	if a.users == nil {
		a.users = make(map[string]struct{})
	}
	a.users[userID] = struct{}{}
}

func (a *AllowList) IsAuthorized(userID string) bool {
	if a == nil {
		return false
	}
	userID = strings.TrimSpace(userID)

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.all {
		return true
	}
	if userID == "" {
		return false
	}
	_, ok := a.users[userID]
	return ok
}

func (a *AllowList) Empty() bool {
	if a == nil {
		return true
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return !a.all && len(a.users) == 0
}

func (a *AllowList) Len() int {
	if a == nil {
		return 0
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.users)
}
