package signaling

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrGroupExists   = errors.New("signaling: group already exists")
	ErrGroupNotFound = errors.New("signaling: group not found")
)

type Group struct {
	Key     string   `json:"key"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// Groups is the in-memory group directory. Members are kept in join order and
// never duplicated.
type Groups struct {
	mu sync.RWMutex
	m  map[string]*Group
}

func NewGroups() *Groups {
	return &Groups{m: make(map[string]*Group)}
}

func (g *Groups) Create(key, name string, members []string) (Group, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.m[key]; ok {
		return Group{}, ErrGroupExists
	}
	grp := &Group{Key: key, Name: name}
	for _, m := range members {
		addMember(grp, m)
	}
	g.m[key] = grp
	return grp.clone(), nil
}

// Join adds userKey to an existing group.
func (g *Groups) Join(groupKey, userKey string) (Group, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	grp, ok := g.m[groupKey]
	if !ok {
		return Group{}, ErrGroupNotFound
	}
	addMember(grp, userKey)
	return grp.clone(), nil
}

// Enter adds userKey to groupKey, creating the group on first use.
func (g *Groups) Enter(groupKey, userKey string) Group {
	g.mu.Lock()
	defer g.mu.Unlock()

	grp, ok := g.m[groupKey]
	if !ok {
		grp = &Group{Key: groupKey, Name: groupKey}
		g.m[groupKey] = grp
	}
	addMember(grp, userKey)
	return grp.clone()
}

func (g *Groups) Get(key string) (Group, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	grp, ok := g.m[key]
	if !ok {
		return Group{}, false
	}
	return grp.clone(), true
}

// Keys returns every group key in sorted order.
func (g *Groups) Keys() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]string, 0, len(g.m))
	for k := range g.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (g *Groups) isMember(groupKey, userKey string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	grp, ok := g.m[groupKey]
	if !ok {
		return false
	}
	for _, m := range grp.Members {
		if m == userKey {
			return true
		}
	}
	return false
}

func addMember(grp *Group, userKey string) {
	if userKey == "" {
		return
	}
	for _, m := range grp.Members {
		if m == userKey {
			return
		}
	}
	grp.Members = append(grp.Members, userKey)
}

func (grp *Group) clone() Group {
	out := *grp
	out.Members = append([]string(nil), grp.Members...)
	if out.Members == nil {
		out.Members = []string{}
	}
	return out
}
