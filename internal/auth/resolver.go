package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Resolver turns role ids into the union of the grants they confer.
type Resolver interface {
	Resolve(ctx context.Context, roleIDs []string) (Grants, error)
}

// PermissionResolver resolves grants straight from the store.
type PermissionResolver struct {
	roles RoleStore
	perms PermissionStore
}

// NewPermissionResolver constructs a resolver over the given stores.
func NewPermissionResolver(roles RoleStore, perms PermissionStore) *PermissionResolver {
	return &PermissionResolver{roles: roles, perms: perms}
}

// Resolve unions the grants of roleIDs. Unknown role ids and permission codes contribute nothing.
func (r *PermissionResolver) Resolve(ctx context.Context, roleIDs []string) (Grants, error) {
	grants := make(Grants)
	roleIDs = dedupeStrings(roleIDs)
	if len(roleIDs) == 0 {
		return grants, nil
	}
	roles, err := r.roles.GetRolesByIDs(ctx, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	var codes []string
	for _, role := range roles {
		codes = append(codes, role.Permissions...)
	}
	codes = dedupeStrings(codes)
	if len(codes) == 0 {
		return grants, nil
	}
	perms, err := r.perms.GetPermissionsByCodes(ctx, codes)
	if err != nil {
		return nil, fmt.Errorf("load permissions: %w", err)
	}
	for _, p := range perms {
		resource := normalizeName(p.Resource)
		if resource == "" {
			continue
		}
		set, ok := grants[resource]
		if !ok {
			set = make(ActionSet)
			grants[resource] = set
		}
		for a := range NewActionSet(p.Actions...) {
			set[a] = struct{}{}
		}
	}
	return grants, nil
}

const defaultResolverCacheSize = 1024

// CachedResolver memoizes another Resolver for a short TTL, keyed by the sorted role id set.
// Role and permission edits become visible once the entry expires.
type CachedResolver struct {
	next  Resolver
	cache *expirable.LRU[string, Grants]
}

// NewCachedResolver wraps next with an expiring LRU of the given size.
func NewCachedResolver(next Resolver, size int, ttl time.Duration) *CachedResolver {
	if size <= 0 {
		size = defaultResolverCacheSize
	}
	return &CachedResolver{
		next:  next,
		cache: expirable.NewLRU[string, Grants](size, nil, ttl),
	}
}

// Resolve returns cached grants or resolves and caches them.
func (c *CachedResolver) Resolve(ctx context.Context, roleIDs []string) (Grants, error) {
	key := cacheKey(roleIDs)
	if grants, ok := c.cache.Get(key); ok {
		return grants, nil
	}
	grants, err := c.next.Resolve(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, grants)
	return grants, nil
}

// Purge drops every cached entry.
func (c *CachedResolver) Purge() { c.cache.Purge() }

func cacheKey(roleIDs []string) string {
	ids := dedupeStrings(roleIDs)
	sort.Strings(ids)
	return strings.Join(ids, "\x00")
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
