// Package contacts caches the friend and group directories fetched over the
// OneBot API and resolves the display names used when rendering messages.
package contacts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/antlerlab/antlerbot/internal/onebot"
)

// API is the slice of the OneBot client the cache needs.
type API interface {
	GetFriendList(ctx context.Context) ([]onebot.Friend, error)
	GetGroupList(ctx context.Context) ([]onebot.Group, error)
}

// Cache holds both directories. Refreshes replace the whole map, readers see
// either the old or the new snapshot.
type Cache struct {
	api API

	mu      sync.RWMutex
	friends map[int64]onebot.Friend
	groups  map[int64]onebot.Group
}

func New(api API) *Cache {
	return &Cache{
		api:     api,
		friends: map[int64]onebot.Friend{},
		groups:  map[int64]onebot.Group{},
	}
}

func (c *Cache) RefreshFriends(ctx context.Context) error {
	friends, err := c.api.GetFriendList(ctx)
	if err != nil {
		return fmt.Errorf("contacts: friend list: %w", err)
	}
	m := make(map[int64]onebot.Friend, len(friends))
	for _, f := range friends {
		m[f.UserID] = f
	}
	c.mu.Lock()
	c.friends = m
	c.mu.Unlock()
	slog.Info("friend cache refreshed", "count", len(m))
	return nil
}

func (c *Cache) RefreshGroups(ctx context.Context) error {
	groups, err := c.api.GetGroupList(ctx)
	if err != nil {
		return fmt.Errorf("contacts: group list: %w", err)
	}
	m := make(map[int64]onebot.Group, len(groups))
	for _, g := range groups {
		m[g.GroupID] = g
	}
	c.mu.Lock()
	c.groups = m
	c.mu.Unlock()
	slog.Info("group cache refreshed", "count", len(m))
	return nil
}

// RefreshAll fetches both directories in parallel.
func (c *Cache) RefreshAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.RefreshFriends(ctx) })
	g.Go(func() error { return c.RefreshGroups(ctx) })
	return g.Wait()
}

// Remark returns the friend remark for the user, empty when unknown.
func (c *Cache) Remark(userID int64) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.friends[userID].Remark
}

// GroupDisplayName prefers the self-set group remark over the group name.
func (c *Cache) GroupDisplayName(groupID int64) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g := c.groups[groupID]
	if g.GroupRemark != "" {
		return g.GroupRemark
	}
	return g.GroupName
}

// SenderName resolves how a sender is labelled for the model. A group card
// wins, annotated with the friend remark when both exist; otherwise the
// remark wins over the nickname.
func (c *Cache) SenderName(userID int64, nickname, card string) string {
	remark := c.Remark(userID)
	if card != "" {
		if remark != "" {
			return card + " (" + remark + ")"
		}
		return card
	}
	if remark != "" {
		return remark
	}
	return nickname
}
