package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// HierarchyIndex answers reporting-tree questions over the stored edge set.
// Reads load a fresh snapshot per call; mutations are serialized by the store.
type HierarchyIndex struct {
	edges HierarchyStore
	users UserStore
	now   func() time.Time
}

// NewHierarchyIndex constructs an index over the edge and user stores.
func NewHierarchyIndex(edges HierarchyStore, users UserStore) *HierarchyIndex {
	return &HierarchyIndex{edges: edges, users: users, now: time.Now}
}

// TeamMember is one entry of a Team listing.
type TeamMember struct {
	UserID    string `json:"user_id"`
	ManagerID string `json:"reporting_user_id,omitempty"`
	Level     int    `json:"level"`
}

// Team groups the people around a user: the manager chain, siblings and all reports.
type Team struct {
	Seniors      []TeamMember `json:"seniors"`
	Peers        []TeamMember `json:"peers"`
	Subordinates []TeamMember `json:"subordinates"`
}

type treeSnapshot struct {
	managers map[string]string
	children map[string][]string
}

func (h *HierarchyIndex) snapshot(ctx context.Context) (treeSnapshot, error) {
	edges, err := h.edges.GetAllHierarchyEdges(ctx)
	if err != nil {
		return treeSnapshot{}, fmt.Errorf("load hierarchy: %w", err)
	}
	return buildSnapshot(edges), nil
}

func buildSnapshot(edges []HierarchyEdge) treeSnapshot {
	snap := treeSnapshot{
		managers: make(map[string]string, len(edges)),
		children: make(map[string][]string),
	}
	for _, e := range edges {
		snap.managers[e.UserID] = e.ManagerID
	}
	for user, manager := range snap.managers {
		if manager != "" {
			snap.children[manager] = append(snap.children[manager], user)
		}
	}
	for _, kids := range snap.children {
		sort.Strings(kids)
	}
	return snap
}

// maxSteps bounds every upward walk.
func (s treeSnapshot) maxSteps() int { return len(s.managers) + 1 }

func (s treeSnapshot) levelOf(userID string) (int, error) {
	level := 0
	visited := map[string]struct{}{userID: {}}
	cur := s.managers[userID]
	for cur != "" {
		if _, seen := visited[cur]; seen || level >= s.maxSteps() {
			return 0, newError(KindCyclicHierarchy, "reporting chain of "+userID+" revisits "+cur, nil)
		}
		visited[cur] = struct{}{}
		level++
		cur = s.managers[cur]
	}
	return level, nil
}

func (s treeSnapshot) isSubordinate(managerID, targetID string) (bool, error) {
	if managerID == "" || targetID == "" || managerID == targetID {
		return false, nil
	}
	visited := map[string]struct{}{targetID: {}}
	steps := 0
	for cur := s.managers[targetID]; cur != ""; cur = s.managers[cur] {
		if cur == managerID {
			return true, nil
		}
		steps++
		if _, seen := visited[cur]; seen || steps >= s.maxSteps() {
			return false, newError(KindCyclicHierarchy, "reporting chain of "+targetID+" revisits "+cur, nil)
		}
		visited[cur] = struct{}{}
	}
	return false, nil
}

func (s treeSnapshot) descendants(userID string) []string {
	var out []string
	visited := map[string]struct{}{userID: {}}
	queue := append([]string(nil), s.children[userID]...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, seen := visited[cur]; seen {
			continue
		}
		visited[cur] = struct{}{}
		out = append(out, cur)
		queue = append(queue, s.children[cur]...)
	}
	return out
}

// LevelOf returns the depth of userID: 0 for users without a manager.
func (h *HierarchyIndex) LevelOf(ctx context.Context, userID string) (int, error) {
	snap, err := h.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return snap.levelOf(userID)
}

// IsSubordinate reports whether managerID is a direct or transitive manager of targetID.
// A user is never their own subordinate.
func (h *HierarchyIndex) IsSubordinate(ctx context.Context, managerID, targetID string) (bool, error) {
	snap, err := h.snapshot(ctx)
	if err != nil {
		return false, err
	}
	return snap.isSubordinate(managerID, targetID)
}

// Subordinates lists every direct and transitive report of userID, nearest first.
func (h *HierarchyIndex) Subordinates(ctx context.Context, userID string) ([]TeamMember, error) {
	snap, err := h.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.members(snap.descendants(userID))
}

// TeamMembers returns the seniors, peers and subordinates of userID.
func (h *HierarchyIndex) TeamMembers(ctx context.Context, userID string) (Team, error) {
	snap, err := h.snapshot(ctx)
	if err != nil {
		return Team{}, err
	}
	if _, err := snap.levelOf(userID); err != nil {
		return Team{}, err
	}
	var seniorIDs []string
	for cur := snap.managers[userID]; cur != ""; cur = snap.managers[cur] {
		seniorIDs = append(seniorIDs, cur)
	}
	var peerIDs []string
	if manager := snap.managers[userID]; manager != "" {
		for _, sibling := range snap.children[manager] {
			if sibling != userID {
				peerIDs = append(peerIDs, sibling)
			}
		}
	}
	team := Team{Seniors: []TeamMember{}, Peers: []TeamMember{}, Subordinates: []TeamMember{}}
	if team.Seniors, err = snap.members(seniorIDs); err != nil {
		return Team{}, err
	}
	if team.Peers, err = snap.members(peerIDs); err != nil {
		return Team{}, err
	}
	if team.Subordinates, err = snap.members(snap.descendants(userID)); err != nil {
		return Team{}, err
	}
	return team, nil
}

func (s treeSnapshot) members(ids []string) ([]TeamMember, error) {
	out := make([]TeamMember, 0, len(ids))
	for _, id := range ids {
		level, err := s.levelOf(id)
		if err != nil {
			return nil, err
		}
		out = append(out, TeamMember{UserID: id, ManagerID: s.managers[id], Level: level})
	}
	return out, nil
}

// CreateEdge records userID's first reporting line. managerID may be empty for a root.
func (h *HierarchyIndex) CreateEdge(ctx context.Context, userID, managerID string) (HierarchyEdge, error) {
	return h.mutate(ctx, userID, managerID, func(exists bool) error {
		if exists {
			return newError(KindInvalidHierarchy, "edge for "+userID+" already exists", nil)
		}
		return nil
	})
}

// UpdateEdge moves userID under newManagerID, or makes it a root when newManagerID is empty.
func (h *HierarchyIndex) UpdateEdge(ctx context.Context, userID, newManagerID string) (HierarchyEdge, error) {
	return h.mutate(ctx, userID, newManagerID, func(exists bool) error {
		if !exists {
			return newError(KindInvalidHierarchy, "no edge for "+userID, nil)
		}
		return nil
	})
}

// SetManager creates or updates userID's edge.
func (h *HierarchyIndex) SetManager(ctx context.Context, userID, managerID string) (HierarchyEdge, error) {
	return h.mutate(ctx, userID, managerID, nil)
}

func (h *HierarchyIndex) mutate(ctx context.Context, userID, managerID string, precondition func(exists bool) error) (HierarchyEdge, error) {
	userID = strings.TrimSpace(userID)
	managerID = strings.TrimSpace(managerID)
	if userID == "" {
		return HierarchyEdge{}, newError(KindInvalidHierarchy, "user id is required", nil)
	}
	if managerID == userID {
		return HierarchyEdge{}, newError(KindInvalidHierarchy, "user cannot report to themselves", nil)
	}
	if err := h.requireUser(ctx, userID, "user"); err != nil {
		return HierarchyEdge{}, err
	}
	if managerID != "" {
		if err := h.requireUser(ctx, managerID, "manager"); err != nil {
			return HierarchyEdge{}, err
		}
	}

	now := h.now().UTC()
	var edge HierarchyEdge
	err := h.edges.UpdateHierarchy(ctx, func(current []HierarchyEdge) ([]HierarchyEdge, error) {
		changed, e, err := planEdge(buildSnapshot(current), userID, managerID, precondition, now)
		edge = e
		return changed, err
	})
	if err != nil {
		if KindOf(err) != KindUnknown {
			return HierarchyEdge{}, err
		}
		return HierarchyEdge{}, fmt.Errorf("store hierarchy: %w", err)
	}
	return edge, nil
}

// planEdge validates moving userID under managerID against snap and returns the
// edge plus every descendant whose level changes.
func planEdge(snap treeSnapshot, userID, managerID string, precondition func(exists bool) error, now time.Time) ([]HierarchyEdge, HierarchyEdge, error) {
	_, exists := snap.managers[userID]
	if precondition != nil {
		if err := precondition(exists); err != nil {
			return nil, HierarchyEdge{}, err
		}
	}
	if managerID != "" {
		below, err := snap.isSubordinate(userID, managerID)
		if err != nil {
			return nil, HierarchyEdge{}, err
		}
		if below {
			return nil, HierarchyEdge{}, newError(KindInvalidHierarchy,
				fmt.Sprintf("%s reports to %s; edge would create a cycle", managerID, userID), nil)
		}
	}

	before := make(map[string]int, len(snap.managers))
	affected := append([]string{userID}, snap.descendants(userID)...)
	for _, id := range affected {
		if lvl, err := snap.levelOf(id); err == nil {
			before[id] = lvl
		} else {
			before[id] = -1
		}
	}

	snap.managers[userID] = managerID
	next := buildSnapshot(snapshotEdges(snap.managers))

	var changed []HierarchyEdge
	var edge HierarchyEdge
	for _, id := range affected {
		level, err := next.levelOf(id)
		if err != nil {
			return nil, HierarchyEdge{}, err
		}
		e := HierarchyEdge{UserID: id, ManagerID: next.managers[id], Level: level, UpdatedAt: now}
		if id == userID {
			edge = e
			changed = append(changed, e)
			continue
		}
		if before[id] != level {
			changed = append(changed, e)
		}
	}
	return changed, edge, nil
}

// ValidateManager reports InvalidHierarchy when managerID names no existing user.
// A brand-new user has no reports, so this is the only check its first edge needs.
func (h *HierarchyIndex) ValidateManager(ctx context.Context, managerID string) error {
	return h.requireUser(ctx, strings.TrimSpace(managerID), "manager")
}

func (h *HierarchyIndex) requireUser(ctx context.Context, id, label string) error {
	_, err := h.users.GetUser(ctx, id)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return newError(KindInvalidHierarchy, label+" "+id+" does not exist", nil)
	}
	return fmt.Errorf("load %s: %w", label, err)
}

func snapshotEdges(managers map[string]string) []HierarchyEdge {
	edges := make([]HierarchyEdge, 0, len(managers))
	for user, manager := range managers {
		edges = append(edges, HierarchyEdge{UserID: user, ManagerID: manager})
	}
	return edges
}
