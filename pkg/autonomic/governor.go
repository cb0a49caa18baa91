// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package autonomic

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/config"
	"github.com/teradata-labs/treadle/pkg/storage"
)

// Proposal lifecycle states.
const (
	ProposalProposed   = "proposed"
	ProposalCanary     = "canary"
	ProposalCommitted  = "committed"
	ProposalRolledBack = "rolled_back"
	ProposalRejected   = "rejected"
)

// ChangeProposal is one self-modification the runtime wants to make to
// its own configuration.
type ChangeProposal struct {
	ID          string            `json:"id"`
	Description string            `json:"description"`
	Changes     map[string]string `json:"changes"`
	Status      string            `json:"status"`
	Violations  []string          `json:"violations,omitempty"`
	CreatedMs   int64             `json:"created_ms"`
	DecidedMs   int64             `json:"decided_ms,omitempty"`
}

// EvolutionGovernor owns the change-proposal lifecycle:
// proposed -> canary -> committed | rolled_back, with an up-front
// rejection for anything touching an immutable guardrail key. The
// guardrails are the point of the whole design: the runtime may evolve
// its behavior, never its own safety envelope.
type EvolutionGovernor struct {
	store  *storage.Store
	logger *zap.Logger

	mu        sync.Mutex
	proposals map[string]*ChangeProposal
	seq       int
}

// NewEvolutionGovernor builds a governor.
func NewEvolutionGovernor(store *storage.Store, logger *zap.Logger) *EvolutionGovernor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EvolutionGovernor{
		store:     store,
		logger:    logger,
		proposals: map[string]*ChangeProposal{},
	}
}

// Submit registers a proposal and immediately evaluates the
// guardrails. A clean proposal enters canary; a violating one is
// rejected with the sorted list of offending keys.
func (g *EvolutionGovernor) Submit(description string, changes map[string]string) *ChangeProposal {
	g.mu.Lock()
	g.seq++
	p := &ChangeProposal{
		ID:          fmt.Sprintf("cp%06d", g.seq),
		Description: description,
		Changes:     changes,
		Status:      ProposalProposed,
		CreatedMs:   time.Now().UnixMilli(),
	}
	g.proposals[p.ID] = p
	g.mu.Unlock()

	var violations []string
	for key := range changes {
		if config.IsImmutable(key) {
			violations = append(violations, key)
		}
	}
	sort.Strings(violations)

	g.mu.Lock()
	if len(violations) > 0 {
		p.Status = ProposalRejected
		p.Violations = violations
		p.DecidedMs = time.Now().UnixMilli()
	} else {
		p.Status = ProposalCanary
	}
	g.mu.Unlock()

	g.audit(p, "")
	if p.Status == ProposalRejected {
		g.logger.Warn("proposal rejected on guardrails",
			zap.String("id", p.ID), zap.Strings("violations", violations))
	}
	return g.snapshot(p.ID)
}

// Commit applies a canary proposal's changes through the config layer
// and marks it committed. Any apply failure rolls the whole proposal
// back, restoring the keys already written.
func (g *EvolutionGovernor) Commit(id string) (*ChangeProposal, error) {
	g.mu.Lock()
	p, ok := g.proposals[id]
	if !ok {
		g.mu.Unlock()
		return nil, fmt.Errorf("unknown proposal %s", id)
	}
	if p.Status != ProposalCanary {
		status := p.Status
		g.mu.Unlock()
		return nil, fmt.Errorf("proposal %s is %s, not canary", id, status)
	}
	changes := p.Changes
	g.mu.Unlock()

	previous := map[string]string{}
	for key, value := range changes {
		previous[key] = config.GetString(key, "")
		if err := config.Set(key, value); err != nil {
			for pk, pv := range previous {
				if serr := config.Set(pk, pv); serr != nil {
					g.logger.Error("rollback of key failed",
						zap.String("key", pk), zap.Error(serr))
				}
			}
			g.finish(id, ProposalRolledBack)
			g.audit(g.snapshot(id), err.Error())
			return g.snapshot(id), fmt.Errorf("apply %s: %w", key, err)
		}
	}
	g.finish(id, ProposalCommitted)
	g.audit(g.snapshot(id), "")
	g.logger.Info("proposal committed", zap.String("id", id))
	return g.snapshot(id), nil
}

// Rollback marks a canary proposal abandoned without applying it.
func (g *EvolutionGovernor) Rollback(id string) (*ChangeProposal, error) {
	g.mu.Lock()
	p, ok := g.proposals[id]
	if !ok || p.Status != ProposalCanary {
		g.mu.Unlock()
		return nil, fmt.Errorf("proposal %s not in canary", id)
	}
	g.mu.Unlock()
	g.finish(id, ProposalRolledBack)
	g.audit(g.snapshot(id), "")
	return g.snapshot(id), nil
}

// Proposal returns a copy of one proposal.
func (g *EvolutionGovernor) Proposal(id string) (*ChangeProposal, bool) {
	p := g.snapshot(id)
	return p, p != nil
}

// List returns copies of all proposals, oldest first.
func (g *EvolutionGovernor) List() []*ChangeProposal {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.proposals))
	for id := range g.proposals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*ChangeProposal, 0, len(ids))
	for _, id := range ids {
		cp := *g.proposals[id]
		out = append(out, &cp)
	}
	return out
}

func (g *EvolutionGovernor) finish(id, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.proposals[id]; ok {
		p.Status = status
		p.DecidedMs = time.Now().UnixMilli()
	}
}

func (g *EvolutionGovernor) snapshot(id string) *ChangeProposal {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.proposals[id]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (g *EvolutionGovernor) audit(p *ChangeProposal, detail string) {
	if g.store == nil || p == nil {
		return
	}
	rec := storage.Record{
		"ts_ms":    time.Now().UnixMilli(),
		"event":    "change_proposal",
		"proposal": p.ID,
		"status":   p.Status,
	}
	if len(p.Violations) > 0 {
		rec["violations"] = p.Violations
	}
	if detail != "" {
		rec["detail"] = detail
	}
	if err := g.store.Append(storage.StreamAutonomicAudit, rec); err != nil {
		g.logger.Debug("proposal audit failed", zap.Error(err))
	}
}
