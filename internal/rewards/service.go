package rewards

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"loyaltydesk.org/internal/obs"
	"loyaltydesk.org/internal/stream"
)

// Auditor records privileged mutations on a best-effort basis.
type Auditor interface {
	Record(ctx context.Context, action, entityType, entityID string, details map[string]any)
}

// Service performs perk redemption and staff decisions.
type Service struct {
	balances BalanceReader
	catalog  Catalog
	perks    PerkStore
	hub      *stream.Hub
	audit    Auditor
	log      *logrus.Entry
}

// NewService wires the redemption service. hub and audit may be nil.
func NewService(balances BalanceReader, catalog Catalog, perks PerkStore, hub *stream.Hub, audit Auditor, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{balances: balances, catalog: catalog, perks: perks, hub: hub, audit: audit, log: log}
}

// Redeem inserts a pending perk for milestoneID. The balance is not decremented.
func (s *Service) Redeem(ctx context.Context, principalID, milestoneID string) (Perk, error) {
	principalID = strings.TrimSpace(principalID)
	milestoneID = strings.TrimSpace(milestoneID)
	if principalID == "" || milestoneID == "" {
		return Perk{}, ErrInvalidInput
	}
	log := s.log.WithFields(logrus.Fields{"principal_id": principalID, "milestone_id": milestoneID})

	milestone, err := s.milestone(ctx, milestoneID)
	if err != nil {
		return Perk{}, err
	}
	balance, err := s.balances.Balance(ctx, principalID)
	if err != nil {
		log.WithError(err).Error("read balance failed")
		return Perk{}, fmt.Errorf("read balance: %w", err)
	}
	if balance < milestone.PointsRequired {
		obs.ObserveRedemption("not_eligible")
		return Perk{}, ErrNotEligible
	}
	existing, err := s.perks.Perks(ctx, principalID)
	if err != nil {
		log.WithError(err).Error("read perks failed")
		return Perk{}, fmt.Errorf("read perks: %w", err)
	}
	if Redeemed(existing, milestoneID) {
		obs.ObserveRedemption("duplicate")
		return Perk{}, ErrAlreadyRedeemed
	}

	perk, err := s.perks.InsertPerk(ctx, Perk{PrincipalID: principalID, MilestoneID: milestoneID, Status: PerkPending})
	if errors.Is(err, ErrAlreadyRedeemed) {
		obs.ObserveRedemption("duplicate")
		return Perk{}, err
	}
	if err != nil {
		obs.ObserveRedemption("error")
		log.WithError(err).Error("insert perk failed")
		return Perk{}, err
	}
	obs.ObserveRedemption("redeemed")

	s.publish(perk)
	if s.audit != nil {
		s.audit.Record(ctx, "perk.redeemed", "perk", perk.ID, map[string]any{
			"milestone_id":    milestoneID,
			"points_required": milestone.PointsRequired,
			"balance":         balance,
		})
	}
	return perk, nil
}

// Pending lists perks awaiting a staff decision, oldest first.
func (s *Service) Pending(ctx context.Context, limit int) ([]Perk, error) {
	return s.perks.PerksByStatus(ctx, PerkPending, limit)
}

// DecidePerk approves or rejects a pending perk. Both outcomes are terminal.
func (s *Service) DecidePerk(ctx context.Context, perkID string, approve bool) (Perk, error) {
	status := PerkRejected
	if approve {
		status = PerkApproved
	}
	perk, err := s.perks.DecidePerk(ctx, perkID, status)
	if err != nil {
		return Perk{}, err
	}
	s.publish(perk)
	if s.audit != nil {
		s.audit.Record(ctx, "perk.decided", "perk", perk.ID, map[string]any{
			"status":       string(status),
			"principal_id": perk.PrincipalID,
		})
	}
	return perk, nil
}

func (s *Service) milestone(ctx context.Context, id string) (Milestone, error) {
	ms, err := s.catalog.Milestones(ctx)
	if err != nil {
		return Milestone{}, fmt.Errorf("read milestones: %w", err)
	}
	for _, m := range ms {
		if m.ID == id {
			return m, nil
		}
	}
	return Milestone{}, ErrNotFound
}

func (s *Service) publish(p Perk) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(stream.PerkChanged(p.PrincipalID, p.ID, string(p.Status)))
}
