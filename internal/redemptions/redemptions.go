// Package redemptions handles organization-level point redemption requests.
package redemptions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"loyaltydesk.org/internal/notify"
	"loyaltydesk.org/internal/obs"
	"loyaltydesk.org/internal/stream"
)

// Status is the lifecycle state of a request. Approved and rejected are terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ParseStatus accepts the three statuses; empty means any.
func ParseStatus(raw string) (Status, bool) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case "", StatusPending, StatusApproved, StatusRejected:
		return s, true
	default:
		return "", false
	}
}

// Request is an organization's ask to redeem points.
type Request struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	RequesterID    string     `json:"requester_id"`
	Points         int64      `json:"points"`
	Reason         string     `json:"reason"`
	Status         Status     `json:"status"`
	ApproverID     *string    `json:"approver_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	DecidedAt      *time.Time `json:"decided_at,omitempty"`
}

var (
	ErrNotFound          = errors.New("redemptions: not found")
	ErrInvalidInput      = errors.New("redemptions: invalid input")
	ErrNotMember         = errors.New("redemptions: requester is not a member of the organization")
	ErrInvalidTransition = errors.New("redemptions: request is not pending")
)

// Store persists requests. Decide must only transition pending rows and
// report ErrInvalidTransition otherwise.
type Store interface {
	Create(ctx context.Context, r Request) (Request, error)
	Get(ctx context.Context, id string) (Request, error)
	List(ctx context.Context, status Status, limit int) ([]Request, error)
	Decide(ctx context.Context, id, approverID string, status Status, at time.Time) (Request, error)
}

// Membership answers whether a principal belongs to an organization.
type Membership interface {
	IsMember(ctx context.Context, orgID, principalID string) (bool, error)
}

// Recipients resolves a principal's email address.
type Recipients interface {
	Email(ctx context.Context, principalID string) (string, error)
}

// Auditor records privileged mutations on a best-effort basis.
type Auditor interface {
	Record(ctx context.Context, action, entityType, entityID string, details map[string]any)
}

// DecisionTemplate is the email template used for decision notices.
const DecisionTemplate = "redemption-decision"

const notifyTimeout = 30 * time.Second

// Service creates and decides redemption requests.
type Service struct {
	store      Store
	members    Membership
	mailer     *notify.Mailer
	recipients Recipients
	audit      Auditor
	hub        *stream.Hub
	log        *logrus.Entry
	now        func() time.Time
	pending    sync.WaitGroup
}

// Deps are the optional collaborators of Service.
type Deps struct {
	Mailer     *notify.Mailer
	Recipients Recipients
	Audit      Auditor
	Hub        *stream.Hub
	Log        *logrus.Entry
}

func NewService(store Store, members Membership, deps Deps) *Service {
	log := deps.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		store:      store,
		members:    members,
		mailer:     deps.Mailer,
		recipients: deps.Recipients,
		audit:      deps.Audit,
		hub:        deps.Hub,
		log:        log,
		now:        time.Now,
	}
}

// Create files a pending request. Points must be positive and the requester
// must belong to the organization.
func (s *Service) Create(ctx context.Context, orgID, requesterID string, points int64, reason string) (Request, error) {
	orgID = strings.TrimSpace(orgID)
	requesterID = strings.TrimSpace(requesterID)
	reason = strings.TrimSpace(reason)
	if orgID == "" || requesterID == "" {
		return Request{}, ErrInvalidInput
	}
	if points <= 0 {
		return Request{}, fmt.Errorf("%w: points must be greater than zero", ErrInvalidInput)
	}
	ok, err := s.members.IsMember(ctx, orgID, requesterID)
	if err != nil {
		s.log.WithField("organization_id", orgID).WithError(err).Error("membership lookup failed")
		return Request{}, err
	}
	if !ok {
		return Request{}, ErrNotMember
	}
	req, err := s.store.Create(ctx, Request{
		OrganizationID: orgID,
		RequesterID:    requesterID,
		Points:         points,
		Reason:         reason,
		Status:         StatusPending,
	})
	if err != nil {
		s.log.WithField("organization_id", orgID).WithError(err).Error("create redemption request failed")
		return Request{}, err
	}
	if s.audit != nil {
		s.audit.Record(ctx, "redemption.requested", "redemption_request", req.ID, map[string]any{
			"organization_id": orgID,
			"points":          points,
		})
	}
	return req, nil
}

// List returns requests filtered by status; empty status lists all.
func (s *Service) List(ctx context.Context, status Status, limit int) ([]Request, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.List(ctx, status, limit)
}

// Decide approves or rejects a pending request. The requester is emailed
// on a best-effort basis after Decide returns; see Wait.
func (s *Service) Decide(ctx context.Context, id, approverID string, approve bool) (Request, error) {
	status := StatusRejected
	if approve {
		status = StatusApproved
	}
	req, err := s.store.Decide(ctx, id, approverID, status, s.now().UTC())
	if err != nil {
		if !errors.Is(err, ErrInvalidTransition) && !errors.Is(err, ErrNotFound) {
			s.log.WithField("request_id", id).WithError(err).Error("decide redemption failed")
		}
		return Request{}, err
	}
	obs.ObserveRedemption("org_" + string(status))

	if s.audit != nil {
		s.audit.Record(ctx, "redemption.decided", "redemption_request", req.ID, map[string]any{
			"status":          string(status),
			"organization_id": req.OrganizationID,
			"points":          req.Points,
		})
	}
	if s.hub != nil {
		s.hub.Publish(stream.Event{
			Kind:        stream.KindRedemptionChanged,
			PrincipalID: req.RequesterID,
			Payload:     map[string]any{"request_id": req.ID, "status": string(status)},
		})
	}
	if s.mailer != nil && s.recipients != nil {
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
			defer cancel()
			s.notify(ctx, req)
		}()
	}
	return req, nil
}

// Wait blocks until every decision email started by Decide has finished.
func (s *Service) Wait() { s.pending.Wait() }

func (s *Service) notify(ctx context.Context, req Request) {
	email, err := s.recipients.Email(ctx, req.RequesterID)
	if err != nil {
		s.log.WithField("request_id", req.ID).WithError(err).Warn("lookup requester email failed")
		return
	}
	err = s.mailer.Send(ctx, notify.Message{
		TemplateID:   DecisionTemplate,
		Email:        email,
		UserID:       req.RequesterID,
		TemplateType: "redemption_" + string(req.Status),
		Data: map[string]any{
			"request_id": req.ID,
			"points":     req.Points,
			"status":     string(req.Status),
		},
	})
	if err != nil {
		s.log.WithField("request_id", req.ID).WithError(err).Warn("decision email not delivered")
	}
}
