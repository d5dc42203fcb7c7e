// Package session owns session creation, occupancy detection and close-out.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tableside/internal/common/logger"
	"tableside/internal/domain"
	"tableside/internal/identity"
)

// Biller computes the outstanding shared-bill amount for close-out guarding.
type Biller interface {
	Due(ctx context.Context, sessionID uuid.UUID) (float64, error)
}

// TicketSink receives the bill payload when a session closes paid.
type TicketSink interface {
	PublishTicket(ctx context.Context, t domain.TicketPayload) error
}

type ServiceInterface interface {
	StartSession(ctx context.Context, ident identity.Identity, held *domain.TableContext) (domain.ScanResponse, error)
	EndSession(ctx context.Context, sessionID uuid.UUID, req domain.CloseSessionRequest, role domain.Role) error
	GetSession(ctx context.Context, id uuid.UUID) (domain.Session, error)
}

type Service struct {
	repo    RepositoryInterface
	biller  Biller
	tickets TicketSink
	lg      *logger.Logger
}

func NewService(repo RepositoryInterface, biller Biller, tickets TicketSink, lg *logger.Logger) *Service {
	return &Service{repo: repo, biller: biller, tickets: tickets, lg: lg}
}

// StartSession resolves the table behind ident and finds or creates its open
// session. An occupied table never gets a second session; the caller surfaces
// the join/separate-bill choice and tags its own orders accordingly.
func (s *Service) StartSession(ctx context.Context, ident identity.Identity, held *domain.TableContext) (domain.ScanResponse, error) {
	var (
		table domain.Table
		err   error
	)
	if ident.Opaque() {
		table, err = s.repo.GetTableByID(ctx, *ident.TableID)
	} else {
		table, err = s.repo.GetTable(ctx, ident.RestaurantID, ident.TableNumber)
	}
	if err != nil {
		return domain.ScanResponse{}, err
	}
	if !table.Enabled {
		return domain.ScanResponse{}, domain.ErrTableDisabled
	}

	discard := ident.DiscardHeld
	if ident.Opaque() && held != nil {
		discard = held.RestaurantID != table.RestaurantID || held.TableNumber != table.Number
	}

	sess, created, err := s.repo.FindOrCreateSession(ctx, table)
	if err != nil {
		return domain.ScanResponse{}, err
	}
	s.lg.Info("session_resolved", map[string]any{
		"session_id": sess.ID, "restaurant_id": table.RestaurantID,
		"table": table.Number, "created": created,
	})
	return domain.ScanResponse{
		SessionID:    sess.ID,
		RestaurantID: table.RestaurantID,
		TableNumber:  table.Number,
		IsOccupied:   !created,
		DiscardHeld:  discard,
	}, nil
}

// EndSession closes the session. Idempotent: closing an already-closed
// session is a no-op success. Closing with outstanding due and mark_paid
// unset requires the manager force flag.
func (s *Service) EndSession(ctx context.Context, sessionID uuid.UUID, req domain.CloseSessionRequest, role domain.Role) error {
	if !role.Staff() {
		return domain.ErrUnauthorized
	}
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.Active() {
		return nil
	}

	due, err := s.biller.Due(ctx, sessionID)
	if err != nil {
		return err
	}
	if !req.MarkPaid && due > 0 {
		if !req.Force || !role.CanEditSettings() {
			return domain.E(domain.KindUnpaidBalance, "session has an outstanding balance; confirm close explicitly")
		}
	}

	closed, err := s.repo.CloseSession(ctx, sessionID, req.PaymentMode)
	if err != nil {
		return err
	}
	if !closed {
		return nil // lost the race to another close, same outcome
	}

	if req.MarkPaid {
		if err := s.tickets.PublishTicket(ctx, domain.TicketPayload{
			Kind:         "bill",
			RestaurantID: sess.RestaurantID,
			TableNumber:  sess.TableNumber,
			Total:        due,
			IssuedAt:     timeNow(),
		}); err != nil {
			// The session is closed either way; the ticket path is advisory.
			s.lg.Error("bill_ticket_publish_failed", err, map[string]any{"session_id": sessionID})
		}
	}
	s.lg.Info("session_closed", map[string]any{
		"session_id": sessionID, "mark_paid": req.MarkPaid, "payment_mode": req.PaymentMode, "due": due,
	})
	return nil
}

func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (domain.Session, error) {
	return s.repo.GetSession(ctx, id)
}

// swapped out in tests
var timeNow = func() time.Time { return time.Now().UTC() }
