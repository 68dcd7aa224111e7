package service

import (
	"context"

	"github.com/boddenberg/consultant-bfa-go/internal/domain"
	"github.com/boddenberg/consultant-bfa-go/internal/resource"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PublicBookings accepts booking requests from the public /book page on
// behalf of the configured consultant.
type PublicBookings struct {
	bookings     *resource.Bookings
	consultantID string
	logger       *zap.Logger
}

// NewPublicBookings creates the intake. An empty consultantID disables it.
func NewPublicBookings(bookings *resource.Bookings, consultantID string, logger *zap.Logger) *PublicBookings {
	return &PublicBookings{bookings: bookings, consultantID: consultantID, logger: logger}
}

// Enabled reports whether a consultant is configured.
func (p *PublicBookings) Enabled() bool {
	return p.consultantID != ""
}

// Create stores a scheduled website booking owned by the consultant.
func (p *PublicBookings) Create(ctx context.Context, in domain.BookingInsert) (*domain.Booking, error) {
	if !p.Enabled() {
		return nil, &domain.ErrUnavailable{Feature: "public booking"}
	}

	ctx, span := tracer.Start(ctx, "PublicBookings.Create")
	defer span.End()

	in.UserID = ""
	in.Status = domain.BookingScheduled
	in.Source = domain.SourceWebsite

	// No token: the row store acts with service privileges for the consultant.
	consultant := resource.StaticIdentity{Identity: &domain.Identity{ID: p.consultantID}}
	b, err := p.bookings.As(consultant).Create(ctx, in)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("booking.id", b.ID))
	p.logger.Info("public booking received",
		zap.String("booking_id", b.ID),
		zap.String("service", b.Service),
		zap.String("date", string(b.Date)),
	)
	return b, nil
}
