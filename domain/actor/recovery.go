package actor

import (
	"context"

	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
)

// Revisit replays every reservation and slice persisted for this actor,
// rebuilding in-memory state (the reservations/slices index, plus calendar
// placement for whichever role embeds Base) without contacting any peer:
// each revisit rebuilds calendar state from the reservation's
// (state, term, pending) alone. placeInCalendar is supplied by
// the concrete role (Authority/Broker/Controller), since only it knows which
// calendar indices a given (state, pending) belongs in.
func (b *Base) Revisit(ctx context.Context, placeInCalendar func(r *reservation.Reservation)) error {
	if b.store == nil {
		return nil
	}
	slices, err := b.store.ListSlices(ctx)
	if err != nil {
		return err
	}
	for _, s := range slices {
		b.trackSlice(s)
	}

	reservations, err := b.store.ListReservations(ctx)
	if err != nil {
		return err
	}
	for _, r := range reservations {
		b.trackReservation(r)
		if placeInCalendar != nil {
			placeInCalendar(r)
		}
	}
	return nil
}

// RestartConfigurationActions re-issues any outstanding protocol call for
// reservations whose pending state survived a crash. Run it
// once Revisit has rebuilt calendar placement and before the actor
// registers with the tick service. resume is supplied by the concrete role
// and is called once per non-terminal, non-None-pending reservation found;
// it is responsible for knowing which outbound call (ticket/redeem/extend/
// close) corresponds to that pending value and re-sending it.
func (b *Base) RestartConfigurationActions(ctx context.Context, resume func(ctx context.Context, r *reservation.Reservation) error) []error {
	var errs []error
	for _, r := range b.ListReservations() {
		if r.IsTerminal() || r.Pending() == reservation.PendingNone {
			continue
		}
		if resume == nil {
			continue
		}
		if err := resume(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
