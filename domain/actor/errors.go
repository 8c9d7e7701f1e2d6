package actor

import (
	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
	cperrors "github.com/R3E-Network/testbed-control-plane/infrastructure/errors"
)

// unknownReservationErr reports that an inbound protocol call named a
// reservation id this actor has no local record of — it either never saw
// the original request or has already forgotten it (e.g. after a close).
func unknownReservationErr(id reservation.ID) error {
	return cperrors.WrongState(id.String(), "unknown", "none")
}
