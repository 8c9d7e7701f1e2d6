package reservation

import cperrors "github.com/R3E-Network/testbed-control-plane/infrastructure/errors"

func invalidInput(field, reason string) error {
	return cperrors.InvalidInput(field, reason)
}

func wrongStateErr(reservationID, state, pending string) error {
	return cperrors.WrongState(reservationID, state, pending)
}

func wrongStateOpErr(reservationID, op, state, pending string) error {
	return cperrors.WrongStateOp(reservationID, op, state, pending)
}

func alreadyTerminal(reservationID string) error {
	return cperrors.AlreadyTerminal(reservationID)
}

func extendDuringPrime(reservationID string) error {
	return cperrors.ExtendDuringPrime(reservationID)
}

func predecessorUnmet(reservationID string) error {
	return cperrors.PredecessorUnmet(reservationID, "")
}
