package http

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/testbed-control-plane/domain/actor"
	"github.com/R3E-Network/testbed-control-plane/domain/reservation"
	cperrors "github.com/R3E-Network/testbed-control-plane/infrastructure/errors"
)

// ManagementRouter fronts a Controller with the experimenter-facing
// management surface. Creating a reservation and demanding it are a single
// atomic call in this engine (Controller.Demand both creates the reservation
// and issues the ticket request, since nothing observes a reservation
// between the two steps), so POST /reservations covers both operations;
// claiming resources from a broker is served by the same
// handler under POST /claim, since this engine has no notion of claiming an
// already-ticketed reservation separately from demanding one.
type ManagementRouter struct {
	Controller *actor.Controller
}

// Mount registers the management endpoints onto r.
func (m *ManagementRouter) Mount(r *mux.Router) {
	r.HandleFunc("/reservations", m.handleDemand).Methods(http.MethodPost)
	r.HandleFunc("/claim", m.handleDemand).Methods(http.MethodPost)
	r.HandleFunc("/reservations", m.handleListReservations).Methods(http.MethodGet)
	r.HandleFunc("/reservations/{id}/extend", m.handleExtend).Methods(http.MethodPost)
	r.HandleFunc("/reservations/{id}/close", m.handleClose).Methods(http.MethodPost)
	r.HandleFunc("/slices", m.handleListSlices).Methods(http.MethodGet)
}

func (m *ManagementRouter) handleDemand(w http.ResponseWriter, r *http.Request) {
	var req demandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, cperrors.InvalidInput("body", "malformed demand request"))
		return
	}
	brokerID, err := reservation.ParseID(req.BrokerID)
	if err != nil {
		writeError(w, cperrors.InvalidInput("broker_id", "malformed broker id"))
		return
	}
	sourceID, err := reservation.ParseID(req.SourceID)
	if err != nil {
		writeError(w, cperrors.InvalidInput("source_id", "malformed source id"))
		return
	}
	sliceID, err := reservation.ParseID(req.SliceID)
	if err != nil {
		writeError(w, cperrors.InvalidInput("slice_id", "malformed slice id"))
		return
	}
	term, err := reservation.NewInitialTerm(req.Start, req.End)
	if err != nil {
		writeError(w, err)
		return
	}
	predecessors := make([]reservation.ID, 0, len(req.Predecessors))
	for _, raw := range req.Predecessors {
		predID, err := reservation.ParseID(raw)
		if err != nil {
			writeError(w, cperrors.InvalidInput("predecessors", "malformed predecessor id"))
			return
		}
		predecessors = append(predecessors, predID)
	}

	id, err := m.Controller.Demand(r.Context(), brokerID, sourceID, sliceID, req.ResourceType, req.Units, term, predecessors...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, demandResponse{ReservationID: id.String()})
}

func (m *ManagementRouter) handleExtend(w http.ResponseWriter, r *http.Request) {
	id, err := reservation.ParseID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, cperrors.InvalidInput("id", "malformed reservation id"))
		return
	}
	var req extendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, cperrors.InvalidInput("body", "malformed extend request"))
		return
	}
	if err := m.Controller.ExtendEndTime(r.Context(), id, req.NewEnd); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *ManagementRouter) handleClose(w http.ResponseWriter, r *http.Request) {
	id, err := reservation.ParseID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, cperrors.InvalidInput("id", "malformed reservation id"))
		return
	}
	if err := m.Controller.Close(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *ManagementRouter) handleListReservations(w http.ResponseWriter, r *http.Request) {
	reservations := m.Controller.ListReservations()
	out := make([]reservationView, 0, len(reservations))
	for _, res := range reservations {
		out = append(out, toReservationView(res))
	}
	writeJSON(w, http.StatusOK, out)
}

func (m *ManagementRouter) handleListSlices(w http.ResponseWriter, r *http.Request) {
	slices := m.Controller.ListSlices()
	out := make([]sliceView, 0, len(slices))
	for _, sl := range slices {
		out = append(out, toSliceView(sl))
	}
	writeJSON(w, http.StatusOK, out)
}
