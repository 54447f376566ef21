package http

import (
	"net/http"

	"fintrack/internal/core"
	"fintrack/internal/services"
)

type periodicRequest struct {
	Amount      core.Money `json:"amount"`
	Type        string     `json:"type"`
	TagID       *string    `json:"tag_id"`
	Description string     `json:"description"`
	Frequency   string     `json:"frequency"`
	StartDate   *string    `json:"start_date"`
	EndDate     *string    `json:"end_date"`
}

func (req periodicRequest) toInput() (services.PeriodicInput, error) {
	typ, err := core.ParseTransactionType(req.Type)
	if err != nil {
		return services.PeriodicInput{}, err
	}
	freq, err := core.ParseFrequency(req.Frequency)
	if err != nil {
		return services.PeriodicInput{}, err
	}
	start, err := parseOptionalDate(req.StartDate)
	if err != nil {
		return services.PeriodicInput{}, err
	}
	end, err := parseOptionalDate(req.EndDate)
	if err != nil {
		return services.PeriodicInput{}, err
	}

	in := services.PeriodicInput{
		Amount:      req.Amount,
		Type:        typ,
		TagID:       req.TagID,
		Description: sanitizeInput(req.Description),
		Frequency:   freq,
		EndDate:     end,
	}
	if start != nil {
		in.StartDate = *start
	}
	return in, nil
}

func (s *Server) handleCreatePeriodic(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	var req periodicRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, "create_periodic", err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		s.fail(w, r, "create_periodic", err)
		return
	}

	pt, err := s.recurring.CreatePeriodic(r.Context(), owner, in)
	if err != nil {
		s.fail(w, r, "create_periodic", err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Field("periodicTransaction", pt).Write(w)
}

func (s *Server) handleListPeriodic(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	items, err := s.recurring.ListPeriodic(r.Context(), owner)
	if err != nil {
		s.fail(w, r, "list_periodic", err)
		return
	}
	if items == nil {
		items = []core.PeriodicTransaction{}
	}
	NewJSONResponse().Field("periodicTransactions", items).Write(w)
}

func (s *Server) handleDeletePeriodic(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	if err := s.recurring.DeletePeriodic(r.Context(), r.PathValue("id"), owner); err != nil {
		s.fail(w, r, "delete_periodic", err)
		return
	}
	NewJSONResponse().Message("periodic transaction deleted").Write(w)
}
