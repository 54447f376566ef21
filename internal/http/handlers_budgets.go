package http

import (
	"net/http"

	"fintrack/internal/core"
	"fintrack/internal/services"
)

type budgetRequest struct {
	Name        string     `json:"name"`
	Amount      core.Money `json:"amount"`
	Period      string     `json:"period"`
	StartDate   *string    `json:"start_date"`
	EndDate     *string    `json:"end_date"`
	IsMain      bool       `json:"is_main"`
	Description string     `json:"description"`
}

// budgetPatchRequest leaves fields that are absent from the body untouched.
type budgetPatchRequest struct {
	Name        *string     `json:"name"`
	Amount      *core.Money `json:"amount"`
	Period      *string     `json:"period"`
	StartDate   *string     `json:"start_date"`
	EndDate     *string     `json:"end_date"`
	IsMain      *bool       `json:"is_main"`
	Description *string     `json:"description"`
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	var req budgetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, "create_budget", err)
		return
	}
	start, err := parseOptionalDate(req.StartDate)
	if err != nil {
		s.fail(w, r, "create_budget", err)
		return
	}
	end, err := parseOptionalDate(req.EndDate)
	if err != nil {
		s.fail(w, r, "create_budget", err)
		return
	}

	b, err := s.budgets.CreateBudget(r.Context(), owner, services.BudgetInput{
		Name:        sanitizeInput(req.Name),
		Amount:      req.Amount,
		Period:      req.Period,
		StartDate:   start,
		EndDate:     end,
		IsMain:      req.IsMain,
		Description: sanitizeInput(req.Description),
	})
	if err != nil {
		s.fail(w, r, "create_budget", err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Field("budget", b).Write(w)
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	budgets, err := s.budgets.ListBudgets(r.Context(), owner)
	if err != nil {
		s.fail(w, r, "list_budgets", err)
		return
	}
	if budgets == nil {
		budgets = []core.Budget{}
	}
	NewJSONResponse().Field("budgets", budgets).Write(w)
}

func (s *Server) handleMainBudget(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	b, err := s.budgets.GetMainBudget(r.Context(), owner)
	if err != nil {
		s.fail(w, r, "main_budget", err)
		return
	}
	NewJSONResponse().Field("budget", b).Write(w)
}

// handleMainBudgetUsage reports the spending of the month containing ?date=.
func (s *Server) handleMainBudgetUsage(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	ref := s.now().UTC()
	if v := r.URL.Query().Get("date"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			s.fail(w, r, "budget_usage", err)
			return
		}
		ref = t
	}

	usage, err := s.budgets.MainBudgetUsage(r.Context(), owner, ref)
	if err != nil {
		s.fail(w, r, "budget_usage", err)
		return
	}
	NewJSONResponse().Field("usage", usage).Write(w)
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	b, err := s.budgets.GetBudget(r.Context(), r.PathValue("id"), owner)
	if err != nil {
		s.fail(w, r, "get_budget", err)
		return
	}
	NewJSONResponse().Field("budget", b).Write(w)
}

func (s *Server) handleUpdateBudget(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	var req budgetPatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, "update_budget", err)
		return
	}
	start, err := parseOptionalDate(req.StartDate)
	if err != nil {
		s.fail(w, r, "update_budget", err)
		return
	}
	end, err := parseOptionalDate(req.EndDate)
	if err != nil {
		s.fail(w, r, "update_budget", err)
		return
	}

	b, err := s.budgets.UpdateBudget(r.Context(), r.PathValue("id"), owner, services.BudgetPatch{
		Name:        req.Name,
		Amount:      req.Amount,
		Period:      req.Period,
		StartDate:   start,
		EndDate:     end,
		IsMain:      req.IsMain,
		Description: req.Description,
	})
	if err != nil {
		s.fail(w, r, "update_budget", err)
		return
	}
	NewJSONResponse().Field("budget", b).Write(w)
}

func (s *Server) handleDeleteBudget(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	if err := s.budgets.DeleteBudget(r.Context(), r.PathValue("id"), owner); err != nil {
		s.fail(w, r, "delete_budget", err)
		return
	}
	NewJSONResponse().Message("budget deleted").Write(w)
}
