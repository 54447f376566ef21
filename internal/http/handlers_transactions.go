package http

import (
	"net/http"

	"fintrack/internal/core"
	applog "fintrack/internal/log"
	"fintrack/internal/services"
)

type transactionRequest struct {
	Amount      core.Money `json:"amount"`
	Type        string     `json:"type"`
	TagID       *string    `json:"tag_id"`
	GeopointID  *string    `json:"geopoint_id"`
	Description string     `json:"description"`
	Date        *string    `json:"date"`
}

// toInput parses the enum and date at the boundary; amount positivity is
// checked by the service.
func (req transactionRequest) toInput() (services.TransactionInput, error) {
	typ, err := core.ParseTransactionType(req.Type)
	if err != nil {
		return services.TransactionInput{}, err
	}
	date, err := parseOptionalDate(req.Date)
	if err != nil {
		return services.TransactionInput{}, err
	}
	return services.TransactionInput{
		Amount:      req.Amount,
		Type:        typ,
		TagID:       req.TagID,
		GeopointID:  req.GeopointID,
		Description: sanitizeInput(req.Description),
		Date:        date,
	}, nil
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, applog.OpCreate, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		s.fail(w, r, applog.OpCreate, err)
		return
	}

	res, err := s.ledger.CreateTransaction(r.Context(), owner, in)
	if err != nil {
		s.fail(w, r, applog.OpCreate, err)
		return
	}

	s.access.LogLedgerWrite(r.Context(), applog.OpCreate, owner, res.Transaction.ID,
		string(res.Transaction.Type), res.Transaction.Amount.String(), res.Balance.String())
	NewJSONResponse().
		Status(http.StatusCreated).
		Message("transaction created").
		Field("transaction", res.Transaction).
		Field("balance", res.Balance).
		Write(w)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	filter, err := parseTransactionFilter(r.URL.Query())
	if err != nil {
		s.fail(w, r, applog.OpList, err)
		return
	}

	page, err := s.ledger.ListTransactions(r.Context(), owner, filter)
	if err != nil {
		s.fail(w, r, applog.OpList, err)
		return
	}

	txs := page.Transactions
	if txs == nil {
		txs = []core.Transaction{}
	}
	NewJSONResponse().
		Field("transactions", txs).
		Field("pagination", map[string]any{
			"total":   page.Total,
			"limit":   page.Limit,
			"offset":  page.Offset,
			"hasMore": page.Offset+len(txs) < page.Total,
		}).
		Write(w)
}

// handleMonthlyStats compares the month containing ?date= (default today)
// with the month before it.
func (s *Server) handleMonthlyStats(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	ref := s.now().UTC()
	if v := r.URL.Query().Get("date"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			s.fail(w, r, applog.OpStats, err)
			return
		}
		ref = t
	}

	stats, err := s.ledger.MonthlyStatistics(r.Context(), owner, ref)
	if err != nil {
		s.fail(w, r, applog.OpStats, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	tx, err := s.ledger.GetTransaction(r.Context(), r.PathValue("id"), owner)
	if err != nil {
		s.fail(w, r, applog.OpRead, err)
		return
	}
	NewJSONResponse().Field("transaction", tx).Write(w)
}

// handleUpdateTransaction replaces every field of the transaction; an absent
// date keeps the stored one.
func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, applog.OpUpdate, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		s.fail(w, r, applog.OpUpdate, err)
		return
	}

	res, err := s.ledger.UpdateTransaction(r.Context(), r.PathValue("id"), owner, in)
	if err != nil {
		s.fail(w, r, applog.OpUpdate, err)
		return
	}

	s.access.LogLedgerWrite(r.Context(), applog.OpUpdate, owner, res.Transaction.ID,
		string(res.Transaction.Type), res.Transaction.Amount.String(), res.Balance.String())
	NewJSONResponse().
		Message("transaction updated").
		Field("transaction", res.Transaction).
		Field("balance", res.Balance).
		Write(w)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerID(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	balance, err := s.ledger.DeleteTransaction(r.Context(), id, owner)
	if err != nil {
		s.fail(w, r, applog.OpDelete, err)
		return
	}

	s.access.LogLedgerWrite(r.Context(), applog.OpDelete, owner, id, "", "", balance.String())
	NewJSONResponse().
		Message("transaction deleted").
		Field("balance", balance).
		Write(w)
}
