package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"dormpay/internal/core"
	"dormpay/internal/export"
	"dormpay/internal/log"
	"dormpay/internal/query"
	"dormpay/internal/reports"
)

type stateResponse struct {
	Active  []core.Student `json:"active"`
	Deleted []core.Student `json:"deleted"`
	Loading bool           `json:"loading"`
	Error   string         `json:"error,omitempty"`
}

type summaryResponse struct {
	Summary query.Summary `json:"summary"`
	Daily   query.Daily   `json:"daily"`
}

// studentCard is a student with the figures the dashboard shows next to it.
type studentCard struct {
	core.Student
	Active         bool           `json:"active"`
	TotalConfirmed core.Money     `json:"totalConfirmed"`
	LastPayment    *core.Payment  `json:"lastPayment,omitempty"`
	Pending        []core.Payment `json:"pending"`
}

type reportsResponse struct {
	Summary core.ReportsSummary `json:"summary"`
	Source  reports.Source      `json:"source"`
	Error   string              `json:"error,omitempty"`
}

type confirmResponse struct {
	Payment core.Payment  `json:"payment"`
	Receipt *core.Receipt `json:"receipt,omitempty"`
	Warning string        `json:"warning,omitempty"`
}

func (s *Server) stateView() stateResponse {
	return stateResponse{
		Active:  s.store.Active(),
		Deleted: s.store.Deleted(),
		Loading: s.store.Loading(),
		Error:   s.store.Err(),
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.stateView())
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	active, now := s.store.Active(), s.now()
	writeJSON(w, r, http.StatusOK, summaryResponse{
		Summary: query.Summarize(active, now),
		Daily:   query.DailyTotal(active, now),
	})
}

// handleStudents lists one view filtered by q and sorted by sort/order.
// deleted=true selects the soft-deleted view.
func (s *Server) handleStudents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list := s.store.Active()
	if deleted, _ := strconv.ParseBool(q.Get("deleted")); deleted {
		list = s.store.Deleted()
	}
	list = query.Select(list, q.Get("q"), query.ParseSortField(q.Get("sort")), query.ParseSortOrder(q.Get("order")))

	now := s.now()
	cards := make([]studentCard, 0, len(list))
	for _, st := range list {
		card := studentCard{
			Student:        st,
			Active:         query.IsActive(st, now),
			TotalConfirmed: query.TotalConfirmed(st),
			Pending:        query.PendingPayments(st),
		}
		if card.Pending == nil {
			card.Pending = []core.Payment{}
		}
		if p, ok := query.LastConfirmedPayment(st); ok {
			card.LastPayment = &p
		}
		cards = append(cards, card)
	}
	writeJSON(w, r, http.StatusOK, cards)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	st, _, ok := s.store.Student(r.PathValue("id"))
	if !ok {
		writeStoreError(w, r, fmt.Errorf("history: %w", core.ErrStudentNotFound))
		return
	}
	writeJSON(w, r, http.StatusOK, query.History(st, s.now()))
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	summary, source := s.reports.Summary()
	writeJSON(w, r, http.StatusOK, reportsResponse{Summary: summary, Source: source, Error: s.reports.Err()})
}

// handleRefresh reloads the store and the server summary. A summary failure
// is reported through /dashboard/reports and does not fail the refresh.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Refresh(r.Context()); err != nil {
		writeStoreError(w, r, err)
		return
	}
	if err := s.reports.Load(r.Context()); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Reports summary unavailable, using local figures", log.FieldError, err)
	}
	s.receipts.Purge()
	writeJSON(w, r, http.StatusOK, s.stateView())
}

func (s *Server) handleExportStudents(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	s.writeCSV(w, r, export.FileName("students", now), export.StudentRows(s.store.Active(), now))
}

func (s *Server) handleExportReports(w http.ResponseWriter, r *http.Request) {
	summary, _ := s.reports.Summary()
	now := s.now()
	s.writeCSV(w, r, export.FileName("reports", now), export.SummaryRows(summary, now))
}

func (s *Server) writeCSV(w http.ResponseWriter, r *http.Request, name string, rows [][]string) {
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, rows); err != nil {
		writeStoreError(w, r, fmt.Errorf("export csv: %w", err))
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleExportSheets writes the student report (or the summary with
// kind=reports) to the configured spreadsheet.
func (s *Server) handleExportSheets(w http.ResponseWriter, r *http.Request) {
	if s.sheets == nil {
		writeError(w, r, http.StatusServiceUnavailable, "sheets export is not configured")
		return
	}
	now := s.now()
	kind := r.URL.Query().Get("kind")
	var rows [][]string
	switch kind {
	case "", "students":
		kind = "students"
		rows = export.StudentRows(s.store.Active(), now)
	case "reports":
		summary, _ := s.reports.Summary()
		rows = export.SummaryRows(summary, now)
	default:
		writeError(w, r, http.StatusBadRequest, "kind must be students or reports")
		return
	}
	if err := s.sheets.WriteRows(r.Context(), rows); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Sheets export failed",
			log.FieldOperation, log.OpExport, log.FieldError, err)
		writeError(w, r, http.StatusBadGateway, "sheets export failed")
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Sheets export written",
		log.FieldOperation, log.OpExport, "kind", kind, log.FieldCount, len(rows))
	writeJSON(w, r, http.StatusOK, map[string]any{"kind": kind, "rows": len(rows)})
}

func (s *Server) handleAddStudent(w http.ResponseWriter, r *http.Request) {
	var fields core.StudentFields
	if err := decodeJSON(w, r, &fields); err != nil {
		writeStoreError(w, r, err)
		return
	}
	st, err := s.store.AddStudent(r.Context(), fields)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, st)
}

func (s *Server) handleUpdateStudent(w http.ResponseWriter, r *http.Request) {
	st, _, ok := s.store.Student(r.PathValue("id"))
	if !ok {
		writeStoreError(w, r, fmt.Errorf("update student: %w", core.ErrStudentNotFound))
		return
	}
	var fields core.StudentFields
	if err := decodeJSON(w, r, &fields); err != nil {
		writeStoreError(w, r, err)
		return
	}
	st.StudentFields = fields
	updated, err := s.store.UpdateStudent(r.Context(), st)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

// handleDeleteStudent soft-deletes an active student and permanently
// deletes a soft-deleted one.
func (s *Server) handleDeleteStudent(w http.ResponseWriter, r *http.Request) {
	st, _, ok := s.store.Student(r.PathValue("id"))
	if !ok {
		writeStoreError(w, r, fmt.Errorf("delete student: %w", core.ErrStudentNotFound))
		return
	}
	if err := s.store.DeleteStudent(r.Context(), st); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestoreStudent(w http.ResponseWriter, r *http.Request) {
	st, _, ok := s.store.Student(r.PathValue("id"))
	if !ok {
		writeStoreError(w, r, fmt.Errorf("restore student: %w", core.ErrStudentNotFound))
		return
	}
	restored, err := s.store.RestoreStudent(r.Context(), st)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, restored)
}

// amountBody accepts the amount as a JSON number or as a string with a dot
// or comma separator.
type amountBody struct {
	Amount json.RawMessage `json:"amount"`
}

func (b amountBody) money() (core.Money, error) {
	raw := bytes.TrimSpace(b.Amount)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return core.Money{}, fmt.Errorf("%w: %v", errMalformedBody, err)
		}
		raw = []byte(s)
	}
	m, err := core.ParseMoney(string(raw))
	if err != nil {
		return core.Money{}, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return m, nil
}

func (s *Server) handleAddPayment(w http.ResponseWriter, r *http.Request) {
	var body amountBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeStoreError(w, r, err)
		return
	}
	amount, err := body.money()
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	p, err := s.store.AddPayment(r.Context(), r.PathValue("id"), amount)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, p)
}

func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := r.PathValue("pid")
	res, err := s.store.ConfirmPayment(r.Context(), r.PathValue("sid"), paymentID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.receipts.Delete(paymentID)
	resp := confirmResponse{Payment: res.Payment, Receipt: res.Receipt}
	if res.Receipt != nil {
		s.receipts.Set(paymentID, *res.Receipt)
	}
	if res.Warning != nil {
		resp.Warning = res.Warning.Error()
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleDeletePayment(w http.ResponseWriter, r *http.Request) {
	paymentID := r.PathValue("pid")
	if err := s.store.DeletePayment(r.Context(), r.PathValue("sid"), paymentID); err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.receipts.Delete(paymentID)
	w.WriteHeader(http.StatusNoContent)
}

// handleReceipt serves a payment's receipt, from the cache when fresh.
func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	paymentID := r.PathValue("id")
	if rec, ok := s.receipts.Get(paymentID); ok {
		w.Header().Set("X-Cache", "HIT")
		writeJSON(w, r, http.StatusOK, rec)
		return
	}
	rec, err := s.store.Receipt(r.Context(), paymentID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.receipts.Set(paymentID, rec)
	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, r, http.StatusOK, rec)
}
