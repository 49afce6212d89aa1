package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"dormpay/internal/backend"
	"dormpay/internal/core"
	"dormpay/internal/log"
	"dormpay/internal/query"
)

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := s.backend.ListStudents(r.Context())
	writeResult(w, r, http.StatusOK, students, err)
}

func (s *Server) handleListDeletedStudents(w http.ResponseWriter, r *http.Request) {
	students, err := s.backend.ListDeletedStudents(r.Context())
	writeResult(w, r, http.StatusOK, students, err)
}

func (s *Server) handleGetStudent(w http.ResponseWriter, r *http.Request) {
	st, err := s.backend.GetStudent(r.Context(), r.PathValue("id"))
	writeResult(w, r, http.StatusOK, st, err)
}

func (s *Server) handleCreateStudent(w http.ResponseWriter, r *http.Request) {
	var fields core.StudentFields
	if err := decodeJSON(w, r, &fields); err != nil {
		NewResponseBuilder(w, r).Err(err)
		return
	}
	st, err := s.backend.CreateStudent(r.Context(), sanitizeFields(fields), core.DateOf(s.now()))
	if err == nil {
		log.FromContext(r.Context()).InfoContext(r.Context(), "Student created", log.FieldStudentID, st.ID)
	}
	writeResult(w, r, http.StatusCreated, st, err)
}

func (s *Server) handleUpdateStudent(w http.ResponseWriter, r *http.Request) {
	var fields core.StudentFields
	if err := decodeJSON(w, r, &fields); err != nil {
		NewResponseBuilder(w, r).Err(err)
		return
	}
	st, err := s.backend.UpdateStudent(r.Context(), r.PathValue("id"), sanitizeFields(fields))
	writeResult(w, r, http.StatusOK, st, err)
}

func (s *Server) handleSoftDeleteStudent(w http.ResponseWriter, r *http.Request) {
	st, err := s.backend.SoftDeleteStudent(r.Context(), r.PathValue("id"), s.now())
	writeResult(w, r, http.StatusOK, st, err)
}

func (s *Server) handleRestoreStudent(w http.ResponseWriter, r *http.Request) {
	st, err := s.backend.RestoreStudent(r.Context(), r.PathValue("id"))
	writeResult(w, r, http.StatusOK, st, err)
}

func (s *Server) handleDeleteStudent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.backend.DeleteStudent(r.Context(), id); err != nil {
		NewResponseBuilder(w, r).Err(err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Student deleted", log.FieldStudentID, id)
	NewResponseBuilder(w, r).Text(http.StatusOK, "Student deleted successfully")
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := s.backend.ListPayments(r.Context(), r.PathValue("id"))
	writeResult(w, r, http.StatusOK, payments, err)
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req core.PaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		NewResponseBuilder(w, r).Err(err)
		return
	}
	req.StudentID = sanitizeInput(req.StudentID)
	req.Month = sanitizeInput(req.Month)
	if req.Date.IsZero() {
		req.Date = core.DateOf(s.now())
	}
	if err := req.Validate(); err != nil {
		NewResponseBuilder(w, r).Err(err)
		return
	}
	p, err := s.backend.CreatePayment(r.Context(), req)
	if err == nil {
		log.FromContext(r.Context()).InfoContext(r.Context(), "Payment created",
			log.FieldPaymentID, p.ID, log.FieldStudentID, p.StudentID, log.FieldAmount, p.Amount.String())
	}
	writeResult(w, r, http.StatusCreated, p, err)
}

// handleConfirmPayment is idempotent: confirming twice succeeds.
func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.ConfirmPayment(r.Context(), r.PathValue("id")); err != nil {
		NewResponseBuilder(w, r).Err(err)
		return
	}
	NewResponseBuilder(w, r).Text(http.StatusOK, "Payment confirmed successfully")
}

func (s *Server) handleDeletePayment(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.DeletePayment(r.Context(), r.PathValue("id")); err != nil {
		NewResponseBuilder(w, r).Err(err)
		return
	}
	NewResponseBuilder(w, r).Text(http.StatusOK, "Payment deleted successfully")
}

func (s *Server) handleCreateReceipt(w http.ResponseWriter, r *http.Request) {
	var req core.ReceiptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		NewResponseBuilder(w, r).Err(err)
		return
	}
	req.PaymentID = sanitizeInput(req.PaymentID)
	req.ReceiptNo = sanitizeInput(req.ReceiptNo)
	req.CopyType = sanitizeInput(req.CopyType)
	if req.CopyType == "" {
		req.CopyType = core.CopyTypeStudent
	}
	if err := req.Validate(); err != nil {
		NewResponseBuilder(w, r).Err(err)
		return
	}
	rec, err := s.backend.CreateReceipt(r.Context(), req)
	if err == nil {
		log.FromContext(r.Context()).InfoContext(r.Context(), "Receipt created",
			log.FieldReceiptID, rec.ID, log.FieldReceiptNo, rec.ReceiptNo, log.FieldPaymentID, rec.PaymentID)
	}
	writeResult(w, r, http.StatusCreated, rec, err)
}

func (s *Server) handleReceiptByPayment(w http.ResponseWriter, r *http.Request) {
	rec, err := s.backend.ReceiptByPayment(r.Context(), r.PathValue("id"))
	writeResult(w, r, http.StatusOK, rec, err)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	rec, err := s.backend.GetReceipt(r.Context(), r.PathValue("id"))
	writeResult(w, r, http.StatusOK, rec, err)
}

func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.DeleteReceipt(r.Context(), r.PathValue("id")); err != nil {
		NewResponseBuilder(w, r).Err(err)
		return
	}
	NewResponseBuilder(w, r).Text(http.StatusOK, "Receipt deleted successfully")
}

// handleSummary serves the reports summary for the current month, or for
// the month named by the year and month query parameters.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	now := ParseMonthParams(r, s.now())
	summary, err := s.summary(r.Context(), now)
	if err == nil {
		w.Header().Set("X-Reports-Month", now.Format("2006-01"))
	}
	writeResult(w, r, http.StatusOK, summary, err)
}

func (s *Server) summary(ctx context.Context, now time.Time) (core.ReportsSummary, error) {
	if sr, ok := s.backend.(backend.SummaryReader); ok {
		summary, err := sr.Summary(ctx, now)
		if err != nil {
			return core.ReportsSummary{}, fmt.Errorf("read summary: %w", err)
		}
		return summary, nil
	}
	students, err := s.backend.ListStudents(ctx)
	if err != nil {
		return core.ReportsSummary{}, fmt.Errorf("list students: %w", err)
	}
	for i := range students {
		payments, err := s.backend.ListPayments(ctx, students[i].ID)
		if err != nil {
			return core.ReportsSummary{}, fmt.Errorf("list payments for student %s: %w", students[i].ID, err)
		}
		students[i].Payments = payments
	}
	return query.ComputeReports(students, now), nil
}

func writeResult(w http.ResponseWriter, r *http.Request, status int, v any, err error) {
	rb := NewResponseBuilder(w, r)
	if err != nil {
		rb.Err(err)
		return
	}
	rb.JSON(status, v)
}
