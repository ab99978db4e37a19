// Package handler contains HTTP handlers for the tutorbook API.
//
// This file implements booking intake:
//
// Routes:
//   - POST /api/bookings -> RequestBooking
//   - GET  /api/bookings -> GetSchedule
//
// Authentication happens upstream: the fronting proxy verifies the session
// and forwards the account identity in the X-Account-ID header. These
// handlers only translate JSON to and from the booking service.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/tutorbook/internal/domain"
	"github.com/DukeRupert/tutorbook/internal/service"
)

// accountIDHeader carries the authenticated account identity, set by the
// fronting proxy.
const accountIDHeader = "X-Account-ID"

// BookingHandler handles booking admission HTTP requests.
type BookingHandler struct {
	bookings service.BookingService
	logger   *slog.Logger
}

// NewBookingHandler creates a new BookingHandler.
func NewBookingHandler(bookings service.BookingService, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		bookings: bookings,
		logger:   logger,
	}
}

// RegisterRoutes registers booking routes on the provided mux.
func (h *BookingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/bookings", h.RequestBooking)
	mux.HandleFunc("GET /api/bookings", h.GetSchedule)
}

type bookingRequest struct {
	ScheduledTime time.Time `json:"scheduledTime"`
	ParentName    string    `json:"parentName"`
	StudentName   string    `json:"studentName"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone"`
	Grade         string    `json:"grade"`
	Concerns      string    `json:"concerns"`
}

type bookingResponse struct {
	Admitted       bool   `json:"admitted"`
	BookingID      string `json:"bookingId,omitempty"`
	BucketConsumed string `json:"bucketConsumed,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// RequestBooking admits or rejects a booking request against the account's
// quota. Quota exhaustion is a regular response, not an error envelope.
func (h *BookingHandler) RequestBooking(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	var req bookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("booking.request", "invalid request body"))
		return
	}

	admission, err := h.bookings.RequestBooking(r.Context(), domain.BookingRequest{
		AccountID:     id,
		ScheduledTime: req.ScheduledTime,
		ParentName:    req.ParentName,
		StudentName:   req.StudentName,
		Email:         req.Email,
		Phone:         req.Phone,
		Grade:         req.Grade,
		Concerns:      req.Concerns,
	})
	if err != nil {
		if domain.ErrorCode(err) == domain.EQUOTA {
			writeJSON(w, http.StatusForbidden, bookingResponse{
				Admitted: false,
				Reason:   "quota_exceeded",
			})
			return
		}
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, bookingResponse{
		Admitted:       true,
		BookingID:      admission.Booking.ID.String(),
		BucketConsumed: bucketLabel(admission.Bucket),
	})
}

type scheduleResponse struct {
	Plan            string           `json:"plan"`
	WeeklyAllowance int              `json:"weeklyAllowance"`
	WeeklyRemaining int              `json:"weeklyRemaining"`
	FreeSessions    int              `json:"freeSessions"`
	BookedThisWeek  int              `json:"bookedThisWeek"`
	UpcomingClasses []bookingSummary `json:"upcomingClasses"`
	PastClasses     []bookingSummary `json:"pastClasses"`
}

type bookingSummary struct {
	ID            string    `json:"id"`
	ScheduledTime time.Time `json:"scheduledTime"`
	StudentName   string    `json:"studentName"`
	ConsumedFrom  string    `json:"consumedFrom"`
}

// GetSchedule returns the account's bookings and remaining quota.
func (h *BookingHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	schedule, err := h.bookings.GetSchedule(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := scheduleResponse{
		Plan:            string(schedule.Account.Plan),
		WeeklyAllowance: schedule.Account.WeeklyAllowance,
		WeeklyRemaining: schedule.Account.WeeklyRemaining,
		FreeSessions:    schedule.Account.FreeSessionsRemaining,
		BookedThisWeek:  schedule.BookedThisWeek,
		UpcomingClasses: toSummaries(schedule.Upcoming),
		PastClasses:     toSummaries(schedule.Past),
	}
	writeJSON(w, http.StatusOK, resp)
}

// accountID extracts the authenticated account identity from the request
// headers.
func accountID(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get(accountIDHeader)
	if raw == "" {
		return uuid.Nil, domain.Errorf(domain.EUNAUTHORIZED, "handler.accountID", "missing account identity")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.Invalid("handler.accountID", "invalid account id")
	}
	return id, nil
}

func toSummaries(bookings []*domain.Booking) []bookingSummary {
	out := make([]bookingSummary, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, bookingSummary{
			ID:            b.ID.String(),
			ScheduledTime: b.ScheduledTime,
			StudentName:   b.StudentName,
			ConsumedFrom:  bucketLabel(b.ConsumedFrom),
		})
	}
	return out
}

// bucketLabel maps internal bucket names to the wire labels.
func bucketLabel(b domain.Bucket) string {
	switch b {
	case domain.BucketFreeSession:
		return "free"
	case domain.BucketWeeklyAllowance:
		return "weekly"
	default:
		return string(b)
	}
}
