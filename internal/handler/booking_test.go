package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/tutorbook/internal/domain"
	"github.com/DukeRupert/tutorbook/internal/service"
)

type stubBookingService struct {
	admission *domain.Admission
	schedule  *service.Schedule
	err       error

	gotRequest domain.BookingRequest
}

func (s *stubBookingService) RequestBooking(ctx context.Context, req domain.BookingRequest) (*domain.Admission, error) {
	s.gotRequest = req
	if s.err != nil {
		return nil, s.err
	}
	return s.admission, nil
}

func (s *stubBookingService) GetSchedule(ctx context.Context, accountID uuid.UUID) (*service.Schedule, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.schedule, nil
}

func newBookingTestHandler(svc service.BookingService) *BookingHandler {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewBookingHandler(svc, logger)
}

func bookingBody() string {
	return `{
		"scheduledTime": "2024-06-05T15:00:00Z",
		"parentName": "Sam Rivera",
		"studentName": "Alex Rivera",
		"email": "sam@example.com",
		"grade": "7"
	}`
}

func TestRequestBooking_Admitted(t *testing.T) {
	bookingID := uuid.New()
	svc := &stubBookingService{
		admission: &domain.Admission{
			Booking: &domain.Booking{ID: bookingID},
			Bucket:  domain.BucketFreeSession,
		},
	}
	h := newBookingTestHandler(svc)

	accountID := uuid.New()
	req := httptest.NewRequest("POST", "/api/bookings", strings.NewReader(bookingBody()))
	req.Header.Set(accountIDHeader, accountID.String())
	rec := httptest.NewRecorder()

	h.RequestBooking(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp bookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Admitted)
	assert.Equal(t, bookingID.String(), resp.BookingID)
	assert.Equal(t, "free", resp.BucketConsumed)

	// The handler must pass the authenticated account, not anything from
	// the body.
	assert.Equal(t, accountID, svc.gotRequest.AccountID)
	assert.Equal(t, "Alex Rivera", svc.gotRequest.StudentName)
	assert.Equal(t, time.Date(2024, 6, 5, 15, 0, 0, 0, time.UTC), svc.gotRequest.ScheduledTime)
}

func TestRequestBooking_QuotaExceededIsNotAnErrorEnvelope(t *testing.T) {
	svc := &stubBookingService{err: domain.QuotaExceeded("booking.request")}
	h := newBookingTestHandler(svc)

	req := httptest.NewRequest("POST", "/api/bookings", strings.NewReader(bookingBody()))
	req.Header.Set(accountIDHeader, uuid.NewString())
	rec := httptest.NewRecorder()

	h.RequestBooking(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)

	var resp bookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Admitted)
	assert.Equal(t, "quota_exceeded", resp.Reason)
	assert.Empty(t, resp.BookingID)
}

func TestRequestBooking_ContentionReturns503(t *testing.T) {
	svc := &stubBookingService{err: domain.Contention(nil, "repository.TryConsume")}
	h := newBookingTestHandler(svc)

	req := httptest.NewRequest("POST", "/api/bookings", strings.NewReader(bookingBody()))
	req.Header.Set(accountIDHeader, uuid.NewString())
	rec := httptest.NewRecorder()

	h.RequestBooking(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "try again")
}

func TestRequestBooking_MissingIdentity(t *testing.T) {
	h := newBookingTestHandler(&stubBookingService{})

	req := httptest.NewRequest("POST", "/api/bookings", strings.NewReader(bookingBody()))
	rec := httptest.NewRecorder()

	h.RequestBooking(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestBooking_BadAccountID(t *testing.T) {
	h := newBookingTestHandler(&stubBookingService{})

	req := httptest.NewRequest("POST", "/api/bookings", strings.NewReader(bookingBody()))
	req.Header.Set(accountIDHeader, "not-a-uuid")
	rec := httptest.NewRecorder()

	h.RequestBooking(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestBooking_BadBody(t *testing.T) {
	h := newBookingTestHandler(&stubBookingService{})

	req := httptest.NewRequest("POST", "/api/bookings", strings.NewReader("{not json"))
	req.Header.Set(accountIDHeader, uuid.NewString())
	rec := httptest.NewRecorder()

	h.RequestBooking(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSchedule(t *testing.T) {
	upcoming := &domain.Booking{
		ID:            uuid.New(),
		ScheduledTime: time.Date(2024, 6, 7, 16, 0, 0, 0, time.UTC),
		StudentName:   "Alex Rivera",
		ConsumedFrom:  domain.BucketWeeklyAllowance,
	}
	svc := &stubBookingService{
		schedule: &service.Schedule{
			Account: &domain.Account{
				Plan:                  domain.PlanPro,
				WeeklyAllowance:       3,
				WeeklyRemaining:       2,
				FreeSessionsRemaining: 0,
			},
			Upcoming:       []*domain.Booking{upcoming},
			Past:           []*domain.Booking{},
			BookedThisWeek: 1,
		},
	}
	h := newBookingTestHandler(svc)

	req := httptest.NewRequest("GET", "/api/bookings", nil)
	req.Header.Set(accountIDHeader, uuid.NewString())
	rec := httptest.NewRecorder()

	h.GetSchedule(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp scheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "pro", resp.Plan)
	assert.Equal(t, 3, resp.WeeklyAllowance)
	assert.Equal(t, 2, resp.WeeklyRemaining)
	assert.Equal(t, 1, resp.BookedThisWeek)
	require.Len(t, resp.UpcomingClasses, 1)
	assert.Equal(t, "weekly", resp.UpcomingClasses[0].ConsumedFrom)
	assert.Empty(t, resp.PastClasses)
}
