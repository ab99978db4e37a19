package domain

import (
	"time"

	"github.com/google/uuid"
)

// Bucket identifies which quota bucket a booking was charged against.
type Bucket string

const (
	BucketFreeSession     Bucket = "free_session"
	BucketWeeklyAllowance Bucket = "weekly_allowance"
)

// Booking represents an admitted class booking. Every booking records the
// bucket it consumed so a cancellation can restore the right one.
type Booking struct {
	ID            uuid.UUID
	AccountID     uuid.UUID
	ScheduledTime time.Time
	ConsumedFrom  Bucket

	// Intake metadata, passed through unvalidated. Shape validation happens
	// upstream of admission.
	ParentName  string
	StudentName string
	Email       string
	Phone       string
	Grade       string
	Concerns    string

	CreatedAt time.Time
}

// Admission is the outcome of a booking admission decision.
type Admission struct {
	Booking *Booking
	Bucket  Bucket
}

// BookingRequest carries the intake fields for a booking admission call.
type BookingRequest struct {
	AccountID     uuid.UUID
	ScheduledTime time.Time
	ParentName    string
	StudentName   string
	Email         string
	Phone         string
	Grade         string
	Concerns      string
}
