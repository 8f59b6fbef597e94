package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AvailabilityRepository stores open slots. Lookups that find nothing return
// an error wrapping ErrNotFound.
type AvailabilityRepository interface {
	FindByWeek(ctx context.Context, doctor DoctorSelector, weekStart, weekEnd time.Time) ([]*AvailabilitySlot, error)
	FindOne(ctx context.Context, doctorID string, start Label, date time.Time) (*AvailabilitySlot, error)
	// FindFirstOpen resolves the AllDoctors selector: the first slot matching
	// (weekday, start, date) in the store's natural order.
	FindFirstOpen(ctx context.Context, weekday int, start Label, date time.Time) (*AvailabilitySlot, error)
	// DeleteOne reports how many rows it removed so a vanished slot is visible.
	DeleteOne(ctx context.Context, doctorID string, start Label, date time.Time) (int64, error)
	Insert(ctx context.Context, s *AvailabilitySlot) error
	// InsertIfAbsent reports false, with no error, when the slot is already
	// open for that doctor.
	InsertIfAbsent(ctx context.Context, s *AvailabilitySlot) (bool, error)
}

type AppointmentRepository interface {
	FindByWeek(ctx context.Context, party Party, weekStart, weekEnd time.Time) ([]*Appointment, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	FindBySlot(ctx context.Context, doctorID string, start Label, date time.Time) (*Appointment, error)
	Insert(ctx context.Context, a *Appointment) error
	DeleteByID(ctx context.Context, id uuid.UUID) (int64, error)
}

// TxRunner runs fn so that every repository call made with the context it
// receives commits or rolls back together.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Cache holds week availability reads. Implementations encode values as JSON;
// Incr stores a plain integer that GetJSON decodes.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, v interface{}) error
	Incr(ctx context.Context, key string) (int64, error)
}

// EventPublisher announces committed bookings and cancellations.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}) error
}

// Metrics counts operation outcomes.
type Metrics interface {
	Inc(name string, labels map[string]string)
}
