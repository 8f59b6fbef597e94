package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types published after a commit.
const (
	EventAppointmentBooked    = "appointment.booked"
	EventAppointmentCancelled = "appointment.cancelled"
	EventAvailabilityDeclared = "availability.declared"
)

type Service struct {
	availability AvailabilityRepository
	appointments AppointmentRepository
	tx           TxRunner
	cache        Cache
	events       EventPublisher
	metrics      Metrics
	logger       zerolog.Logger
}

type Option func(*Service)

// WithCache serves week availability reads through c.
func WithCache(c Cache) Option { return func(s *Service) { s.cache = c } }

// WithEvents publishes booking events to p.
func WithEvents(p EventPublisher) Option { return func(s *Service) { s.events = p } }

// WithMetrics counts booking and cancellation outcomes in m.
func WithMetrics(m Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

func NewService(avail AvailabilityRepository, appt AppointmentRepository, tx TxRunner, opts ...Option) *Service {
	s := &Service{availability: avail, appointments: appt, tx: tx, logger: zerolog.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// -- Booking --

// BookSlots books each request independently, in order. A failed request does
// not stop the batch; its error is in its own result.
//
// reference is "today" stripped with StartOfDay.
func (s *Service) BookSlots(ctx context.Context, requests []BookingRequest, reference time.Time) []BookingResult {
	results := make([]BookingResult, len(requests))
	for i, req := range requests {
		appt, err := s.book(ctx, req, reference)
		s.count(MetricBookings, err)
		results[i] = BookingResult{Request: req, Appointment: appt, Err: err}
	}
	return results
}

func (s *Service) book(ctx context.Context, req BookingRequest, reference time.Time) (*Appointment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	end := NextHalfHour(req.StartTime)
	date := ResolveDate(reference, req.Weekday, req.WeekOffset)

	var booked *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		doctorID := req.Doctor.DoctorID
		if req.Doctor.Any {
			open, err := s.availability.FindFirstOpen(ctx, req.Weekday, req.StartTime, date)
			if err != nil {
				return fmt.Errorf("resolve doctor for %s on %s: %w", req.StartTime, date.Format(time.DateOnly), err)
			}
			doctorID = open.DoctorID
		}

		n, err := s.availability.DeleteOne(ctx, doctorID, req.StartTime, date)
		if err != nil {
			return fmt.Errorf("delete availability: %w", err)
		}
		if n == 0 {
			return s.missingSlot(ctx, doctorID, req.StartTime, date)
		}

		appt := &Appointment{
			Weekday:   req.Weekday,
			StartTime: req.StartTime,
			EndTime:   end,
			DoctorID:  doctorID,
			PatientID: req.PatientID,
			Date:      date,
		}
		if err := s.appointments.Insert(ctx, appt); err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		booked = appt
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).
			Str("doctor", req.Doctor.String()).
			Str("patient_id", req.PatientID).
			Str("start_time", string(req.StartTime)).
			Str("date", date.Format(time.DateOnly)).
			Msg("booking rejected")
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", booked.ID.String()).
		Str("doctor_id", booked.DoctorID).
		Str("patient_id", booked.PatientID).
		Str("start_time", string(booked.StartTime)).
		Str("date", booked.Date.Format(time.DateOnly)).
		Msg("appointment booked")
	s.invalidateWeek(ctx, booked.DoctorID, booked.Date)
	s.publish(ctx, EventAppointmentBooked, booked)
	return booked, nil
}

// missingSlot explains a delete that removed nothing: the slot is either
// already booked or was never declared open.
func (s *Service) missingSlot(ctx context.Context, doctorID string, start Label, date time.Time) error {
	where := fmt.Sprintf("doctor %s at %s on %s", doctorID, start, date.Format(time.DateOnly))
	_, err := s.appointments.FindBySlot(ctx, doctorID, start, date)
	switch {
	case err == nil:
		return fmt.Errorf("%s: %w", where, ErrConflict)
	case errors.Is(err, ErrNotFound):
		return fmt.Errorf("%s has no open slot: %w", where, ErrNotFound)
	default:
		return fmt.Errorf("check appointment for %s: %w", where, err)
	}
}

// -- Cancellation --

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.appointments.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("appointment %s: %w", id, err)
	}
	return appt, nil
}

// CancelAppointment deletes the appointment and puts its slot back on offer.
// The restored slot gets a new id.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID) (*AvailabilitySlot, error) {
	var (
		cancelled *Appointment
		restored  *AvailabilitySlot
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		appt, err := s.appointments.FindByID(ctx, id)
		if err != nil {
			return fmt.Errorf("appointment %s: %w", id, err)
		}
		n, err := s.appointments.DeleteByID(ctx, id)
		if err != nil {
			return fmt.Errorf("delete appointment: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("appointment %s: %w", id, ErrNotFound)
		}
		slot := appt.availability()
		if err := s.availability.Insert(ctx, slot); err != nil {
			return fmt.Errorf("restore availability: %w", err)
		}
		cancelled, restored = appt, slot
		return nil
	})
	s.count(MetricCancellations, err)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("doctor_id", cancelled.DoctorID).
		Str("patient_id", cancelled.PatientID).
		Str("start_time", string(cancelled.StartTime)).
		Str("date", cancelled.Date.Format(time.DateOnly)).
		Msg("appointment cancelled")
	s.invalidateWeek(ctx, restored.DoctorID, restored.Date)
	s.publish(ctx, EventAppointmentCancelled, cancelled)
	return restored, nil
}

// -- Availability --

// DeclareAvailability opens the given half-hours for doctorID in the week
// weekOffset away from reference. Entries already open or already booked are
// skipped; the slots actually created are returned.
func (s *Service) DeclareAvailability(ctx context.Context, doctorID string, weekOffset int, entries []AvailabilityEntry, reference time.Time) ([]*AvailabilitySlot, error) {
	doctorID = strings.TrimSpace(doctorID)
	if err := Doctor(doctorID).validate(); err != nil {
		return nil, err
	}
	if err := validWeekOffset(weekOffset); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no slots given: %w", ErrInvalidInput)
	}
	for _, e := range entries {
		if _, err := ParseLabel(string(e.StartTime)); err != nil {
			return nil, err
		}
		if !ValidWeekday(e.Weekday) {
			return nil, fmt.Errorf("weekday %d: %w", e.Weekday, ErrInvalidInput)
		}
	}

	var created []*AvailabilitySlot
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		seen := make(map[AvailabilityEntry]bool, len(entries))
		for _, e := range entries {
			if seen[e] {
				continue
			}
			seen[e] = true

			date := ResolveDate(reference, e.Weekday, weekOffset)
			taken, err := s.slotTaken(ctx, doctorID, e.StartTime, date)
			if err != nil {
				return err
			}
			if taken {
				continue
			}
			slot := &AvailabilitySlot{
				Weekday:   e.Weekday,
				StartTime: e.StartTime,
				EndTime:   NextHalfHour(e.StartTime),
				DoctorID:  doctorID,
				Date:      date,
			}
			// A concurrent declaration or cancellation may have opened it
			// since the check.
			inserted, err := s.availability.InsertIfAbsent(ctx, slot)
			if err != nil {
				return fmt.Errorf("insert availability: %w", err)
			}
			if inserted {
				created = append(created, slot)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	start, _ := WeekBounds(reference, weekOffset)
	s.logger.Info().
		Str("doctor_id", doctorID).
		Int("week_offset", weekOffset).
		Int("requested", len(entries)).
		Int("created", len(created)).
		Msg("availability declared")
	s.invalidateWeek(ctx, doctorID, start)
	if len(created) > 0 {
		s.publish(ctx, EventAvailabilityDeclared, created)
	}
	return created, nil
}

func (s *Service) slotTaken(ctx context.Context, doctorID string, start Label, date time.Time) (bool, error) {
	if _, err := s.availability.FindOne(ctx, doctorID, start, date); err == nil {
		return true, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("find availability: %w", err)
	}
	if _, err := s.appointments.FindBySlot(ctx, doctorID, start, date); err == nil {
		return true, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("find appointment: %w", err)
	}
	return false, nil
}

// -- Week views --

// WeekAvailability lists open slots in the target week, ordered by date, time
// and doctor.
func (s *Service) WeekAvailability(ctx context.Context, doctor DoctorSelector, weekOffset int, reference time.Time) ([]*AvailabilitySlot, error) {
	if err := doctor.validate(); err != nil {
		return nil, err
	}
	if err := validWeekOffset(weekOffset); err != nil {
		return nil, err
	}
	start, end := WeekBounds(reference, weekOffset)

	// The version is read before the store so a write that raced with an
	// invalidation lands under a key no later reader uses.
	key, cacheable := s.weekKey(ctx, doctor.String(), start)
	if cacheable {
		var cached []*AvailabilitySlot
		hit, err := s.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("availability cache read failed")
		} else if hit {
			return cached, nil
		}
	}

	slots, err := s.availability.FindByWeek(ctx, doctor, start, end)
	if err != nil {
		return nil, fmt.Errorf("find availability: %w", err)
	}
	sortSlots(slots)

	if cacheable {
		if err := s.cache.SetJSON(ctx, key, slots); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("availability cache write failed")
		}
	}
	return slots, nil
}

// WeekAppointments lists a doctor's or a patient's appointments in the week.
func (s *Service) WeekAppointments(ctx context.Context, party Party, weekOffset int, reference time.Time) ([]*Appointment, error) {
	if err := party.validate(); err != nil {
		return nil, err
	}
	if err := validWeekOffset(weekOffset); err != nil {
		return nil, err
	}
	start, end := WeekBounds(reference, weekOffset)
	appts, err := s.appointments.FindByWeek(ctx, party, start, end)
	if err != nil {
		return nil, fmt.Errorf("find appointments: %w", err)
	}
	sort.SliceStable(appts, func(i, j int) bool {
		a, b := appts[i], appts[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.StartTime != b.StartTime {
			return a.StartTime.MinuteOfDay() < b.StartTime.MinuteOfDay()
		}
		return a.DoctorID < b.DoctorID
	})
	return appts, nil
}

// -- side effects --

// Counter names recorded through WithMetrics, labelled by outcome.
const (
	MetricBookings      = "scheduling_bookings_total"
	MetricCancellations = "scheduling_cancellations_total"
)

func (s *Service) count(name string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = errorCode(err)
	}
	s.metrics.Inc(name, map[string]string{"outcome": outcome})
}

func weekVersionKey(doctor string, weekStart time.Time) string {
	return "scheduling:availability:version:" + doctor + ":" + weekStart.Format(time.DateOnly)
}

func weekCacheKey(doctor string, weekStart time.Time, version int64) string {
	return "scheduling:availability:" + doctor + ":" + weekStart.Format(time.DateOnly) + ":v" + strconv.FormatInt(version, 10)
}

// weekKey returns the cache key for the current version of a week view.
// It reports false when there is no cache or the version cannot be read.
func (s *Service) weekKey(ctx context.Context, doctor string, weekStart time.Time) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	var version int64
	vkey := weekVersionKey(doctor, weekStart)
	if _, err := s.cache.GetJSON(ctx, vkey, &version); err != nil {
		s.logger.Warn().Err(err).Str("key", vkey).Msg("availability cache version read failed")
		return "", false
	}
	return weekCacheKey(doctor, weekStart, version), true
}

// invalidateWeek bumps the version of the week of date for the doctor and
// for the AllDoctors view. Failures are logged; the cache TTL bounds
// staleness.
func (s *Service) invalidateWeek(ctx context.Context, doctorID string, date time.Time) {
	if s.cache == nil {
		return
	}
	start := WeekStartOf(date)
	for _, doctor := range []string{doctorID, AllDoctors} {
		key := weekVersionKey(doctor, start)
		if _, err := s.cache.Incr(ctx, key); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("availability cache invalidation failed")
		}
	}
}

func (s *Service) publish(ctx context.Context, eventType string, payload interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("event publish failed")
	}
}

func sortSlots(slots []*AvailabilitySlot) {
	sort.SliceStable(slots, func(i, j int) bool {
		a, b := slots[i], slots[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.StartTime != b.StartTime {
			return a.StartTime.MinuteOfDay() < b.StartTime.MinuteOfDay()
		}
		return a.DoctorID < b.DoctorID
	})
}
