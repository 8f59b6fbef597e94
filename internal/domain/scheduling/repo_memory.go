package scheduling

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memTxKey struct{}

type slotKey struct {
	doctorID string
	date     string
	start    Label
}

func keyOf(doctorID string, start Label, date time.Time) slotKey {
	return slotKey{doctorID: doctorID, date: date.Format(time.DateOnly), start: start}
}

type memSlot struct {
	slot AvailabilitySlot
	seq  uint64
}

// MemoryStore keeps availability and appointments in process. Transactions
// are serialized behind a single mutex and roll back by restoring a snapshot.
// It backs STORE=memory and the package tests.
type MemoryStore struct {
	mu     sync.Mutex
	now    func() time.Time
	seq    uint64
	slots  map[slotKey]memSlot
	appts  map[uuid.UUID]Appointment
	bySlot map[slotKey]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:    time.Now,
		slots:  make(map[slotKey]memSlot),
		appts:  make(map[uuid.UUID]Appointment),
		bySlot: make(map[slotKey]uuid.UUID),
	}
}

func (m *MemoryStore) Availability() AvailabilityRepository { return memAvailability{m} }

func (m *MemoryStore) Appointments() AppointmentRepository { return memAppointments{m} }

// WithinTx implements TxRunner. Nested calls join the outer transaction.
func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) == m {
		return fn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	slots := make(map[slotKey]memSlot, len(m.slots))
	for k, v := range m.slots {
		slots[k] = v
	}
	appts := make(map[uuid.UUID]Appointment, len(m.appts))
	for k, v := range m.appts {
		appts[k] = v
	}
	bySlot := make(map[slotKey]uuid.UUID, len(m.bySlot))
	for k, v := range m.bySlot {
		bySlot[k] = v
	}

	// Restore on error and on panic; Unlock runs after this.
	committed := false
	defer func() {
		if !committed {
			m.slots, m.appts, m.bySlot = slots, appts, bySlot
		}
	}()

	if err := fn(context.WithValue(ctx, memTxKey{}, m)); err != nil {
		return err
	}
	committed = true
	return nil
}

// locked runs fn holding the store mutex unless ctx is inside WithinTx,
// which already holds it.
func (m *MemoryStore) locked(ctx context.Context, fn func()) {
	if ctx.Value(memTxKey{}) != m {
		m.mu.Lock()
		defer m.mu.Unlock()
	}
	fn()
}

// =========== Availability ===========

type memAvailability struct{ m *MemoryStore }

func inWeek(date, start, end time.Time) bool {
	return !date.Before(start) && !date.After(end)
}

func (r memAvailability) FindByWeek(ctx context.Context, doctor DoctorSelector, weekStart, weekEnd time.Time) ([]*AvailabilitySlot, error) {
	var out []*AvailabilitySlot
	r.m.locked(ctx, func() {
		for _, ms := range r.m.slots {
			if !doctor.Any && ms.slot.DoctorID != doctor.DoctorID {
				continue
			}
			if !inWeek(ms.slot.Date, weekStart, weekEnd) {
				continue
			}
			s := ms.slot
			out = append(out, &s)
		}
	})
	return out, nil
}

func (r memAvailability) FindOne(ctx context.Context, doctorID string, start Label, date time.Time) (*AvailabilitySlot, error) {
	var (
		ms memSlot
		ok bool
	)
	r.m.locked(ctx, func() { ms, ok = r.m.slots[keyOf(doctorID, start, date)] })
	if !ok {
		return nil, ErrNotFound
	}
	s := ms.slot
	return &s, nil
}

// FindFirstOpen orders candidates by doctor, then by insertion.
func (r memAvailability) FindFirstOpen(ctx context.Context, weekday int, start Label, date time.Time) (*AvailabilitySlot, error) {
	var matches []memSlot
	day := date.Format(time.DateOnly)
	r.m.locked(ctx, func() {
		for k, ms := range r.m.slots {
			if k.date == day && k.start == start && ms.slot.Weekday == weekday {
				matches = append(matches, ms)
			}
		}
	})
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].slot.DoctorID != matches[j].slot.DoctorID {
			return matches[i].slot.DoctorID < matches[j].slot.DoctorID
		}
		return matches[i].seq < matches[j].seq
	})
	s := matches[0].slot
	return &s, nil
}

func (r memAvailability) DeleteOne(ctx context.Context, doctorID string, start Label, date time.Time) (int64, error) {
	var n int64
	r.m.locked(ctx, func() {
		k := keyOf(doctorID, start, date)
		if _, ok := r.m.slots[k]; ok {
			delete(r.m.slots, k)
			n = 1
		}
	})
	return n, nil
}

func (r memAvailability) Insert(ctx context.Context, s *AvailabilitySlot) error {
	inserted, _ := r.InsertIfAbsent(ctx, s)
	if !inserted {
		return fmt.Errorf("availability %s %s %s exists: %w", s.DoctorID, s.Date.Format(time.DateOnly), s.StartTime, ErrConflict)
	}
	return nil
}

func (r memAvailability) InsertIfAbsent(ctx context.Context, s *AvailabilitySlot) (bool, error) {
	inserted := false
	r.m.locked(ctx, func() {
		k := keyOf(s.DoctorID, s.StartTime, s.Date)
		if _, ok := r.m.slots[k]; ok {
			return
		}
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		s.CreatedAt = r.m.now()
		r.m.seq++
		r.m.slots[k] = memSlot{slot: *s, seq: r.m.seq}
		inserted = true
	})
	return inserted, nil
}

// =========== Appointments ===========

type memAppointments struct{ m *MemoryStore }

func (r memAppointments) FindByWeek(ctx context.Context, party Party, weekStart, weekEnd time.Time) ([]*Appointment, error) {
	var out []*Appointment
	r.m.locked(ctx, func() {
		for _, a := range r.m.appts {
			if party.DoctorID != "" && a.DoctorID != party.DoctorID {
				continue
			}
			if party.PatientID != "" && a.PatientID != party.PatientID {
				continue
			}
			if !inWeek(a.Date, weekStart, weekEnd) {
				continue
			}
			a := a
			out = append(out, &a)
		}
	})
	return out, nil
}

func (r memAppointments) FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var (
		a  Appointment
		ok bool
	)
	r.m.locked(ctx, func() { a, ok = r.m.appts[id] })
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (r memAppointments) FindBySlot(ctx context.Context, doctorID string, start Label, date time.Time) (*Appointment, error) {
	var (
		a  Appointment
		ok bool
	)
	r.m.locked(ctx, func() {
		var id uuid.UUID
		if id, ok = r.m.bySlot[keyOf(doctorID, start, date)]; ok {
			a = r.m.appts[id]
		}
	})
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (r memAppointments) Insert(ctx context.Context, a *Appointment) error {
	var err error
	r.m.locked(ctx, func() {
		k := keyOf(a.DoctorID, a.StartTime, a.Date)
		if _, ok := r.m.bySlot[k]; ok {
			err = fmt.Errorf("appointment %s %s %s exists: %w", k.doctorID, k.date, k.start, ErrConflict)
			return
		}
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		a.CreatedAt = r.m.now()
		r.m.appts[a.ID] = *a
		r.m.bySlot[k] = a.ID
	})
	return err
}

func (r memAppointments) DeleteByID(ctx context.Context, id uuid.UUID) (int64, error) {
	var n int64
	r.m.locked(ctx, func() {
		a, ok := r.m.appts[id]
		if !ok {
			return
		}
		delete(r.m.appts, id)
		delete(r.m.bySlot, keyOf(a.DoctorID, a.StartTime, a.Date))
		n = 1
	})
	return n, nil
}
