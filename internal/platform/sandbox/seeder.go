// Package sandbox generates reproducible demo availability for sandbox and
// developer environments. A fixed seed always yields the same doctors and the
// same weekly hours.
package sandbox

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/hms/hms/internal/domain/scheduling"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// SeedConfig controls the volume of generated availability.
type SeedConfig struct {
	DoctorCount int   `json:"doctorCount"`
	Weeks       int   `json:"weeks"`       // weeks from the current one, offset 0 upwards
	SlotsPerDay int   `json:"slotsPerDay"` // consecutive half-hours per working day
	Seed        int64 `json:"seed"`
}

// DefaultSeedConfig returns a small clinic: five doctors, two weeks of
// four-hour sessions.
func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		DoctorCount: 5,
		Weeks:       2,
		SlotsPerDay: 8,
	}
}

var lastNames = []string{
	"adams", "baker", "chen", "diaz", "evans", "fischer", "garcia", "hughes",
	"ito", "jones", "khan", "lopez", "moreau", "nguyen", "okafor", "patel",
}

// Sessions start between 8:00 am and 1:00 pm.
const (
	firstStart = 16
	lastStart  = 26
)

// ---------------------------------------------------------------------------
// DataGenerator
// ---------------------------------------------------------------------------

// DataGenerator produces deterministic doctors and weekly hours.
type DataGenerator struct {
	rng     *rand.Rand
	counter uint64
}

// NewDataGenerator returns a generator seeded for reproducibility. If seed is
// 0 a time-based seed is chosen.
func NewDataGenerator(seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// DoctorID returns a new doctor id such as "dr-chen-03".
func (g *DataGenerator) DoctorID() string {
	g.counter++
	return fmt.Sprintf("dr-%s-%02d", lastNames[g.rng.Intn(len(lastNames))], g.counter)
}

// Session returns slots consecutive labels starting at a random morning hour.
func (g *DataGenerator) Session(slots int) []scheduling.Label {
	labels := scheduling.DayLabels()
	start := firstStart + g.rng.Intn(lastStart-firstStart+1)
	end := start + slots
	if end > len(labels) {
		end = len(labels)
	}
	return labels[start:end]
}

// WeekEntries covers Monday to Friday with one session a day. One weekday
// in five is left off at random.
func (g *DataGenerator) WeekEntries(slotsPerDay int) []scheduling.AvailabilityEntry {
	var entries []scheduling.AvailabilityEntry
	for wd := 1; wd <= 5; wd++ {
		if g.rng.Intn(5) == 0 {
			continue
		}
		for _, l := range g.Session(slotsPerDay) {
			entries = append(entries, scheduling.AvailabilityEntry{Weekday: wd, StartTime: l})
		}
	}
	return entries
}

// ---------------------------------------------------------------------------
// Seeder
// ---------------------------------------------------------------------------

// Declarer accepts availability; *scheduling.Service implements it.
type Declarer interface {
	DeclareAvailability(ctx context.Context, doctorID string, weekOffset int, entries []scheduling.AvailabilityEntry, reference time.Time) ([]*scheduling.AvailabilitySlot, error)
}

// SeedResult summarises a seeding run.
type SeedResult struct {
	Doctors  []string      `json:"doctors"`
	Slots    int           `json:"slots"`
	Duration time.Duration `json:"duration"`
}

// Seeder declares generated availability through a Declarer.
type Seeder struct {
	generator *DataGenerator
	config    SeedConfig
}

// NewSeeder creates a new Seeder with the given config.
func NewSeeder(config SeedConfig) *Seeder {
	return &Seeder{
		generator: NewDataGenerator(config.Seed),
		config:    config,
	}
}

// Run declares every doctor's hours for each configured week relative to
// reference. Slots that already exist are skipped by the Declarer, so
// running twice is harmless.
func (s *Seeder) Run(ctx context.Context, d Declarer, reference time.Time) (*SeedResult, error) {
	if s.config.DoctorCount <= 0 || s.config.Weeks <= 0 || s.config.SlotsPerDay <= 0 {
		return nil, fmt.Errorf("sandbox: doctors, weeks and slots per day must be positive")
	}
	if s.config.Weeks > scheduling.MaxWeekOffset+1 {
		return nil, fmt.Errorf("sandbox: at most %d weeks", scheduling.MaxWeekOffset+1)
	}

	start := time.Now()
	result := &SeedResult{}
	for i := 0; i < s.config.DoctorCount; i++ {
		doctor := s.generator.DoctorID()
		result.Doctors = append(result.Doctors, doctor)
		for week := 0; week < s.config.Weeks; week++ {
			entries := s.generator.WeekEntries(s.config.SlotsPerDay)
			if len(entries) == 0 {
				continue
			}
			created, err := d.DeclareAvailability(ctx, doctor, week, entries, reference)
			if err != nil {
				return result, fmt.Errorf("seed %s week %d: %w", doctor, week, err)
			}
			result.Slots += len(created)
		}
	}
	result.Duration = time.Since(start)
	return result, nil
}
