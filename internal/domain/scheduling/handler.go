package scheduling

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
)

type Handler struct {
	svc   *Service
	clock Clock
	loc   *time.Location
}

// NewHandler serves the scheduling API. "Today" is clock.Now() in loc.
func NewHandler(svc *Service, clock Clock, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{svc: svc, clock: clock, loc: loc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/scheduling")

	g.GET("/week", h.GetWeek)
	g.GET("/availability", h.ListAvailability)
	g.GET("/appointments", h.ListAppointments)

	doctors := g.Group("", auth.RequireRole(auth.RoleDoctor))
	doctors.POST("/availability", h.DeclareAvailability)

	booking := g.Group("", auth.RequireRole(auth.RolePatient, auth.RoleRegistrar))
	booking.POST("/bookings", h.BookSlots)
	booking.DELETE("/appointments/:id", h.CancelAppointment)
}

func (h *Handler) reference() time.Time {
	return StartOfDay(h.clock.Now().In(h.loc))
}

// -- Wire types --

type bookingBody struct {
	StartTime  string `json:"start_time"`
	Weekday    int    `json:"weekday"`
	DoctorID   string `json:"doctor_id"`
	WeekOffset int    `json:"week_offset"`
	PatientID  string `json:"patient_id"`
}

type bookSlotsRequest struct {
	Bookings []bookingBody `json:"bookings"`
}

type bookingResultBody struct {
	Request     bookingBody  `json:"request"`
	Appointment *Appointment `json:"appointment,omitempty"`
	Error       string       `json:"error,omitempty"`
	Code        string       `json:"code,omitempty"`
}

type declareRequest struct {
	DoctorID   string              `json:"doctor_id"`
	WeekOffset int                 `json:"week_offset"`
	Slots      []AvailabilityEntry `json:"slots"`
}

// -- Handlers --

func (h *Handler) GetWeek(c echo.Context) error {
	week, err := weekParam(c)
	if err != nil {
		return err
	}
	grid, err := BuildWeekGrid(h.reference(), week)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, grid)
}

func (h *Handler) ListAvailability(c echo.Context) error {
	week, err := weekParam(c)
	if err != nil {
		return err
	}
	doctor, err := ParseDoctorSelector(c.QueryParam("doctor_id"))
	if err != nil {
		return httpError(err)
	}
	slots, err := h.svc.WeekAvailability(c.Request().Context(), doctor, week, h.reference())
	if err != nil {
		return httpError(err)
	}
	if slots == nil {
		slots = []*AvailabilitySlot{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"week_offset": week, "slots": slots})
}

func (h *Handler) DeclareAvailability(c echo.Context) error {
	var body declareRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if !auth.HasRole(ctx, auth.RoleAdmin) {
		// A doctor declares only their own hours.
		self := auth.UserIDFromContext(ctx)
		if body.DoctorID == "" {
			body.DoctorID = self
		}
		if body.DoctorID != self {
			return echo.NewHTTPError(http.StatusForbidden, "doctors may only declare their own availability")
		}
	}

	created, err := h.svc.DeclareAvailability(ctx, body.DoctorID, body.WeekOffset, body.Slots, h.reference())
	if err != nil {
		return httpError(err)
	}
	if created == nil {
		created = []*AvailabilitySlot{}
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"created": created})
}

func (h *Handler) BookSlots(c echo.Context) error {
	var body bookSlotsRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(body.Bookings) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "bookings is required")
	}

	ctx := c.Request().Context()
	selfOnly := !auth.HasRole(ctx, auth.RoleRegistrar)
	self := auth.UserIDFromContext(ctx)

	out := make([]bookingResultBody, len(body.Bookings))
	var requests []BookingRequest
	var index []int
	for i, b := range body.Bookings {
		if selfOnly && b.PatientID == "" {
			b.PatientID = self
		}
		out[i].Request = b
		if selfOnly && b.PatientID != self {
			out[i].Error, out[i].Code = "patients may only book for themselves", "forbidden"
			continue
		}
		req, err := b.toRequest()
		if err != nil {
			out[i].Error, out[i].Code = itemError(err)
			continue
		}
		requests = append(requests, req)
		index = append(index, i)
	}

	allOK := len(requests) == len(body.Bookings)
	for j, res := range h.svc.BookSlots(ctx, requests, h.reference()) {
		i := index[j]
		if res.Err != nil {
			out[i].Error, out[i].Code = itemError(res.Err)
			allOK = false
			continue
		}
		out[i].Appointment = res.Appointment
	}

	status := http.StatusOK
	if allOK {
		status = http.StatusCreated
	}
	return c.JSON(status, map[string]interface{}{"results": out})
}

func (h *Handler) ListAppointments(c echo.Context) error {
	week, err := weekParam(c)
	if err != nil {
		return err
	}
	party := Party{DoctorID: c.QueryParam("doctor_id"), PatientID: c.QueryParam("patient_id")}

	if err := party.validate(); err != nil {
		return httpError(err)
	}

	// Doctors list their own schedule and patients their own bookings.
	ctx := c.Request().Context()
	if !auth.HasRole(ctx, auth.RoleRegistrar) {
		self := auth.UserIDFromContext(ctx)
		ownSchedule := party.DoctorID != "" && party.DoctorID == self && auth.HasRole(ctx, auth.RoleDoctor)
		ownBookings := party.PatientID != "" && party.PatientID == self
		if !ownSchedule && !ownBookings {
			return echo.NewHTTPError(http.StatusForbidden, "callers may only list their own appointments")
		}
	}

	appts, err := h.svc.WeekAppointments(ctx, party, week, h.reference())
	if err != nil {
		return httpError(err)
	}
	if appts == nil {
		appts = []*Appointment{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"week_offset": week, "appointments": appts})
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	if !auth.HasRole(ctx, auth.RoleRegistrar) {
		appt, err := h.svc.GetAppointment(ctx, id)
		if err != nil {
			return httpError(err)
		}
		if appt.PatientID != auth.UserIDFromContext(ctx) {
			return echo.NewHTTPError(http.StatusForbidden, "patients may only cancel their own appointments")
		}
	}

	restored, err := h.svc.CancelAppointment(ctx, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"restored": restored})
}

// -- helpers --

func (b bookingBody) toRequest() (BookingRequest, error) {
	start, err := ParseLabel(b.StartTime)
	if err != nil {
		return BookingRequest{}, err
	}
	doctor, err := ParseDoctorSelector(b.DoctorID)
	if err != nil {
		return BookingRequest{}, err
	}
	return BookingRequest{
		StartTime:  start,
		Weekday:    b.Weekday,
		Doctor:     doctor,
		WeekOffset: b.WeekOffset,
		PatientID:  strings.TrimSpace(b.PatientID),
	}, nil
}

func weekParam(c echo.Context) (int, error) {
	raw := c.QueryParam("week")
	if raw == "" {
		return 0, nil
	}
	week, err := strconv.Atoi(raw)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid week")
	}
	return week, nil
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func errorCode(err error) string {
	switch errorStatus(err) {
	case http.StatusBadRequest:
		return "invalid_input"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	}
	return "internal"
}

// itemError describes a failed booking inside a 200 batch response.
func itemError(err error) (msg, code string) {
	code = errorCode(err)
	if code == "internal" {
		return "internal server error", code
	}
	return err.Error(), code
}

func httpError(err error) error {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		return echo.NewHTTPError(status, "internal server error").SetInternal(err)
	}
	return echo.NewHTTPError(status, err.Error())
}
