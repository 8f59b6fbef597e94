package scheduling

import (
	"net/http"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/openapi"
)

var weekQuery = openapi.Param{Name: "week", In: "query", Type: "integer", Description: "Week offset from the current week"}

// Operations lists the routes RegisterRoutes mounts, relative to the API group.
func (h *Handler) Operations() []openapi.Operation {
	const tag = "scheduling"
	return []openapi.Operation{
		{
			Method: http.MethodGet, Path: "/scheduling/week", Tag: tag,
			Summary:   "Dates and half-hour labels of a week",
			Params:    []openapi.Param{weekQuery},
			Responses: map[int]string{200: "Week grid", 400: "Invalid week"},
		},
		{
			Method: http.MethodGet, Path: "/scheduling/availability", Tag: tag,
			Summary: "Open slots for a doctor, or every doctor with AllDoctors",
			Params: []openapi.Param{
				{Name: "doctor_id", In: "query", Required: true, Description: "Doctor id or AllDoctors"},
				weekQuery,
			},
			Responses: map[int]string{200: "Availability slots", 400: "Invalid input"},
		},
		{
			Method: http.MethodPost, Path: "/scheduling/availability", Tag: tag,
			Summary:     "Declare availability for a week",
			Roles:       []string{auth.RoleDoctor},
			RequestBody: "DeclareAvailabilityRequest",
			Responses:   map[int]string{201: "Created slots", 400: "Invalid input", 403: "Not your availability"},
		},
		{
			Method: http.MethodPost, Path: "/scheduling/bookings", Tag: tag,
			Summary:     "Book one or more slots; each request succeeds or fails on its own",
			Roles:       []string{auth.RolePatient, auth.RoleRegistrar},
			RequestBody: "BookSlotsRequest",
			Responses:   map[int]string{201: "Every request booked", 200: "Per-request results with failures", 400: "Empty batch"},
		},
		{
			Method: http.MethodGet, Path: "/scheduling/appointments", Tag: tag,
			Summary: "Appointments of a doctor or a patient in a week",
			Params: []openapi.Param{
				{Name: "doctor_id", In: "query"},
				{Name: "patient_id", In: "query"},
				weekQuery,
			},
			Responses: map[int]string{200: "Appointments", 400: "Invalid input", 403: "Not your appointments"},
		},
		{
			Method: http.MethodDelete, Path: "/scheduling/appointments/:id", Tag: tag,
			Summary:   "Cancel an appointment and reopen its slot",
			Roles:     []string{auth.RolePatient, auth.RoleRegistrar},
			Params:    []openapi.Param{{Name: "id", In: "path"}},
			Responses: map[int]string{200: "Restored slot", 403: "Not your appointment", 404: "Unknown appointment"},
		},
	}
}

// Schemas returns the request body schemas named in Operations.
func Schemas() map[string]map[string]interface{} {
	str := map[string]string{"type": "string"}
	weekday := map[string]interface{}{"type": "integer", "minimum": 0, "maximum": 6}
	label := map[string]interface{}{"type": "string", "example": "9:30 am"}

	return map[string]map[string]interface{}{
		"DeclareAvailabilityRequest": {
			"type": "object",
			"properties": map[string]interface{}{
				"doctor_id":   str,
				"week_offset": map[string]string{"type": "integer"},
				"slots": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type":       "object",
						"properties": map[string]interface{}{"weekday": weekday, "start_time": label},
					},
				},
			},
		},
		"BookSlotsRequest": {
			"type":     "object",
			"required": []string{"bookings"},
			"properties": map[string]interface{}{
				"bookings": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"start_time":  label,
							"weekday":     weekday,
							"doctor_id":   map[string]interface{}{"type": "string", "description": "Doctor id or AllDoctors"},
							"week_offset": map[string]string{"type": "integer"},
							"patient_id":  str,
						},
					},
				},
			},
		},
	}
}
