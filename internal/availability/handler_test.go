package availability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getSlots(t *testing.T, h *Handler, params url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/slots?"+params.Encode(), nil)
	w := httptest.NewRecorder()
	h.GetSlots(w, req)
	return w
}

func TestGetSlotsHappyPath(t *testing.T) {
	f := newEngineFixture(t)
	h := NewHandler(f.engine, nil, nil)

	params := url.Values{}
	params.Set("clinicId", f.clinic.ID.String())
	params.Set("doctorId", f.doctor.ID.String())
	params.Set("date", "2026-09-14")
	params.Set("serviceId", f.service.ID.String())

	w := getSlots(t, h, params)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var slots []slotResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&slots))
	require.Len(t, slots, 8)
	assert.Equal(t, "2026-09-14T08:00:00", slots[0].StartAt)
	assert.Equal(t, "2026-09-14T08:30:00", slots[0].EndAt)
}

func TestGetSlotsParamValidation(t *testing.T) {
	f := newEngineFixture(t)
	h := NewHandler(f.engine, nil, nil)

	w := getSlots(t, h, url.Values{"doctorId": {f.doctor.ID.String()}, "date": {"2026-09-14"}})
	assert.Equal(t, http.StatusBadRequest, w.Code, "missing clinicId")

	w = getSlots(t, h, url.Values{"clinicId": {f.clinic.ID.String()}, "date": {"2026-09-14"}})
	assert.Equal(t, http.StatusBadRequest, w.Code, "missing doctorId")

	params := url.Values{}
	params.Set("clinicId", f.clinic.ID.String())
	params.Set("doctorId", f.doctor.ID.String())
	params.Set("date", "14.09.2026")
	w = getSlots(t, h, params)
	assert.Equal(t, http.StatusBadRequest, w.Code, "malformed date")
}

func TestGetSlotsNotFound(t *testing.T) {
	f := newEngineFixture(t)
	h := NewHandler(f.engine, nil, nil)

	params := url.Values{}
	params.Set("clinicId", uuid.NewString())
	params.Set("doctorId", f.doctor.ID.String())
	params.Set("date", "2026-09-14")
	w := getSlots(t, h, params)
	assert.Equal(t, http.StatusNotFound, w.Code)

	params.Set("clinicId", f.clinic.ID.String())
	params.Set("doctorId", uuid.NewString())
	w = getSlots(t, h, params)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSlotsEmptyDayIsEmptyArray(t *testing.T) {
	f := newEngineFixture(t)
	h := NewHandler(f.engine, nil, nil)

	params := url.Values{}
	params.Set("clinicId", f.clinic.ID.String())
	params.Set("doctorId", f.doctor.ID.String())
	params.Set("date", "2026-09-15")

	w := getSlots(t, h, params)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}
