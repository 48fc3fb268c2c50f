package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/entityops/matchd/internal/api/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestJSON_WrapsData(t *testing.T) {
	w := httptest.NewRecorder()
	response.JSON(w, map[string]string{"name": "dedup-run"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	body := decode(t, w)
	data := body["data"].(map[string]any)
	assert.Equal(t, "dedup-run", data["name"])
}

func TestCreated_Returns201(t *testing.T) {
	w := httptest.NewRecorder()
	response.Created(w, map[string]string{"id": "abc"})

	assert.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Contains(t, body, "data")
}

func TestCollection_IncludesMeta(t *testing.T) {
	w := httptest.NewRecorder()
	response.Collection(w, []string{"a", "b"}, response.PaginationMeta{
		Page:    2,
		Limit:   2,
		Total:   5,
		HasNext: true,
	})

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	meta := body["meta"].(map[string]any)
	assert.Equal(t, float64(2), meta["page"])
	assert.Equal(t, float64(2), meta["limit"])
	assert.Equal(t, float64(5), meta["total"])
	assert.Equal(t, true, meta["has_next"])
}

func TestError_Envelope(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusConflict, "INVALID_STATE",
		"cannot pause a queued job", map[string]string{"status": "queued"})

	assert.Equal(t, http.StatusConflict, w.Code)
	body := decode(t, w)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "INVALID_STATE", errObj["code"])
	assert.Equal(t, "cannot pause a queued job", errObj["message"])
	details := errObj["details"].(map[string]any)
	assert.Equal(t, "queued", details["status"])
}

func TestError_OmitsEmptyDetails(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusNotFound, "NOT_FOUND", "job not found", nil)

	body := decode(t, w)
	errObj := body["error"].(map[string]any)
	assert.NotContains(t, errObj, "details")
}
