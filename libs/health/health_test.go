package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverallStatus(t *testing.T) {
	c := NewChecker(0)
	assert.Equal(t, StatusDown, c.GetOverallStatus())

	var storeUp atomic.Bool
	storeUp.Store(true)
	c.RegisterComponent("registry", func(context.Context) (Status, error) { return StatusUp, nil })
	c.RegisterComponent("store", func(context.Context) (Status, error) {
		if storeUp.Load() {
			return StatusUp, nil
		}
		return StatusDown, errors.New("unreachable")
	})

	assert.Equal(t, StatusUp, c.CheckNow(context.Background()))

	storeUp.Store(false)
	assert.Equal(t, StatusDegraded, c.CheckNow(context.Background()))

	comp, err := c.GetComponentStatus("store")
	require.NoError(t, err)
	assert.Equal(t, StatusDown, comp.Status)
	assert.Equal(t, "unreachable", comp.Error)

	_, err = c.GetComponentStatus("nope")
	assert.Error(t, err)
}

func TestOnChangeFiresOnlyOnChange(t *testing.T) {
	c := NewChecker(0)
	c.RegisterComponent("registry", func(context.Context) (Status, error) { return StatusUp, nil })

	var calls int
	var last Status
	c.OnChange(func(overall Status, components []Component) {
		calls++
		last = overall
		require.Len(t, components, 1)
	})

	c.CheckNow(context.Background())
	c.CheckNow(context.Background())

	assert.Equal(t, 1, calls)
	assert.Equal(t, StatusUp, last)
}

func TestHTTPHandler(t *testing.T) {
	c := NewChecker(0)
	c.RegisterComponent("registry", func(context.Context) (Status, error) { return StatusUp, nil })
	c.CheckNow(context.Background())

	rec := httptest.NewRecorder()
	c.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status     Status      `json:"status"`
		Components []Component `json:"components"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, StatusUp, body.Status)
	assert.Len(t, body.Components, 1)

	rec = httptest.NewRecorder()
	c.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health?format=simple", nil))
	assert.Equal(t, "up", rec.Body.String())

	rec = httptest.NewRecorder()
	c.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health?component=missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	c.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
