package server

import (
	"errors"
	"fmt"
	"go/types"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ExampleSubMuxSanitize() {
	fmt.Println(SubMuxSanitize("bench/stave/"))
	// Output: /bench/stave
}

func TestEndpointsSorted(t *testing.T) {
	noop := func(w http.ResponseWriter, r *http.Request) {}
	rt := RouteTable{
		{http.MethodPost, "/lock"}: noop,
		{http.MethodGet, "/echo"}:  noop,
		{http.MethodGet, "/lock"}:  noop,
	}
	assert.Equal(t, []string{"GET /echo", "GET /lock", "POST /lock"}, rt.Endpoints())
}

func TestHumanPayloadJSON(t *testing.T) {
	cases := []struct {
		hp       HumanPayload
		expected string
	}{
		{HumanPayload{T: types.Float64, Float: 21.5}, `{"f64":21.5}`},
		{HumanPayload{T: types.String, String: "inlet"}, `{"str":"inlet"}`},
		{HumanPayload{T: types.Bool, Bool: true}, `{"bool":true}`},
		{HumanPayload{T: types.Int, Int: 3}, `{"int":3}`},
		{HumanPayload{Floats: []float64{1, 2.5}}, `{"f64s":[1,2.5]}`},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		c.hp.EncodeAndRespond(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, c.expected, w.Body.String())
	}
}

func TestHumanPayloadText(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Accept", "text/plain")
	HumanPayload{T: types.Float64, Float: 3.25}.EncodeAndRespond(w, r)
	assert.Equal(t, "3.25\n", w.Body.String())
}

func TestGetSetHandlersOnChi(t *testing.T) {
	value := "top"
	rt := RouteTable{
		{http.MethodGet, "/face"}: GetString(func() (string, error) { return value, nil }),
		{http.MethodPost, "/face"}: SetString(func(s string) error {
			if s == "" {
				return errors.New("empty face")
			}
			value = s
			return nil
		}),
	}
	r := chi.NewRouter()
	rt.Bind(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/face", "application/json", strings.NewReader(`{"str":"bottom"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bottom", value)

	resp, err = http.Post(srv.URL+"/face", "application/json", strings.NewReader(`{"str":""}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/face", "application/json", strings.NewReader(`not json`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetStringError(t *testing.T) {
	h := GetString(func() (string, error) { return "", errors.New("no frame") })
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSetBool(t *testing.T) {
	var got bool
	h := SetBool(func(b bool) error { got = b; return nil })
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bool":true}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, got)

	w = httptest.NewRecorder()
	GetBool(func() (bool, error) { return got, nil })(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.JSONEq(t, `{"bool":true}`, w.Body.String())
}
