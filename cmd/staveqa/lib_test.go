package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/knadh/koanf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/nasa-jpl/staveqa/frame"
)

func testConfig(t *testing.T) Config {
	c := DefaultConfig()
	c.Parameters = filepath.Join("..", "..", "stave", "testdata", "parameters.yml")
	c.Output = t.TempDir()
	c.Upload.Rate = 0
	return c
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func post(t *testing.T, url, body string) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestBuildMuxRoutes(t *testing.T) {
	mux, err := BuildMux(testConfig(t))
	require.NoError(t, err)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	code, body := get(t, srv.URL+"/route-list")
	require.Equal(t, http.StatusOK, code)
	var routes []string
	require.NoError(t, json.Unmarshal([]byte(body), &routes))
	assert.Contains(t, routes, "POST /stave/frame")
	assert.Contains(t, routes, "GET /stave/autowrite/prefix")
	assert.Contains(t, routes, "POST /stave/lock")

	code, body = get(t, srv.URL+"/endpoints")
	require.Equal(t, http.StatusOK, code)
	var graph map[string][]string
	require.NoError(t, json.Unmarshal([]byte(body), &graph))
	assert.Contains(t, graph["/stave"], "GET /temperatures")
}

func TestBuildMuxLock(t *testing.T) {
	mux, err := BuildMux(testConfig(t))
	require.NoError(t, err)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	assert.Equal(t, http.StatusOK, post(t, srv.URL+"/stave/lock", `{"bool":true}`))
	assert.Equal(t, http.StatusLocked, post(t, srv.URL+"/stave/frame", "1,2\n3,4\n"))
	code, _ := get(t, srv.URL+"/stave/lock")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, http.StatusOK, post(t, srv.URL+"/stave/lock", `{"bool":false}`))
	assert.Equal(t, http.StatusOK, post(t, srv.URL+"/stave/frame", "1,2\n3,4\n"))
}

func TestBuildMuxBadConfig(t *testing.T) {
	c := testConfig(t)
	c.Units = "rankine"
	_, err := BuildMux(c)
	assert.Error(t, err)

	c = testConfig(t)
	c.Parameters = filepath.Join(c.Output, "missing.yml")
	_, err = BuildMux(c)
	assert.Error(t, err)
}

func TestLoadFrameConvertsUnits(t *testing.T) {
	c := testConfig(t)
	c.Units = "K"
	path := filepath.Join(c.Output, "kelvin.csv")
	require.NoError(t, os.WriteFile(path, []byte("273.15,283.15\n"), 0666))
	m, meta, err := loadFrame(c, path)
	require.NoError(t, err)
	assert.InDelta(t, 10, m.At(0, 1), 1e-9)
	assert.Equal(t, "C", string(meta.Unit))

	// FITS frames carry their own unit
	fitsPath := filepath.Join(c.Output, "celsius.fits")
	require.NoError(t, writeFITS(fitsPath, mat.NewDense(1, 2, []float64{5, 6}), frame.Metadata{Unit: "C"}))
	m, _, err = loadFrame(c, fitsPath)
	require.NoError(t, err)
	assert.Equal(t, 6., m.At(0, 1))
}

func TestConfigFileWindow(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "staveqa.yml")
	yml := "Window:\n  Rows: [0.25, 0.75]\n  Cols: [0.1, 0.9]\nUnits: K\n"
	require.NoError(t, os.WriteFile(fn, []byte(yml), 0666))

	oldName, oldK := ConfigFileName, k
	defer func() { ConfigFileName, k = oldName, oldK }()
	ConfigFileName, k = fn, koanf.New(".")
	setupconfig()
	c := config()

	assert.Equal(t, [2]float64{0.25, 0.75}, c.Window.Rows)
	assert.Equal(t, [2]float64{0.1, 0.9}, c.Window.Cols)
	assert.Equal(t, "K", c.Units)
	assert.Equal(t, ":8000", c.Addr, "unset keys keep their defaults")
}
