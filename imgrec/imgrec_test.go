package imgrec

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/nasa-jpl/staveqa/frame"
	"github.com/nasa-jpl/staveqa/server"
)

func fixedClock() time.Time {
	return time.Date(2020, 7, 22, 9, 30, 0, 0, time.UTC)
}

func TestRecordSequence(t *testing.T) {
	root := t.TempDir()
	rec := &Recorder{Root: root, Prefix: "stave", now: fixedClock}
	m := mat.NewDense(2, 2, []float64{18, 19, 20, 21})

	first, err := rec.Record(m, frame.Metadata{Source: "bench"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "2020-07-22", "stave000001.fits"), first)

	second, err := rec.Record(m, frame.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "2020-07-22", "stave000002.fits"), second)

	f, err := os.Open(first)
	require.NoError(t, err)
	defer f.Close()
	img, meta, err := frame.ReadFITS(f)
	require.NoError(t, err)
	assert.True(t, mat.Equal(m, img))
	assert.Equal(t, "bench", meta.Source)
}

func TestIncrSkipsForeignFiles(t *testing.T) {
	root := t.TempDir()
	rec := &Recorder{Root: root, Prefix: "stave", now: fixedClock}
	rec.updateFolder()
	dir := filepath.Join(root, "2020-07-22")
	require.NoError(t, os.MkdirAll(dir, 0777))
	for _, fn := range []string{"stave000041.fits", "stave_dark.fits", "other000099.fits", "stave000050.csv"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fn), nil, 0666))
	}
	require.NoError(t, rec.Incr())
	assert.Equal(t, 42, rec.counter)
}

func TestHTTPWrapper(t *testing.T) {
	rec := &Recorder{Root: t.TempDir(), Prefix: "a", now: fixedClock}
	rt := server.RouteTable{}
	NewHTTPWrapper(rec).Inject(rt)
	r := chi.NewRouter()
	rt.Bind(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/autowrite/prefix", "application/json", strings.NewReader(`{"str":"upper_"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	prefix, _ := rec.GetPrefix()
	assert.Equal(t, "upper_", prefix)

	resp, err = http.Post(srv.URL+"/autowrite/enabled", "application/json", strings.NewReader(`{"bool":true}`))
	require.NoError(t, err)
	resp.Body.Close()
	on, _ := rec.GetEnabled()
	assert.True(t, on)

	resp, err = http.Get(srv.URL + "/autowrite/prefix")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"str":"upper_"}`, string(body))

	resp2, err := http.Post(srv.URL+"/autowrite/root", "application/json", strings.NewReader(`{oops`))
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestRecordWhileRenaming(t *testing.T) {
	rec := &Recorder{Root: t.TempDir(), Prefix: "a", now: fixedClock}
	m := mat.NewDense(1, 1, []float64{20})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := rec.Record(m, frame.Metadata{})
			assert.NoError(t, err)
		}()
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, rec.SetPrefix([]string{"a", "b"}[i%2]))
		}(i)
	}
	wg.Wait()

	files, err := os.ReadDir(filepath.Join(rec.Root, "2020-07-22"))
	require.NoError(t, err)
	assert.Len(t, files, 10, "every frame gets its own file")
}
