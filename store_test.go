package sweph

import (
	"bytes"
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mshafiee/sweph/bytesource"
)

const j2000 = 2451545.0

// MockOpener is a mock for the sourceOpener interface
type MockOpener struct {
	mock.Mock
}

func (m *MockOpener) Open(ctx context.Context, name string) (bytesource.ByteSource, error) {
	args := m.Called(ctx, name)
	src, _ := args.Get(0).(bytesource.ByteSource)
	return src, args.Error(1)
}

// ephemerisImage returns a file carrying body in three 16-day segments
// from bodyStart on. Every coefficient of segment i is coef(k+i, 2).
func ephemerisImage(name string, body int, fileStart, bodyStart float64, k int64) []byte {
	var segs [][]byte
	for i := int64(0); i < 3; i++ {
		sb := &segBuilder{order: binary.BigEndian}
		for axis := 0; axis < 3; axis++ {
			sb.axis4([4][]int64{nil, nil, {k + i}, {k + i}})
		}
		segs = append(segs, sb.bytes())
	}
	tf := &testFile{
		name:   name,
		kind:   KindOfFile(name),
		de:     431,
		tstart: fileStart,
		tend:   fileStart + 600*365.25,
		bodies: []testBody{{id: body, ncoe: 2, rmaxRaw: 2000, tstart: bodyStart, dseg: 16, segments: segs}},
	}
	img, _ := tf.build()
	return img
}

const band18 = 2378496.5

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func writeZstd(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, bytesource.WriteZstd(f, bytes.NewReader(data)))
	require.NoError(t, f.Close())
}

func newTestStore(t *testing.T, cfg StoreConfig) *Store {
	t.Helper()
	s, err := NewStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreSegmentFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sepl_18.se1"), ephemerisImage("sepl_18.se1", BodyMercury, band18, j2000-25, 10))
	writeZstd(t, filepath.Join(dir, "semo_18.se1.zst"), ephemerisImage("semo_18.se1", BodyMoon, band18, j2000-25, 20))

	s := newTestStore(t, StoreConfig{Paths: []string{dir}})
	ctx := context.Background()

	seg, err := s.Segment(ctx, BodyMercury, j2000)
	require.NoError(t, err)
	assert.Equal(t, BodyMercury, seg.Body)
	assert.Equal(t, j2000-25+16, seg.TSeg0)
	assert.InDelta(t, coef(11, 2), seg.Coeffs[0], 1e-18)

	f := s.slots[KindPlanet].file
	require.NotNil(t, f)
	b, _ := f.Body(BodyMercury)
	assert.NotSame(t, b.seg, seg, "callers get a copy")

	seg, err = s.Segment(ctx, BodyMoon, j2000-20)
	require.NoError(t, err)
	assert.Equal(t, BodyMoon, seg.Body)
	assert.InDelta(t, coef(20, 2), seg.Coeffs[0], 1e-18)

	_, err = s.Segment(ctx, BodyVenus, j2000)
	assert.ErrorIs(t, err, ErrNoBody)

	_, err = s.Segment(ctx, BodyMercury, j2000+100)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = s.Segment(ctx, BodyMercury, 2597641.5)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Segment(ctx, BodyAnyBody, j2000)
	assert.ErrorIs(t, err, ErrNoBody)
}

func TestStoreSearchPathPattern(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a", "b", "seas_18.se1"), ephemerisImage("seas_18.se1", BodyCeres, band18, j2000-10, 3))

	s := newTestStore(t, StoreConfig{Paths: []string{filepath.Join(dir, "missing"), filepath.Join(dir, "**")}})
	seg, err := s.Segment(context.Background(), BodyCeres, j2000)
	require.NoError(t, err)
	assert.Equal(t, BodyCeres, seg.Body)
}

func TestStoreHTTP(t *testing.T) {
	files := map[string][]byte{
		"/ephe/sepl_18.se1": ephemerisImage("sepl_18.se1", BodyMars, band18, j2000-25, 5),
	}
	var failed atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if r.Method == http.MethodGet && failed.CompareAndSwap(false, true) {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		http.ServeContent(w, r, path.Base(r.URL.Path), time.Time{}, bytes.NewReader(data))
	}))
	defer srv.Close()

	retries := testutil.ToFloat64(httpRetries)
	s := newTestStore(t, StoreConfig{
		Paths:       []string{srv.URL + "/ephe/"},
		HTTPClient:  srv.Client(),
		HTTPBackoff: time.Millisecond,
	})

	seg, err := s.Segment(context.Background(), BodyMars, j2000)
	require.NoError(t, err)
	assert.Equal(t, BodyMars, seg.Body)
	assert.Equal(t, retries+1, testutil.ToFloat64(httpRetries))

	_, err = s.Segment(context.Background(), BodyMoon, j2000)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreSwitchesFiles(t *testing.T) {
	s := newTestStore(t, StoreConfig{Paths: []string{t.TempDir()}})
	opener := new(MockOpener)
	s.opener = opener

	first := &memBackend{data: ephemerisImage("sepl_18.se1", BodyJupiter, band18, j2000-25, 1)}
	second := &memBackend{data: ephemerisImage("sepl_24.se1", BodyJupiter, 2597641.5, 2597641.5, 2)}
	opener.On("Open", mock.Anything, "sepl_18.se1").Return(bytesource.New("sepl_18.se1", first), nil).Once()
	opener.On("Open", mock.Anything, "sepl_24.se1").Return(bytesource.New("sepl_24.se1", second), nil).Once()

	ctx := context.Background()
	_, err := s.Segment(ctx, BodyJupiter, j2000)
	require.NoError(t, err)
	_, err = s.Segment(ctx, BodyJupiter, j2000+5)
	require.NoError(t, err)
	assert.Zero(t, first.closes.Load())

	seg, err := s.Segment(ctx, BodyJupiter, 2597650)
	require.NoError(t, err)
	assert.InDelta(t, coef(2, 2), seg.Coeffs[0], 1e-18)
	assert.Equal(t, int32(1), first.closes.Load(), "previous file closed on switch")

	opener.AssertExpectations(t)
	opener.AssertNumberOfCalls(t, "Open", 2)

	require.NoError(t, s.Close())
	assert.Equal(t, int32(1), second.closes.Load())
}

func TestStoreRejectedFileIsNotKept(t *testing.T) {
	s := newTestStore(t, StoreConfig{Paths: []string{t.TempDir()}})
	opener := new(MockOpener)
	s.opener = opener

	bad := &memBackend{data: ephemerisImage("semo_18.se1", BodyJupiter, band18, j2000-25, 1)}
	opener.On("Open", mock.Anything, "sepl_18.se1").Return(bytesource.New("sepl_18.se1", bad), nil).Once()

	_, err := s.Segment(context.Background(), BodyJupiter, j2000)
	require.ErrorIs(t, err, ErrDamagedFile)
	assert.Equal(t, "(0)", DamageCode(err))
	assert.Nil(t, s.slots[KindPlanet].file)
	assert.Equal(t, int32(1), bad.closes.Load())
}

func TestStoreProbe(t *testing.T) {
	s := newTestStore(t, StoreConfig{Paths: []string{t.TempDir()}})
	opener := new(MockOpener)
	s.opener = opener

	m := &memBackend{data: ephemerisImage("sepl_18.se1", BodyMercury, band18, j2000-25, 1)}
	opener.On("Open", mock.Anything, "sepl_18.se1").
		WaitUntil(time.After(50*time.Millisecond)).
		Return(bytesource.New("sepl_18.se1", m), nil).Once()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start, end, err := s.Probe(context.Background(), "sepl_18.se1")
			assert.NoError(t, err)
			assert.Equal(t, band18, start)
			assert.Equal(t, band18+600*365.25, end)
		}()
	}
	wg.Wait()

	opener.AssertNumberOfCalls(t, "Open", 1)
	assert.Equal(t, int32(1), m.closes.Load(), "probe sources are closed")

	opener.On("Open", mock.Anything, "semo_18.se1").Return(nil, ErrNotFound).Once()
	_, _, err := s.Probe(context.Background(), "semo_18.se1")
	assert.ErrorIs(t, err, ErrNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opener.On("Open", mock.Anything, "seas_18.se1").
		WaitUntil(time.After(time.Second)).
		Return(nil, ErrNotFound).Once()
	_, _, err = s.Probe(ctx, "seas_18.se1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStoreWatch(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "sepl_18.se1")
	writeFile(t, file, ephemerisImage("sepl_18.se1", BodySaturn, band18, j2000-25, 1))

	s := newTestStore(t, StoreConfig{Paths: []string{dir}, Watch: true})
	ctx := context.Background()

	_, _, err := s.Probe(ctx, "sepl_18.se1")
	require.NoError(t, err)
	seg, err := s.Segment(ctx, BodySaturn, j2000)
	require.NoError(t, err)
	assert.InDelta(t, coef(2, 2), seg.Coeffs[0], 1e-18)

	writeFile(t, file, ephemerisImage("sepl_18.se1", BodySaturn, band18, j2000-25, 7))

	require.Eventually(t, func() bool {
		seg, err := s.Segment(ctx, BodySaturn, j2000)
		return err == nil && seg.Coeffs[0] == coef(8, 2)
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(file))
	require.Eventually(t, func() bool {
		_, _, err := s.Probe(ctx, "sepl_18.se1")
		return err != nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStoreClose(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sepl_18.se1"), ephemerisImage("sepl_18.se1", BodyMercury, band18, j2000-25, 1))
	s, err := NewStore(StoreConfig{Paths: []string{dir}, Watch: true})
	require.NoError(t, err)

	_, err = s.Segment(context.Background(), BodyMercury, j2000)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Segment(context.Background(), BodyMercury, j2000)
	assert.ErrorIs(t, err, ErrClosed)
	_, _, err = s.Probe(context.Background(), "sepl_18.se1")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStoreCanceledContext(t *testing.T) {
	s := newTestStore(t, StoreConfig{Paths: []string{t.TempDir()}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Segment(ctx, BodyMercury, j2000)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStoreWatchNeedsDirectory(t *testing.T) {
	_, err := NewStore(StoreConfig{Paths: []string{filepath.Join(t.TempDir(), "missing")}, Watch: true})
	assert.Error(t, err)
}
