package publish

import (
	"image"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIngressQueueDropsOldestWhenFull(t *testing.T) {
	q := newIngressQueue(3)

	for i := 0; i < 5; i++ {
		q.Push(Frame{ObjectCount: i})
	}

	pushed, dropped := q.Counters()
	require.Equal(t, int64(5), pushed)
	require.Equal(t, int64(2), dropped)
	require.LessOrEqual(t, q.Len(), 3)
}

func TestIngressQueuePopLatestReturnsNewestOnly(t *testing.T) {
	q := newIngressQueue(5)
	q.Push(Frame{ObjectCount: 1})
	q.Push(Frame{ObjectCount: 2})
	q.Push(Frame{ObjectCount: 3})

	frame, ok := q.PopLatest()
	require.True(t, ok)
	require.Equal(t, 3, frame.ObjectCount)
	require.Equal(t, 0, q.Len())
}

func TestIngressQueueClosedPopReturnsFalse(t *testing.T) {
	q := newIngressQueue(2)
	q.Close()

	_, ok := q.PopLatest()
	require.False(t, ok)
}

func TestPublisherEncodesAndServesStats(t *testing.T) {
	pub := New("test-channel", 0, 5, 90)
	require.NoError(t, pub.Start())
	defer pub.Stop()

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	pub.Push(Frame{Image: img, ObjectCount: 2})

	require.Eventually(t, func() bool {
		return pub.framesEncoded.Load() > 0
	}, time.Second, 10*time.Millisecond)

	url := "http://" + pub.listener.Addr().String() + "/stats"
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPublisherStatsHandlerViaHTTPTest(t *testing.T) {
	pub := New("test-channel", 0, 5, 90)
	pub.framesEncoded.Store(10)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	pub.handleStats(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"running"`)
}
