package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayne-enterprises/wayne-console/internal/notify"
	"github.com/wayne-enterprises/wayne-console/internal/threat"
)

type capturePusher struct {
	mu    sync.Mutex
	items []string
	kinds []notify.Kind
}

func (c *capturePusher) Push(message string, kind notify.Kind, _ time.Duration) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, message)
	c.kinds = append(c.kinds, kind)
	return fmt.Sprint(len(c.items))
}

func TestTrackFeedsDetector(t *testing.T) {
	pusher := &capturePusher{}
	detector := threat.NewDetector(threat.Config{})
	tracker := NewTracker(Config{}, detector, pusher, nil)

	_, rec := tracker.Track(Activity{Name: "search", Payload: "batarang"})
	assert.Nil(t, rec)
	assert.Empty(t, pusher.items)

	ev, rec := tracker.Track(Activity{Name: "search", Payload: "1; DROP TABLE users", SourceKey: "10.0.0.1"})
	require.NotNil(t, rec)
	assert.Equal(t, "search", ev.Name)
	require.Len(t, pusher.items, 1)
	assert.Equal(t, notify.KindWarning, pusher.kinds[0])
	assert.Contains(t, pusher.items[0], threat.ReasonInjection)
	assert.Len(t, detector.Records(""), 1)
}

func TestRepeatedLoginsAreFlagged(t *testing.T) {
	tracker := NewTracker(Config{}, threat.NewDetector(threat.Config{}), nil, nil)
	var rec *threat.Record
	for i := 0; i < 11; i++ {
		_, rec = tracker.Track(Activity{Name: "login_attempt", SourceKey: "ip1"})
	}
	require.NotNil(t, rec)
	assert.Equal(t, []string{threat.ReasonRepeatedAuth}, rec.Reasons)
}

func TestEventLogIsBounded(t *testing.T) {
	tracker := NewTracker(Config{EventCapacity: 3, ErrorCapacity: 2}, nil, nil, nil)
	for i := 0; i < 5; i++ {
		tracker.TrackEvent(fmt.Sprintf("e%d", i), nil)
	}
	events := tracker.Events(0)
	require.Len(t, events, 3)
	assert.Equal(t, "e2", events[0].Name)
	assert.Equal(t, []Event{events[2]}, tracker.Events(1))

	for i := 0; i < 3; i++ {
		tracker.TrackError(fmt.Errorf("boom %d", i), map[string]any{"n": i})
	}
	tracker.TrackError(nil, nil)
	errs := tracker.Errors()
	require.Len(t, errs, 2)
	assert.Equal(t, "boom 1", errs[0].Message)
}

func TestSummaryCounts(t *testing.T) {
	tracker := NewTracker(Config{}, nil, nil, nil)
	tracker.TrackPageView("/dashboard")
	tracker.TrackPageView("/dashboard")
	tracker.TrackPageView("/resources")
	tracker.TrackInteraction("button", "click", nil)
	tracker.TrackError(errors.New("render failed"), nil)

	s := tracker.Summary()
	assert.Equal(t, 5, s.TotalEvents)
	assert.Equal(t, 3, s.TotalPageViews)
	assert.Equal(t, 1, s.TotalInteractions)
	assert.Equal(t, 1, s.TotalErrors)
	require.NotEmpty(t, s.TopPages)
	assert.Equal(t, Count{Key: "/dashboard", Count: 2}, s.TopPages[0])
	assert.Equal(t, Count{Key: "button_click", Count: 1}, s.TopInteractions[0])

	tracker.Reset()
	assert.Zero(t, tracker.Summary().TotalEvents)
}

func TestSecurityReport(t *testing.T) {
	tracker := NewTracker(Config{}, nil, nil, nil)
	tracker.TrackEvent("login_success", nil)
	tracker.TrackEvent("login_failed", nil)
	tracker.TrackEvent("access_denied", map[string]any{"route": "/users"})
	tracker.TrackEvent("logout", nil)
	tracker.TrackEvent("page_view", nil)

	report := tracker.SecurityReport()
	assert.Equal(t, 4, report.TotalSecurityEvents)
	assert.Equal(t, 2, report.LoginAttempts)
	assert.Equal(t, 1, report.AccessDeniedEvents)
	assert.Len(t, report.RecentSecurityEvents, 4)
}

func TestReportCacheFetchesOnceAndBumps(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	cache := NewReportCache(client, time.Minute)

	loads := 0
	loader := func(context.Context) (any, error) {
		loads++
		return map[string]any{"total_alerts": loads}, nil
	}

	key, err := cache.BuildKey(ctx, "security", "30")
	require.NoError(t, err)
	assert.Equal(t, "wayne:reports:security:30:1", key)

	var out map[string]any
	require.NoError(t, cache.FetchJSON(ctx, key, &out, loader))
	require.NoError(t, cache.FetchJSON(ctx, key, &out, loader))
	assert.Equal(t, 1, loads)
	assert.EqualValues(t, 1, out["total_alerts"])

	require.NoError(t, cache.Bump(ctx))
	key, err = cache.BuildKey(ctx, "security", "30")
	require.NoError(t, err)
	assert.Equal(t, "wayne:reports:security:30:2", key)
	require.NoError(t, cache.FetchJSON(ctx, key, &out, loader))
	assert.Equal(t, 2, loads)
}

func TestNilReportCachePassesThrough(t *testing.T) {
	var cache *ReportCache
	var out []int
	require.NoError(t, cache.FetchJSON(context.Background(), "k", &out, func(context.Context) (any, error) {
		return []int{1, 2}, nil
	}))
	assert.Equal(t, []int{1, 2}, out)
	assert.NoError(t, cache.Bump(context.Background()))
}
