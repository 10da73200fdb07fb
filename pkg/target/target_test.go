package target

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/event"
	"github.com/cuemby/burrow/pkg/storage"
)

func testParams(t *testing.T, id string) Params {
	t.Helper()
	store, err := storage.New(storage.Params{Directory: t.TempDir(), Logger: zerolog.Nop()})
	require.NoError(t, err)
	return Params{
		ID:          id,
		Logger:      zerolog.Nop(),
		Storage:     store,
		MaxDelay:    time.Hour,
		ErrMaxDelay: 30 * time.Minute,
	}
}

func TestResetNextRunDateInvariants(t *testing.T) {
	srv, err := NewServer("https://glpi.example.com/front/inventory.php", testParams(t, "server0"))
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		srv.ResetNextRunDate()
		next := srv.GetNextRunDate()
		base := srv.Base.baseRunDate

		assert.False(t, next.After(base), "nextRunDate must not pass baseRunDate")
		assert.False(t, base.After(next.Add(srv.GetMaxDelay())),
			"baseRunDate must stay within maxDelay of nextRunDate")
	}
}

func TestMaxRandomTiers(t *testing.T) {
	tests := []struct {
		name      string
		maxDelay  time.Duration
		maxJitter time.Duration
	}{
		{"short delay", time.Hour, 10 * time.Minute},
		{"medium delay", 12 * time.Hour, time.Hour},
		{"long delay", 48 * time.Hour, 2 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := testParams(t, "server0")
			params.MaxDelay = tt.maxDelay
			srv, err := NewServer("http://srv/", params)
			require.NoError(t, err)

			for i := 0; i < 10; i++ {
				srv.ResetNextRunDate()
				jitter := srv.Base.baseRunDate.Sub(srv.GetNextRunDate())
				assert.GreaterOrEqual(t, jitter, time.Duration(0))
				assert.Less(t, jitter, tt.maxJitter)
			}
		})
	}
}

func TestInitialDelayAppliedOnce(t *testing.T) {
	params := testParams(t, "server0")
	params.InitialDelay = time.Hour
	srv, err := NewServer("http://srv/", params)
	require.NoError(t, err)

	srv.ResetNextRunDate()
	first := time.Until(srv.GetNextRunDate())
	// ±50% random reduction keeps the delay within (30m, 1h].
	assert.Greater(t, first, 29*time.Minute)
	assert.LessOrEqual(t, first, time.Hour)

	// Second reset falls back to the normal arithmetic.
	srv.ResetNextRunDate()
	assert.Greater(t, time.Until(srv.GetNextRunDate()), 40*time.Minute)
}

func TestRetryBackoffDoublesAndCaps(t *testing.T) {
	params := testParams(t, "server0")
	params.MaxDelay = time.Hour
	params.ErrMaxDelay = 10 * time.Minute
	srv, err := NewServer("http://srv/", params)
	require.NoError(t, err)

	var delays []time.Duration
	for i := 0; i < 6; i++ {
		srv.SetNextRunDateFromNow(0)
		delays = append(delays, time.Until(srv.GetNextRunDate()).Round(time.Second))
	}

	assert.Equal(t, time.Minute, delays[0])
	assert.Equal(t, 2*time.Minute, delays[1])
	assert.Equal(t, 4*time.Minute, delays[2])
	assert.Equal(t, 8*time.Minute, delays[3])
	// Capped by errMaxDelay, not maxDelay.
	assert.Equal(t, 10*time.Minute, delays[4])
	assert.Equal(t, 10*time.Minute, delays[5])

	// A successful run clears the backoff.
	srv.ResetNextRunDate()
	srv.SetNextRunDateFromNow(0)
	assert.Equal(t, time.Minute, time.Until(srv.GetNextRunDate()).Round(time.Second))
}

func TestPauseFreezesScheduling(t *testing.T) {
	srv, err := NewServer("http://srv/", testParams(t, "server0"))
	require.NoError(t, err)

	srv.ResetNextRunDate()
	next := srv.GetNextRunDate()

	srv.Pause()
	srv.ResetNextRunDate()
	srv.SetNextRunDateFromNow(time.Minute)
	assert.Equal(t, next, srv.GetNextRunDate())

	srv.Resume()
	srv.SetNextRunDateFromNow(time.Minute)
	assert.NotEqual(t, next, srv.GetNextRunDate())
}

func TestStatePersistsAcrossInstances(t *testing.T) {
	params := testParams(t, "server0")
	srv, err := NewServer("http://srv/", params)
	require.NoError(t, err)
	srv.ResetNextRunDate()
	next := srv.GetNextRunDate()

	again, err := NewServer("http://srv/", params)
	require.NoError(t, err)
	assert.Equal(t, next.Unix(), again.GetNextRunDate().Unix())
}

func TestCanonicalURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "glpi.example.com", want: "http://glpi.example.com/"},
		{in: "https://glpi.example.com", want: "https://glpi.example.com/"},
		{in: "http://srv/glpi", want: "http://srv/glpi"},
		{in: "ftp://srv/", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		u, err := canonicalURL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, u.String())
	}
}

func TestDoProlog(t *testing.T) {
	srv, err := NewServer("http://srv/", testParams(t, "server0"))
	require.NoError(t, err)
	assert.False(t, srv.DoProlog())

	srv.SetServerTaskSupport("inventory", TaskSupport{Server: "glpi", Version: "10.0"})
	assert.False(t, srv.DoProlog())

	srv.SetServerTaskSupport("netdiscovery", TaskSupport{Server: "glpiinventory", Version: "1.5"})
	assert.True(t, srv.DoProlog())
}

func TestLocalPlannedTasksFilter(t *testing.T) {
	local := NewLocal("/tmp/out", FormatJSON, testParams(t, "local0"))
	local.SetPlannedTasks([]string{"inventory", "deploy", "wakeonlan", "remoteinventory"})
	assert.Equal(t, []string{"inventory", "remoteinventory"}, local.PlannedTasks())
}

func TestTriggerRunTasksNowRescheduleLast(t *testing.T) {
	srv, err := NewServer("http://srv/", testParams(t, "server0"))
	require.NoError(t, err)
	srv.SetPlannedTasks([]string{"inventory", "deploy", "collect"})

	srv.TriggerRunTasksNow(&event.Event{Type: event.TaskRun, Task: "all", Full: true, Reschedule: true})

	snap := srv.Events().Snapshot()
	require.Len(t, snap, 3)
	assert.False(t, snap[0].Reschedule)
	assert.False(t, snap[1].Reschedule)
	assert.True(t, snap[2].Reschedule)
	assert.Equal(t, "collect", snap[2].Task)
	for _, e := range snap {
		assert.True(t, e.Full)
	}
}

func TestListenerSessions(t *testing.T) {
	store, err := storage.New(storage.Params{Directory: t.TempDir(), Logger: zerolog.Nop()})
	require.NoError(t, err)
	params := Params{ID: "listener", Logger: zerolog.Nop(), Storage: store, MaxDelay: time.Hour}

	l := NewListener(params)
	session := l.Session("remote-1", time.Hour)
	l.SetSessionNonce("remote-1", "abc123")
	assert.Equal(t, "abc123", session.Nonce)

	expired := l.Session("remote-2", -time.Minute)
	assert.True(t, expired.Expired(time.Now()))
	assert.Equal(t, 1, l.ScrubSessions())

	l.FlushSessions()

	// A fresh instance restores the surviving session from disk.
	again := NewListener(params)
	restored := again.Session("remote-1", time.Hour)
	assert.Equal(t, "abc123", restored.Nonce)
}

func TestStorageSubdir(t *testing.T) {
	assert.Equal(t, "http:__srv_glpi", StorageSubdir("http://srv/glpi"))
	assert.Equal(t, "_var_out", StorageSubdir("/var/out"))
}
