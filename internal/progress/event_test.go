package progress

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestEventValidate(t *testing.T) {
	t.Parallel()

	run := RunIDBytes(uuid.NewString())
	now := time.Now()
	tests := []struct {
		name    string
		evt     Event
		wantErr string
	}{
		{"run start", Event{RunID: run, TS: now, Stage: StageRunStart, Total: 5}, ""},
		{"page done", Event{RunID: run, TS: now, Stage: StagePageDone, Page: 1, StatusClass: Status4xx}, ""},
		{"missing run", Event{TS: now, Stage: StageRunStart}, "run id is required"},
		{"missing ts", Event{RunID: run, Stage: StageRunStart}, "timestamp is required"},
		{"page without number", Event{RunID: run, TS: now, Stage: StagePageDone, StatusClass: Status2xx}, "page number"},
		{"page without class", Event{RunID: run, TS: now, Stage: StagePageDone, Page: 1}, "status class"},
		{"unknown stage", Event{RunID: run, TS: now, Stage: "NOPE"}, "unknown stage"},
		{"negative dur", Event{RunID: run, TS: now, Stage: StageRunDone, Dur: -time.Second}, "duration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.evt.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestRunIDRoundTrip(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	evt := Event{RunID: RunIDBytes(id.String())}
	require.Equal(t, id, evt.RunUUID())
	require.Equal(t, [16]byte{}, RunIDBytes("not-a-uuid"))
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, Status2xx, ClassifyStatus(200))
	require.Equal(t, Status3xx, ClassifyStatus(301))
	require.Equal(t, Status4xx, ClassifyStatus(404))
	require.Equal(t, Status5xx, ClassifyStatus(503))
	require.Equal(t, StatusOther, ClassifyStatus(0))
}
