package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginRun_AssignsIncreasingSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first, err := s.BeginRun(ctx, "a.yaml")
	require.NoError(t, err)
	second, err := s.BeginRun(ctx, "b.yaml")
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(2), second.Seq)
	assert.NotEqual(t, first.ID, second.ID)

	latest, err := s.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, "b.yaml", latest.Notebook)
}

func TestLatestRun_Empty(t *testing.T) {
	s := createTestStore(t)

	_, err := s.LatestRun(context.Background())
	assert.Error(t, err)
}

func TestWriteEvent_ReadBackInSeqOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run, err := s.BeginRun(ctx, "nb")
	require.NoError(t, err)

	written := []Event{
		{RunID: run.ID, Seq: 2, Type: "fulfilled", ModuleID: "m", CellID: "a", Name: "a", Version: 2, Value: "1"},
		{RunID: run.ID, Seq: 1, Type: "pending", ModuleID: "m", CellID: "a", Name: "a", Version: 1},
		{RunID: run.ID, Seq: 3, Type: "rejected", ModuleID: "m", CellID: "b", Name: "b", Version: 3,
			Error: "x is not defined", ErrorCode: "NOT_DEFINED"},
	}
	for _, e := range written {
		require.NoError(t, s.WriteEvent(ctx, e))
	}

	events, err := s.ReadEvents(ctx, run.ID, Filter{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{events[0].Seq, events[1].Seq, events[2].Seq})
	assert.Equal(t, "null", events[0].Value)
	assert.Equal(t, "1", events[1].Value)
	assert.Equal(t, "NOT_DEFINED", events[2].ErrorCode)

	only, err := s.ReadEvents(ctx, run.ID, Filter{ModuleID: "m", CellID: "b"})
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, "b", only[0].Name)

	none, err := s.ReadEvents(ctx, "other", Filter{})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, int64(3), runs[0].Events)
}

func TestWriteEvent_Constraints(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run, err := s.BeginRun(ctx, "nb")
	require.NoError(t, err)

	e := Event{RunID: run.ID, Seq: 1, Type: "pending", ModuleID: "m", CellID: "a"}
	require.NoError(t, s.WriteEvent(ctx, e))

	assert.Error(t, s.WriteEvent(ctx, e), "duplicate seq")

	e.Seq, e.Type = 2, "exploded"
	assert.Error(t, s.WriteEvent(ctx, e), "unknown type")

	e.Type, e.RunID = "pending", "no-such-run"
	assert.Error(t, s.WriteEvent(ctx, e), "foreign key")
}

func TestEncodeValue(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"nil", nil, "null"},
		{"int", int64(42), "42"},
		{"string", "héllo", `"héllo"`},
		{"canonical map", map[string]any{"b": int64(1), "a": "x"}, `{"a":"x","b":1}`},
		{"float falls back to json", 0.5, "0.5"},
		{"typed slice falls back to json", []int{1, 2}, "[1,2]"},
		{"html is not escaped", map[string]string{"k": "<b>"}, `{"k":"<b>"}`},
		{"unencodable uses %v", complex(1, 2), `"(1+2i)"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EncodeValue(tt.value))
		})
	}
}
