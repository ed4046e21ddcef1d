package audit

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultWriterConfig(dir)
	cfg.FlushEveryEvents = 1
	svc, err := NewService(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(svc.Shutdown)
	return svc, dir
}

func TestService_WriteAndReadEvents(t *testing.T) {
	svc, dir := newTestService(t)

	svc.Record(NewPersistedEvent("policy_triggered", map[string]string{"rule": "r1"}, SeverityHigh).WithRequestID("req-001"))
	svc.Record(NewPersistedEvent("action_taken", nil, SeverityInfo).WithRequestID("req-001"))

	require.NoError(t, svc.Flush(context.Background()))

	reader := NewReader(dir)
	events, err := reader.Query(Query{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "policy_triggered", events[0].EventType)
	assert.Equal(t, "action_taken", events[1].EventType)
}

func TestService_ChainVerifies(t *testing.T) {
	svc, dir := newTestService(t)

	for i := 0; i < 5; i++ {
		svc.Record(NewPersistedEvent("event", nil, SeverityInfo))
	}
	require.NoError(t, svc.Flush(context.Background()))

	reader := NewReader(dir)
	persisted, err := reader.Query(Query{})
	require.NoError(t, err)
	require.Len(t, persisted, 5)

	events := make([]Event, len(persisted))
	for i, p := range persisted {
		events[i] = p.toEvent()
	}
	assert.Equal(t, -1, VerifyChain(events))
}

func TestService_TamperedChainFails(t *testing.T) {
	svc, dir := newTestService(t)

	svc.Record(NewPersistedEvent("a", nil, SeverityInfo))
	svc.Record(NewPersistedEvent("b", nil, SeverityInfo))
	svc.Record(NewPersistedEvent("c", nil, SeverityInfo))
	require.NoError(t, svc.Flush(context.Background()))

	reader := NewReader(dir)
	persisted, err := reader.Query(Query{})
	require.NoError(t, err)
	require.Len(t, persisted, 3)

	events := make([]Event, len(persisted))
	for i, p := range persisted {
		events[i] = p.toEvent()
	}
	events[1].EventType = "tampered"

	idx := VerifyChain(events)
	assert.Equal(t, 1, idx)
}

func TestQuery_Filters(t *testing.T) {
	svc, dir := newTestService(t)

	for i := 0; i < 10; i++ {
		sev := SeverityInfo
		if i%2 == 0 {
			sev = SeverityHigh
		}
		svc.Record(NewPersistedEvent("event", nil, sev).WithRequestID(requestIDFor(i)))
	}
	require.NoError(t, svc.Flush(context.Background()))

	reader := NewReader(dir)

	high := SeverityHigh
	got, err := reader.Query(Query{MinSeverity: &high})
	require.NoError(t, err)
	assert.Len(t, got, 5)

	got, err = reader.Query(Query{RequestID: "req-0"})
	require.NoError(t, err)
	assert.Len(t, got, 4) // 0, 3, 6, 9

	page1, err := reader.Query(Query{Limit: 3, Offset: 0})
	require.NoError(t, err)
	assert.Len(t, page1, 3)

	page2, err := reader.Query(Query{Limit: 3, Offset: 3})
	require.NoError(t, err)
	assert.Len(t, page2, 3)
}

func requestIDFor(i int) string {
	return "req-" + string(rune('0'+i%3))
}

func TestExport_CSV(t *testing.T) {
	svc, dir := newTestService(t)

	svc.Record(NewPersistedEvent("test_event", nil, SeverityInfo).WithRegulation("FCA COBS 9A").WithRequestID("req-export"))
	require.NoError(t, svc.Flush(context.Background()))

	reader := NewReader(dir)
	var buf bytes.Buffer
	count, err := reader.Export(Query{}, ExportCSV, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Contains(t, buf.String(), "test_event")
	assert.Contains(t, buf.String(), "FCA COBS 9A")
}

func TestRotation_BySize(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultWriterConfig(dir)
	cfg.MaxFileSize = 1 // rotate after the very first event
	cfg.FlushEveryEvents = 1
	svc, err := NewService(cfg, nil)
	require.NoError(t, err)
	defer svc.Shutdown()

	svc.Record(NewPersistedEvent("a", nil, SeverityInfo))
	svc.Record(NewPersistedEvent("b", nil, SeverityInfo))
	require.NoError(t, svc.Flush(context.Background()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var rotated bool
	for _, e := range entries {
		if e.Name() != currentFileName && filepath.Ext(e.Name()) == ".jsonl" {
			rotated = true
		}
	}
	assert.True(t, rotated, "expected at least one rotated file")
}

func TestRecord_NeverBlocksOnFullChannel(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultWriterConfig(dir)
	svc, err := NewService(cfg, nil)
	require.NoError(t, err)
	defer svc.Shutdown()

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultChannelCapacity*2; i++ {
			svc.Record(NewPersistedEvent("flood", nil, SeverityInfo))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Record blocked under channel pressure")
	}
}
