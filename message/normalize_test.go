package message

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism-board/domain"
)

var fixedNow = time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

func testNormalizer() Normalizer {
	return Normalizer{Now: func() time.Time { return fixedNow }}
}

const flatEvent = `{"type":"event","module":"tasks","action":"updated","entityId":"t1","entityType":"task","data":{"id":"t1","status":"DONE"},"userId":"u1","timestamp":"2026-10-18T12:00:00Z","message":"Task updated"}`

func TestNormalizeShapesAreEquivalent(t *testing.T) {
	n := testNormalizer()
	payloads := map[string]string{
		"flat":           flatEvent,
		"message":        `{"message":` + flatEvent + `}`,
		"message-string": `{"message":` + strconv.Quote(flatEvent) + `}`,
		"data":           `{"data":` + flatEvent + `}`,
		"envelope":       `{"type":"event","message":` + flatEvent + `}`,
	}

	want := n.Normalize([]byte(flatEvent))
	require.Equal(t, "EVENT", want.Type)
	require.Equal(t, domain.ModuleTasks, want.Module)
	require.Equal(t, domain.ActionUpdated, want.Action)
	require.Equal(t, domain.EntityTypeTask, want.EntityType)
	require.Equal(t, "t1", want.ID())
	require.NotNil(t, want.UserID)
	require.Equal(t, "u1", *want.UserID)
	require.Equal(t, time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC), want.Timestamp)
	require.NotNil(t, want.Message)
	require.Equal(t, "Task updated", *want.Message)
	require.Equal(t, "DONE", want.Data["status"])

	for name, p := range payloads {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, want, n.Normalize([]byte(p)))
		})
	}
}

func TestNormalizeDefaultsMissingFields(t *testing.T) {
	ev := testNormalizer().Normalize([]byte(`{"entityId":42}`))

	assert.Equal(t, domain.EventTypeMessage, ev.Type)
	assert.Equal(t, domain.Unknown, ev.Module)
	assert.Equal(t, domain.Unknown, ev.Action)
	assert.Equal(t, domain.Unknown, ev.EntityType)
	assert.Equal(t, "42", ev.ID())
	assert.Nil(t, ev.UserID)
	assert.Nil(t, ev.Message)
	assert.NotNil(t, ev.Data)
	assert.Empty(t, ev.Data)
	assert.Equal(t, fixedNow, ev.Timestamp)
}

func TestNormalizeNestedShapeUsesOuterTimestampAndUser(t *testing.T) {
	ev := testNormalizer().Normalize([]byte(`{"userId":"u9","timestamp":1760788800000,"data":{"module":"TASKS","action":"DELETED","entityId":"t3"}}`))

	require.False(t, ev.IsError())
	assert.Equal(t, domain.ActionDeleted, ev.Action)
	require.NotNil(t, ev.UserID)
	assert.Equal(t, "u9", *ev.UserID)
	assert.Equal(t, time.UnixMilli(1760788800000).UTC(), ev.Timestamp)
}

func TestNormalizeTypedEnvelopeReadsNestedEvent(t *testing.T) {
	cases := map[string]string{
		"message": `{"type":"TASK_EVENT","message":{"module":"TASKS","action":"CREATED","entityType":"TASK","entityId":"t1"}}`,
		"data":    `{"type":"TASK_EVENT","userId":"u2","data":{"module":"TASKS","action":"CREATED","entityType":"TASK","entityId":"t1"}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			ev := testNormalizer().Normalize([]byte(raw))

			require.False(t, ev.IsError())
			assert.Equal(t, "TASK_EVENT", ev.Type)
			assert.Equal(t, domain.ModuleTasks, ev.Module)
			assert.Equal(t, domain.ActionCreated, ev.Action)
			assert.Equal(t, domain.EntityTypeTask, ev.EntityType)
			assert.Equal(t, "t1", ev.ID())
		})
	}
}

func TestNormalizeKeepsLargeNumericIDs(t *testing.T) {
	ev := testNormalizer().Normalize([]byte(`{"module":"TASKS","action":"UPDATED","entityId":9007199254740993,"userId":12345678901234567,"timestamp":1760788800123}`))

	assert.Equal(t, "9007199254740993", ev.ID())
	require.NotNil(t, ev.UserID)
	assert.Equal(t, "12345678901234567", *ev.UserID)
	assert.Equal(t, time.UnixMilli(1760788800123).UTC(), ev.Timestamp)
}

func TestNormalizeFlatTakesPrecedence(t *testing.T) {
	ev := testNormalizer().Normalize([]byte(`{"module":"SUPPORT","action":"NEW_MESSAGE","data":{"module":"TASKS","action":"DELETED"}}`))

	assert.Equal(t, "SUPPORT", ev.Module)
	assert.Equal(t, "TASKS", ev.Data["module"])
}

func TestNormalizeWrapsNonObjectData(t *testing.T) {
	ev := testNormalizer().Normalize([]byte(`{"type":"PING","data":[1,2]}`))

	assert.Equal(t, "PING", ev.Type)
	assert.Equal(t, []any{json.Number("1"), json.Number("2")}, ev.Data["value"])
}

func TestNormalizeMalformedPayloads(t *testing.T) {
	cases := map[string]string{
		"not json":      `{"type":`,
		"array":         `[1,2,3]`,
		"string":        `"hello"`,
		"null":          `null`,
		"empty":         ``,
		"no event keys": `{"message":"hi there","foo":1}`,
		"nested plain":  `{"data":{"id":"t1"}}`,
		"bad string":    `{"message":"{not json"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			ev := testNormalizer().Normalize([]byte(raw))
			require.True(t, ev.IsError())
			assert.Equal(t, domain.Unknown, ev.Module)
			assert.Equal(t, domain.Unknown, ev.Action)
			assert.Equal(t, domain.Unknown, ev.EntityType)
			assert.Equal(t, raw, ev.Data["raw"])
			require.NotNil(t, ev.Message)
			assert.NotEmpty(t, *ev.Message)
			assert.Equal(t, fixedNow, ev.Timestamp)
		})
	}
}

func TestNormalizeTimestampLayouts(t *testing.T) {
	n := testNormalizer()
	cases := map[string]time.Time{
		`"2026-10-18T12:00:00.123+02:00"`: time.Date(2026, 10, 18, 10, 0, 0, 123000000, time.UTC),
		`"2026-10-18T12:00:00"`:           time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC),
		`"1760788800000"`:                 time.UnixMilli(1760788800000).UTC(),
		`"yesterday"`:                     fixedNow,
		`true`:                            fixedNow,
	}
	for ts, want := range cases {
		ev := n.Normalize([]byte(`{"type":"X","timestamp":` + ts + `}`))
		assert.Equal(t, want, ev.Timestamp, "timestamp %s", ts)
	}
}
