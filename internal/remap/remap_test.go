package remap

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_ReplacesMatchingLeaves(t *testing.T) {
	m := Map{"A": "B"}
	rec := map[string]any{"id": "x", "owner": "A", "tags": []any{"A", "C"}}

	got := Record(rec, m)

	assert.Equal(t, map[string]any{"id": "x", "owner": "B", "tags": []any{"B", "C"}}, got)
}

func TestRecord_DoesNotMutateInput(t *testing.T) {
	m := Map{"A": "B"}
	rec := map[string]any{"owner": "A", "nested": map[string]any{"user_id": "A"}}

	_ = Record(rec, m)

	assert.Equal(t, "A", rec["owner"])
	assert.Equal(t, "A", rec["nested"].(map[string]any)["user_id"])
}

func TestValue_NestedAndJoined(t *testing.T) {
	const oldID = "6d431ee8-e4b4-4fa3-8d1f-45d6f4367f0d"
	const newID = "785463f5-24bf-413d-8052-17a208889a93"
	m := Map{oldID: newID}

	raw := `{
		"id": "m1",
		"user_id": "` + oldID + `",
		"teams": {"id": "t1", "admin_id": "` + oldID + `", "name": "Trip"},
		"splits": [
			{"participant": "` + oldID + `", "amount": 12.5},
			{"participant": "someone-else", "amount": 3}
		],
		"note": "paid by ` + oldID + `",
		"active": true,
		"deleted_at": null
	}`
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))

	got := Record(rec, m)

	assert.Equal(t, newID, got["user_id"])
	assert.Equal(t, newID, got["teams"].(map[string]any)["admin_id"])
	splits := got["splits"].([]any)
	require.Len(t, splits, 2)
	assert.Equal(t, newID, splits[0].(map[string]any)["participant"])
	assert.Equal(t, "someone-else", splits[1].(map[string]any)["participant"])
	assert.Equal(t, 12.5, splits[0].(map[string]any)["amount"])
	// whole-value matching only
	assert.Equal(t, "paid by "+oldID, got["note"])
	assert.Equal(t, true, got["active"])
	assert.Contains(t, got, "deleted_at")
	assert.Nil(t, got["deleted_at"])
}

func TestValue_ShapePreserved(t *testing.T) {
	m := Map{"old": "new"}
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"number", 3.0, 3.0},
		{"bool", false, false},
		{"unmapped string", "keep", "keep"},
		{"mapped string", "old", "new"},
		{"empty slice", []any{}, []any{}},
		{"empty object", map[string]any{}, map[string]any{}},
		{"slice of slices", []any{[]any{"old"}, []any{}}, []any{[]any{"new"}, []any{}}},
		{"keys are not remapped", map[string]any{"old": "x"}, map[string]any{"old": "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Value(tt.in, m))
		})
	}
}

func TestRecords_Count(t *testing.T) {
	m := Map{"u1": "u2"}
	rows := []map[string]any{
		{"id": "t1", "admin_id": "u1"},
		{"id": "t2", "admin_id": "u3", "members": []any{"u1", "u1"}},
	}

	out, n := Records(rows, m)

	assert.Equal(t, 3, n)
	assert.Equal(t, "u2", out[0]["admin_id"])
	assert.Equal(t, []any{"u2", "u2"}, out[1]["members"])
	assert.Equal(t, 3, Count(rows, m))
}

func TestMap_Validate(t *testing.T) {
	tests := []struct {
		name    string
		m       Map
		wantErr string
	}{
		{"nil map", nil, ""},
		{"valid", Map{"a": "b", "c": "d"}, ""},
		{"empty key", Map{"": "b"}, "empty key"},
		{"empty value", Map{"a": ""}, "empty value"},
		{"identity", Map{"a": "a"}, "maps to itself"},
		{"chain", Map{"a": "b", "b": "c"}, ""},
		{"swap", Map{"a": "b", "b": "a"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMap_Swap(t *testing.T) {
	m := Map{"a": "b", "b": "a"}
	require.NoError(t, m.Validate())

	out := Record(map[string]any{"from": "a", "to": "b", "both": []any{"a", "b", "c"}}, m)
	assert.Equal(t, map[string]any{"from": "b", "to": "a", "both": []any{"b", "a", "c"}}, out)
	assert.Equal(t, []string{"a", "b"}, m.Chained())
}

func TestMap_Chained(t *testing.T) {
	assert.Empty(t, Map{"a": "b", "c": "d"}.Chained())
	assert.Equal(t, []string{"a"}, Map{"a": "b", "b": "c"}.Chained())
}
