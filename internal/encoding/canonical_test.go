package encoding

import (
	"testing"
)

func TestCanonicalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		want    string
		wantErr bool
	}{
		{
			name:  "simple object sorted keys",
			input: map[string]any{"z": 1, "a": 2, "m": 3},
			want:  `{"a":2,"m":3,"z":1}`,
		},
		{
			name:  "nested object sorted keys",
			input: map[string]any{"b": map[string]any{"d": 1, "c": 2}, "a": 3},
			want:  `{"a":3,"b":{"c":2,"d":1}}`,
		},
		{
			name:  "array preserved order",
			input: []any{3, 1, 2},
			want:  `[3,1,2]`,
		},
		{
			name:  "mixed types",
			input: map[string]any{"str": "hello", "num": 42, "bool": true, "null": nil},
			want:  `{"bool":true,"null":null,"num":42,"str":"hello"}`,
		},
		{
			name:  "no html escaping",
			input: map[string]any{"rel": "a<b>&c"},
			want:  `{"rel":"a<b>&c"}`,
		},
		{
			name:  "empty object",
			input: map[string]any{},
			want:  `{}`,
		},
		{
			name:  "empty array",
			input: []any{},
			want:  `[]`,
		},
		{
			name: "event envelope structure",
			input: map[string]any{
				"graph_id":   "graph_123",
				"event_type": "node_added",
				"payload": map[string]any{
					"node_id":  "node_1",
					"label":    "Start",
					"position": map[string]any{"x": 1.5, "y": 0, "z": -2},
				},
			},
			want: `{"event_type":"node_added","graph_id":"graph_123","payload":{"label":"Start","node_id":"node_1","position":{"x":1.5,"y":0,"z":-2}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalJSON(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("CanonicalJSON() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if string(got) != tt.want {
				t.Errorf("CanonicalJSON() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestContentHash(t *testing.T) {
	got, err := ContentHash(map[string]any{"key": "value"})
	if err != nil {
		t.Fatalf("ContentHash() error = %v", err)
	}
	// 128 bits = 16 bytes = 32 hex chars
	if len(got) != 32 {
		t.Errorf("ContentHash() length = %d, want 32", len(got))
	}
}

func TestContentHash_Deterministic(t *testing.T) {
	// Same input in different key order should produce same hash
	input1 := map[string]any{"z": 1, "a": 2, "m": 3}
	input2 := map[string]any{"a": 2, "m": 3, "z": 1}

	hash1, err := ContentHash(input1)
	if err != nil {
		t.Fatalf("ContentHash(input1) error = %v", err)
	}
	hash2, err := ContentHash(input2)
	if err != nil {
		t.Fatalf("ContentHash(input2) error = %v", err)
	}
	if hash1 != hash2 {
		t.Errorf("ContentHash not deterministic: %s, %s", hash1, hash2)
	}
}

func TestContentHash_DifferentInputsDifferentHashes(t *testing.T) {
	hash1, _ := ContentHash(map[string]any{"key": "value1"})
	hash2, _ := ContentHash(map[string]any{"key": "value2"})
	if hash1 == hash2 {
		t.Error("Different inputs should produce different hashes")
	}
}

func TestContentHashBytes_MatchesCanonicalHash(t *testing.T) {
	canonical, err := CanonicalJSON(map[string]any{"a": 1})
	if err != nil {
		t.Fatalf("CanonicalJSON() error = %v", err)
	}
	fromValue, err := ContentHash(map[string]any{"a": 1})
	if err != nil {
		t.Fatalf("ContentHash() error = %v", err)
	}
	if got := ContentHashBytes(canonical); got != fromValue {
		t.Errorf("ContentHashBytes() = %s, want %s", got, fromValue)
	}
}
