package pagination

import (
	"testing"
	"time"
)

func TestCursorEncodeDecode(t *testing.T) {
	tests := []struct {
		name      string
		timestamp time.Time
		id        string
	}{
		{
			name:      "basic cursor",
			timestamp: time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
			id:        "abc123",
		},
		{
			name:      "cursor with uuid",
			timestamp: time.Date(2026, 6, 7, 0, 55, 0, 0, time.UTC),
			id:        "550e8400-e29b-41d4-a716-446655440000",
		},
		{
			name:      "cursor with special chars in id",
			timestamp: time.Now().Truncate(time.Millisecond),
			id:        "post_key_123",
		},
		{
			name:      "zero time",
			timestamp: time.Time{},
			id:        "id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := EncodeCursor(tt.timestamp, tt.id)
			if encoded == "" {
				t.Fatal("encoded cursor should not be empty")
			}

			cursor, err := DecodeCursor(encoded)
			if err != nil {
				t.Fatalf("failed to decode cursor: %v", err)
			}

			if !cursor.Timestamp.Equal(tt.timestamp) {
				t.Errorf("timestamp mismatch: got %v, want %v", cursor.Timestamp, tt.timestamp)
			}
			if cursor.ID != tt.id {
				t.Errorf("id mismatch: got %q, want %q", cursor.ID, tt.id)
			}
		})
	}
}

func TestDecodeCursorErrors(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
		wantErr bool
	}{
		{
			name:    "empty cursor",
			encoded: "",
			wantErr: false, // nil cursor, no error
		},
		{
			name:    "invalid base64",
			encoded: "not-valid-base64!!!",
			wantErr: true,
		},
		{
			name:    "wrong format - no ts prefix",
			encoded: "aWQ6YWJjMTIz", // base64("id:abc123")
			wantErr: true,
		},
		{
			name:    "wrong format - no id segment",
			encoded: "dHM6MTcwNDI3MzgwMDAwMA==", // base64("ts:1704273800000")
			wantErr: true,
		},
		{
			name:    "invalid timestamp",
			encoded: "dHM6bm90YW51bWJlcjppZDphYmM=", // base64("ts:notanumber:id:abc")
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cursor, err := DecodeCursor(tt.encoded)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if tt.encoded == "" && cursor != nil {
					t.Error("empty input should return nil cursor")
				}
			}
		})
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		input    int
		expected int
	}{
		{0, DefaultLimit},
		{-1, DefaultLimit},
		{1, 1},
		{50, 50},
		{500, 500},
		{501, MaxLimit},
		{1000, MaxLimit},
	}

	for _, tt := range tests {
		result := ClampLimit(tt.input)
		if result != tt.expected {
			t.Errorf("ClampLimit(%d) = %d, want %d", tt.input, result, tt.expected)
		}
	}
}

func TestParse(t *testing.T) {
	validCursor := EncodeCursor(time.Now(), "test-id")

	tests := []struct {
		name       string
		limit      int
		after      string
		wantLimit  int
		wantCursor bool
		wantErr    bool
	}{
		{
			name:      "zero limit, no cursor",
			wantLimit: DefaultLimit,
		},
		{
			name:      "custom limit, no cursor",
			limit:     25,
			wantLimit: 25,
		},
		{
			name:       "with valid cursor",
			limit:      10,
			after:      validCursor,
			wantLimit:  10,
			wantCursor: true,
		},
		{
			name:    "with invalid cursor",
			limit:   10,
			after:   "invalid-cursor",
			wantErr: true,
		},
		{
			name:      "limit over max",
			limit:     1000,
			wantLimit: MaxLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := Parse(tt.limit, tt.after)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if params.Limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", params.Limit, tt.wantLimit)
			}
			if tt.wantCursor && params.Cursor == nil {
				t.Error("expected cursor, got nil")
			}
			if !tt.wantCursor && params.Cursor != nil {
				t.Error("expected nil cursor, got non-nil")
			}
		})
	}
}

func TestKeysetBuilder(t *testing.T) {
	builder := &KeysetBuilder{
		TimestampColumn: "created_at",
		IDColumn:        "id",
	}

	cursor := &Cursor{
		Timestamp: time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
		ID:        "abc123",
	}

	t.Run("condition with cursor", func(t *testing.T) {
		params := &Params{Cursor: cursor}
		condition, args := builder.Condition(params, 3)

		if condition != "(created_at, id) < ($3, $4)" {
			t.Errorf("condition = %q, want %q", condition, "(created_at, id) < ($3, $4)")
		}
		if len(args) != 2 {
			t.Errorf("args len = %d, want 2", len(args))
		}
	})

	t.Run("nil cursor", func(t *testing.T) {
		params := &Params{}
		condition, args := builder.Condition(params, 1)

		if condition != "" {
			t.Errorf("condition should be empty for nil cursor, got %q", condition)
		}
		if args != nil {
			t.Errorf("args should be nil for nil cursor")
		}
	})

	t.Run("order by", func(t *testing.T) {
		if got := builder.OrderBy(); got != "ORDER BY created_at DESC, id DESC" {
			t.Errorf("orderBy = %q", got)
		}
	})
}

func TestBuildPage(t *testing.T) {
	page := BuildPage(11, 10, "cursor-x")
	if !page.HasMore {
		t.Error("expected HasMore when results exceed limit")
	}
	if page.EndCursor != "cursor-x" {
		t.Errorf("end cursor = %q", page.EndCursor)
	}

	page = BuildPage(5, 10, "")
	if page.HasMore {
		t.Error("expected HasMore=false when results fit the limit")
	}
}
