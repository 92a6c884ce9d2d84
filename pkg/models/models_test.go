package models

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestMemberIDsAcceptsBothRepresentations(t *testing.T) {
	raw := `{"id":"s1","adminId":"a","members":["a",{"uid":"b"},{"uid":""},"c"],"memberCount":3}`
	var s Space
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := MemberIDs{"a", "b", "c"}
	if !reflect.DeepEqual(s.Members, want) {
		t.Fatalf("members = %v, want %v", s.Members, want)
	}
	if !s.Members.Contains("b") || s.Members.Contains("z") {
		t.Fatalf("Contains mismatch for %v", s.Members)
	}
}

func TestMemberIDsRejectsGarbage(t *testing.T) {
	var m MemberIDs
	if err := json.Unmarshal([]byte(`[42]`), &m); err == nil {
		t.Fatal("expected error for numeric member entry")
	}
}

func TestCountBase(t *testing.T) {
	tests := []struct {
		name  string
		space Space
		want  int
	}{
		{"memberCount wins", Space{MemberCount: 4, Members: MemberIDs{"a"}}, 4},
		{"falls back to members", Space{Members: MemberIDs{"a", "b"}}, 2},
		{"defaults to one", Space{}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.space.CountBase(); got != tt.want {
				t.Fatalf("CountBase = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTaskStatusProgress(t *testing.T) {
	tests := map[TaskStatus]int{
		StatusTodo:       0,
		StatusInProgress: 50,
		StatusCompleted:  100,
	}
	for status, want := range tests {
		if got := status.Progress(); got != want {
			t.Errorf("%s.Progress() = %d, want %d", status, got, want)
		}
	}
	if TaskStatus("done").Valid() {
		t.Error("unknown status must be invalid")
	}
}

func TestDefaultSettings(t *testing.T) {
	u := User{}
	got := u.EffectiveSettings()
	if !got.EmailNotifications || !got.TaskReminders || got.WeeklyDigest {
		t.Fatalf("unexpected defaults %+v", got)
	}
}
