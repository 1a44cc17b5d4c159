package models

import "testing"

func TestReadingState(t *testing.T) {
	cases := []struct {
		name string
		user User
		want ReadingState
	}{
		{"no document", User{}, StateNoDocument},
		{"zero pages", User{DocumentPath: "/books/a.pdf"}, StateNoDocument},
		{"in progress", User{DocumentPath: "/books/a.pdf", CurrentPage: 1, TotalPages: 10}, StateInProgress},
		{"on last page", User{DocumentPath: "/books/a.pdf", CurrentPage: 10, TotalPages: 10}, StateInProgress},
		{"finished", User{DocumentPath: "/books/a.pdf", CurrentPage: 11, TotalPages: 10}, StateFinished},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.user.State(); got != tc.want {
				t.Errorf("State() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestProgress(t *testing.T) {
	u := User{DocumentPath: "/books/a.pdf", CurrentPage: 6, TotalPages: 10}
	if got := u.Progress(); got != 50.0 {
		t.Errorf("Progress() = %.1f, want 50.0", got)
	}

	empty := User{}
	if got := empty.Progress(); got != 0 {
		t.Errorf("Progress() without document = %.1f, want 0", got)
	}

	done := User{DocumentPath: "/books/a.pdf", CurrentPage: 11, TotalPages: 10}
	if got := done.Progress(); got != 100.0 {
		t.Errorf("Progress() past the end = %.1f, want 100.0", got)
	}
}

func TestDailySchedule(t *testing.T) {
	daily := UserSettings{ScheduleTime: "07:30"}
	if !daily.DailySchedule() {
		t.Error("expected daily mode for an HH:MM time")
	}

	interval := UserSettings{ScheduleTime: ScheduleDisabled}
	if interval.DailySchedule() {
		t.Error("expected interval mode when schedule is disabled")
	}
}
