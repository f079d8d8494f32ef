package admission

import (
	"errors"
	"testing"
	"time"

	"cityhall/appointment-service/internal/models"
)

func openDepartment() models.Department {
	return models.Department{
		DepartmentID:           "d1",
		Name:                   "Permits",
		Active:                 true,
		CanReceiveAppointments: true,
		AllowWalkIns:           true,
		DailyAppointmentLimit:  50,
		AllowSameDay:           true,
		MinDaysAdvance:         1,
		MaxDaysAdvance:         30,
	}
}

func day(offset int) time.Time {
	base := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)
	return base.AddDate(0, 0, offset)
}

func TestCheckReasons(t *testing.T) {
	cases := []struct {
		name  string
		req   Request
		facts func() Facts
		want  Reason
	}{
		{
			name: "department disabled",
			req:  Request{Date: day(3), Today: day(0)},
			facts: func() Facts {
				f := Facts{Department: openDepartment()}
				f.Department.CanReceiveAppointments = false
				return f
			},
			want: ReasonDepartmentDisabled,
		},
		{
			name: "inactive department",
			req:  Request{Date: day(3), Today: day(0)},
			facts: func() Facts {
				f := Facts{Department: openDepartment()}
				f.Department.Active = false
				return f
			},
			want: ReasonDepartmentDisabled,
		},
		{
			name:  "closed date",
			req:   Request{Date: day(3), Today: day(0)},
			facts: func() Facts { return Facts{Department: openDepartment(), DateClosed: true} },
			want:  ReasonClosedDate,
		},
		{
			name: "same day disabled",
			req:  Request{Date: day(0), Today: day(0)},
			facts: func() Facts {
				f := Facts{Department: openDepartment()}
				f.Department.AllowSameDay = false
				return f
			},
			want: ReasonSameDayDisabled,
		},
		{
			name: "too soon",
			req:  Request{Date: day(1), Today: day(0)},
			facts: func() Facts {
				f := Facts{Department: openDepartment()}
				f.Department.MinDaysAdvance = 2
				return f
			},
			want: ReasonTooSoon,
		},
		{
			name:  "too late",
			req:   Request{Date: day(31), Today: day(0)},
			facts: func() Facts { return Facts{Department: openDepartment()} },
			want:  ReasonTooLate,
		},
		{
			name: "walk-ins disabled",
			req:  Request{Date: day(0), Today: day(0), IsWalkIn: true},
			facts: func() Facts {
				f := Facts{Department: openDepartment()}
				f.Department.AllowWalkIns = false
				return f
			},
			want: ReasonWalkInsDisabled,
		},
		{
			name: "daily limit reached",
			req:  Request{Date: day(3), Today: day(0)},
			facts: func() Facts {
				f := Facts{Department: openDepartment(), DailyCount: 50}
				return f
			},
			want: ReasonDailyLimitReached,
		},
		{
			name: "slot full",
			req:  Request{Date: day(3), Today: day(0), HasSlot: true},
			facts: func() Facts {
				return Facts{Department: openDepartment(), SlotCount: 2, SlotMax: 2}
			},
			want: ReasonSlotFull,
		},
	}

	for _, tt := range cases {
		err := Check(tt.req, tt.facts())
		var rej *Rejection
		if !errors.As(err, &rej) {
			t.Fatalf("%s: expected rejection, got %v", tt.name, err)
		}
		if rej.Reason != tt.want {
			t.Fatalf("%s: reason=%s, want %s", tt.name, rej.Reason, tt.want)
		}
	}
}

func TestCheckAdmits(t *testing.T) {
	if err := Check(Request{Date: day(3), Today: day(0)}, Facts{Department: openDepartment()}); err != nil {
		t.Fatalf("scheduled booking: %v", err)
	}

	// Same-day booking is allowed when the flag is set, bypassing the
	// advance window.
	if err := Check(Request{Date: day(0), Today: day(0)}, Facts{Department: openDepartment()}); err != nil {
		t.Fatalf("same-day booking: %v", err)
	}

	// Walk-ins skip slot and window checks but still count daily.
	if err := Check(Request{Date: day(0), Today: day(0), IsWalkIn: true}, Facts{Department: openDepartment(), DailyCount: 49}); err != nil {
		t.Fatalf("walk-in: %v", err)
	}
	err := Check(Request{Date: day(0), Today: day(0), IsWalkIn: true}, Facts{Department: openDepartment(), DailyCount: 50})
	var rej *Rejection
	if !errors.As(err, &rej) || rej.Reason != ReasonDailyLimitReached {
		t.Fatalf("walk-in over limit: got %v", err)
	}

	// The N-th booking fits, the N+1-th is rejected.
	dept := openDepartment()
	dept.DailyAppointmentLimit = 3
	if err := Check(Request{Date: day(3), Today: day(0)}, Facts{Department: dept, DailyCount: 2}); err != nil {
		t.Fatalf("under limit: %v", err)
	}
	err = Check(Request{Date: day(3), Today: day(0)}, Facts{Department: dept, DailyCount: 3})
	if !errors.As(err, &rej) || rej.Reason != ReasonDailyLimitReached {
		t.Fatalf("at limit: got %v", err)
	}
}

func TestCheckNoDailyLimitConfigured(t *testing.T) {
	dept := openDepartment()
	dept.DailyAppointmentLimit = 0
	if err := Check(Request{Date: day(3), Today: day(0)}, Facts{Department: dept, DailyCount: 1000}); err != nil {
		t.Fatalf("unlimited department: %v", err)
	}
}
