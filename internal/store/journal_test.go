package store

import (
	"errors"
	"testing"
	"time"
)

func TestSessionRepository_StartEnd(t *testing.T) {
	s := newTestStore(t)
	repo := s.Sessions()

	sess := &Session{Port: "/dev/ttyUSB0", Baud: 115200, Classifier: "rule"}
	if err := repo.Start(sess); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if sess.ID == "" {
		t.Fatal("Start() should assign an ID")
	}
	if sess.StartedAt.IsZero() {
		t.Error("StartedAt should be set after Start")
	}

	got, err := repo.GetByID(sess.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Port != sess.Port || got.Baud != sess.Baud || got.EndedAt != nil {
		t.Errorf("GetByID() = %+v", got)
	}

	if err := repo.End(sess.ID, time.Now()); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	got, err = repo.GetByID(sess.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.EndedAt == nil {
		t.Error("EndedAt should be set after End")
	}
}

func TestSessionRepository_NotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Sessions().GetByID("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
	if err := s.Sessions().End("missing", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("End() error = %v, want ErrNotFound", err)
	}
}

func TestSessionRepository_List(t *testing.T) {
	s := newTestStore(t)
	repo := s.Sessions()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		if err := repo.Start(&Session{StartedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	}

	all, err := repo.List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(all))
	}
	if !all[0].StartedAt.After(all[2].StartedAt) {
		t.Error("sessions should be newest first")
	}

	two, err := repo.List(2)
	if err != nil {
		t.Fatalf("List(2) error = %v", err)
	}
	if len(two) != 2 {
		t.Errorf("expected 2 sessions, got %d", len(two))
	}
}

func TestDispatchRepository(t *testing.T) {
	s := newTestStore(t)

	sess := &Session{Classifier: "rule"}
	if err := s.Sessions().Start(sess); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	repo := s.Dispatches()
	entries := []*Dispatch{
		{SessionID: sess.ID, Tick: 13, Gesture: "OPEN", LinkState: "connected", Sent: true},
		{SessionID: sess.ID, Tick: 40, Gesture: "FIST", LinkState: "failed", Error: "write timeout"},
	}
	for _, d := range entries {
		if err := repo.Record(d); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
		if d.ID == "" {
			t.Error("Record() should assign an ID")
		}
	}

	got, err := repo.ListBySession(sess.ID)
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 dispatches, got %d", len(got))
	}
	if got[0].Tick != 13 || got[0].Gesture != "OPEN" || !got[0].Sent {
		t.Errorf("first dispatch = %+v", got[0])
	}
	if got[1].Sent || got[1].Error != "write timeout" {
		t.Errorf("second dispatch = %+v", got[1])
	}

	n, err := repo.CountBySession(sess.ID)
	if err != nil || n != 2 {
		t.Errorf("CountBySession() = %d, %v", n, err)
	}

	recent, err := repo.Recent(1)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recent) != 1 || recent[0].Tick != 40 {
		t.Errorf("Recent(1) = %+v", recent)
	}
}

func TestDispatchRepository_Constraints(t *testing.T) {
	s := newTestStore(t)

	sess := &Session{}
	s.Sessions().Start(sess)

	tests := []struct {
		name string
		d    *Dispatch
	}{
		{"unknown session", &Dispatch{SessionID: "nope", Gesture: "OPEN", LinkState: "connected"}},
		{"non-actionable gesture", &Dispatch{SessionID: sess.ID, Gesture: "NONE", LinkState: "connected"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Dispatches().Record(tt.d); err == nil {
				t.Error("expected constraint violation")
			}
		})
	}
}

func TestTemplateRepository(t *testing.T) {
	s := newTestStore(t)
	repo := s.Templates()

	tmpl := &Template{
		Gesture:   "FIST",
		Tolerance: 1.2,
		Landmarks: []Landmark{
			{Index: 1, X: 0.1, Y: 0.2, Z: 0},
			{Index: 0, X: 0, Y: 0, Z: 0},
		},
	}
	if err := repo.Create(tmpl); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	list, err := repo.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 template, got %d", len(list))
	}
	got := list[0]
	if got.Gesture != "FIST" || got.Tolerance != 1.2 {
		t.Errorf("List()[0] = %+v", got)
	}
	if len(got.Landmarks) != 2 || got.Landmarks[0].Index != 0 || got.Landmarks[1].Y != 0.2 {
		t.Errorf("landmarks = %+v", got.Landmarks)
	}

	if err := repo.Delete(tmpl.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(tmpl.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}

	var n int
	s.DB().QueryRow("SELECT COUNT(*) FROM template_landmarks").Scan(&n)
	if n != 0 {
		t.Errorf("landmarks should cascade on delete, %d left", n)
	}
}
