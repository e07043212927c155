package audiohook

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestInMemoryRegistry_Insert(t *testing.T) {
	reg := NewInMemoryRegistry()
	now := time.Now()
	s1 := NewSession("s1", "org", "corr", now)

	t.Run("success", func(t *testing.T) {
		if err := reg.Insert(s1); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		got, ok := reg.Get("s1")
		if !ok || got != s1 {
			t.Errorf("Get: got %v, ok=%v", got, ok)
		}
	})

	t.Run("duplicate_id_rejected", func(t *testing.T) {
		err := reg.Insert(NewSession("s1", "", "", now))
		if !errors.Is(err, ErrSessionExists) {
			t.Errorf("expected ErrSessionExists, got %v", err)
		}
		if got, _ := reg.Get("s1"); got != s1 {
			t.Error("duplicate insert replaced the live session")
		}
	})

	t.Run("empty_id_rejected", func(t *testing.T) {
		if err := reg.Insert(NewSession("", "", "", now)); !errors.Is(err, ErrEmptySessionID) {
			t.Errorf("expected ErrEmptySessionID, got %v", err)
		}
	})

	if reg.Count() != 1 {
		t.Errorf("Count: expected 1, got %d", reg.Count())
	}
}

func TestInMemoryRegistry_Remove(t *testing.T) {
	reg := NewInMemoryRegistry()
	live := NewSession("s1", "", "", time.Now())
	other := NewSession("s1", "", "", time.Now())
	_ = reg.Insert(live)

	if reg.Remove("s1", other) {
		t.Error("Remove with a different session should not evict the live one")
	}
	if reg.Count() != 1 {
		t.Fatalf("Count: expected 1, got %d", reg.Count())
	}
	if !reg.Remove("s1", live) {
		t.Error("Remove: expected true")
	}
	if reg.Remove("s1", live) {
		t.Error("second Remove should report false")
	}
	if _, ok := reg.Get("s1"); ok {
		t.Error("session still present after Remove")
	}
}

func TestInMemoryRegistry_Summaries(t *testing.T) {
	reg := NewInMemoryRegistry()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = reg.Insert(NewSession("b", "", "", base.Add(time.Second)))
	_ = reg.Insert(NewSession("c", "", "", base))
	_ = reg.Insert(NewSession("a", "", "", base.Add(time.Second)))

	got := reg.Summaries()
	if len(got) != 3 {
		t.Fatalf("Summaries: expected 3, got %d", len(got))
	}
	want := []SessionID{"c", "a", "b"}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("Summaries[%d]: got %s, want %s", i, got[i].ID, id)
		}
		if got[i].State != StateConnecting {
			t.Errorf("Summaries[%d].State: got %s", i, got[i].State)
		}
	}
}

func TestInMemoryRegistry_concurrent(t *testing.T) {
	reg := NewInMemoryRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := NewSession(SessionID(fmt.Sprintf("s%d", i)), "", "", time.Now())
			if err := reg.Insert(s); err != nil {
				t.Errorf("Insert: %v", err)
				return
			}
			_ = reg.Summaries()
			if i%2 == 0 {
				reg.Remove(s.ID(), s)
			}
		}(i)
	}
	wg.Wait()

	if reg.Count() != 25 {
		t.Errorf("Count: expected 25, got %d", reg.Count())
	}
}

func TestInMemoryStore(t *testing.T) {
	st := NewInMemoryStore()
	s := NewSession("x", "", "", time.Now())
	st.SetSession("x", s)
	if got, ok := st.GetSession("x"); !ok || got != s {
		t.Errorf("GetSession: got %v, ok=%v", got, ok)
	}
	if ids := st.ListSessionIDs(); len(ids) != 1 || ids[0] != "x" {
		t.Errorf("ListSessionIDs: got %v", ids)
	}
	st.DeleteSession("x")
	if _, ok := st.GetSession("x"); ok {
		t.Error("DeleteSession: session still present")
	}
}
