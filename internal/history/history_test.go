package history

import (
	"fmt"
	"sync"
	"testing"
)

func TestStore_NewestFirstAndBounded(t *testing.T) {
	s := New[int](3)
	for i := 1; i <= 5; i++ {
		s.Add(i)
	}
	got := s.List()
	want := []int{5, 4, 3}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("List = %v, want %v", got, want)
	}
	if s.Len() != 3 {
		t.Errorf("Len = %d", s.Len())
	}
}

func TestStore_ListIsCopy(t *testing.T) {
	s := New[string](2)
	s.Add("a")
	l := s.List()
	l[0] = "changed"
	if s.List()[0] != "a" {
		t.Error("List exposed internal storage")
	}
}

func TestStore_ClearAndResize(t *testing.T) {
	s := New[int](0)
	for i := range DefaultSize + 5 {
		s.Add(i)
	}
	if s.Len() != DefaultSize {
		t.Fatalf("Len = %d, want %d", s.Len(), DefaultSize)
	}
	s.Resize(2)
	if got := s.List(); fmt.Sprint(got) != fmt.Sprint([]int{DefaultSize + 4, DefaultSize + 3}) {
		t.Errorf("after Resize List = %v", got)
	}
	s.Clear()
	if s.Len() != 0 {
		t.Errorf("Len after Clear = %d", s.Len())
	}
}

func TestStore_Concurrent(t *testing.T) {
	s := New[int](10)
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Add(i)
			_ = s.List()
		}()
	}
	wg.Wait()
	if s.Len() != 10 {
		t.Errorf("Len = %d, want 10", s.Len())
	}
}
