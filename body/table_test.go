package body

import (
	"fmt"
	"sync"
	"testing"
)

func TestHandlerTable(t *testing.T) {
	table := NewHandlerTable()

	if table.Len() != 0 {
		t.Errorf("Len() = %d, want 0", table.Len())
	}
	if _, ok := table.Get("cbs.a.b"); ok {
		t.Error("Get on empty table should miss")
	}

	if replaced := table.Set("cbs.b.x", constHandler(`1`)); replaced {
		t.Error("first Set should not report a replacement")
	}
	if replaced := table.Set("cbs.b.x", constHandler(`2`)); !replaced {
		t.Error("second Set should report a replacement")
	}
	table.Set("cbs.a.x", constHandler(`3`))

	if got := table.Subjects(); len(got) != 2 || got[0] != "cbs.a.x" || got[1] != "cbs.b.x" {
		t.Errorf("Subjects() = %v, want sorted", got)
	}

	table.Delete("cbs.a.x")
	if _, ok := table.Get("cbs.a.x"); ok {
		t.Error("Get after Delete should miss")
	}
	table.Delete("cbs.unknown.x")

	table.Clear()
	if table.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", table.Len())
	}
}

func TestHandlerTable_Concurrent(t *testing.T) {
	table := NewHandlerTable()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		subject := fmt.Sprintf("cbs.svc.op%d", i%5)
		go func() {
			defer wg.Done()
			table.Set(subject, constHandler(`1`))
		}()
		go func() {
			defer wg.Done()
			table.Get(subject)
			table.Subjects()
		}()
	}
	wg.Wait()

	if table.Len() != 5 {
		t.Errorf("Len() = %d, want 5", table.Len())
	}
}
