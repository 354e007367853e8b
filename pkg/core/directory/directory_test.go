package directory

import (
	"context"
	"testing"

	"github.com/villagehq/village/pkg/core"
)

func TestInMemory_ElderLookup(t *testing.T) {
	d := NewInMemory(DemoElder())

	e, err := d.Elder(context.Background(), "margaret")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if e.Name != "Margaret" || len(e.Village) == 0 {
		t.Fatalf("unexpected elder: %+v", e)
	}

	_, err = d.Elder(context.Background(), "nobody")
	if !core.IsNotFound(err) {
		t.Fatalf("err=%v, want not found", err)
	}
}

func TestInMemory_MemberLookup(t *testing.T) {
	d := NewInMemory(DemoElder())

	m, err := d.Member(context.Background(), "margaret", "sarah")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if m.Role != "family" || m.Phone == "" {
		t.Fatalf("unexpected member: %+v", m)
	}

	if _, err := d.Member(context.Background(), "margaret", "ghost"); !core.IsNotFound(err) {
		t.Fatalf("err=%v, want not found", err)
	}
	if _, err := d.Member(context.Background(), "nobody", "sarah"); !core.IsNotFound(err) {
		t.Fatalf("err=%v, want not found", err)
	}
}
