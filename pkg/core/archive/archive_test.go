package archive

import (
	"context"
	"testing"
)

func TestOpen_EmptyDSNDisablesArchive(t *testing.T) {
	a, err := Open(context.Background(), "   ", nil)
	if err != nil {
		t.Fatalf("open with empty dsn: %v", err)
	}
	if a != nil {
		t.Fatalf("expected nil archive for empty dsn")
	}
	if a.Enabled() {
		t.Fatalf("nil archive should report disabled")
	}
}

func TestNilArchive_WritesAreNoops(t *testing.T) {
	var a *Archive
	if err := a.SaveSession(context.Background(), nil); err != nil {
		t.Fatalf("nil archive SaveSession: %v", err)
	}
	if err := a.SaveAction(context.Background(), nil); err != nil {
		t.Fatalf("nil archive SaveAction: %v", err)
	}
	a.Close()
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("no embedded migrations found")
	}
}
