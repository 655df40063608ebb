package secrets

import (
	"strings"
	"testing"
)

func TestGenerateTokenLength(t *testing.T) {
	tok, err := GenerateToken(TokenLen)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if len(tok) != TokenLen {
		t.Errorf("len(token) = %d, want %d", len(tok), TokenLen)
	}
	for _, c := range tok {
		if !strings.ContainsRune(alphabet, c) {
			t.Errorf("token contains character %q outside alphabet", c)
		}
	}
}

func TestGenerateTokenUnpredictable(t *testing.T) {
	a, err := GenerateToken(TokenLen)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	b, err := GenerateToken(TokenLen)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if a == b {
		t.Errorf("two consecutive tokens matched: %q", a)
	}
}

func TestPathAllocatorGeneratesLettersOnly(t *testing.T) {
	alloc := NewPathAllocator()
	name, err := alloc.GeneratePath(8, 256)
	if err != nil {
		t.Fatalf("GeneratePath: %v", err)
	}
	if len(name) != 8 {
		t.Errorf("len(name) = %d, want 8", len(name))
	}
	for _, c := range name {
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			t.Errorf("path name contains non-letter %q", c)
		}
	}
}

func TestPathAllocatorAvoidsCollisions(t *testing.T) {
	alloc := NewPathAllocator()
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		name, err := alloc.GeneratePath(6, 256)
		if err != nil {
			t.Fatalf("GeneratePath: %v", err)
		}
		if seen[name] {
			t.Fatalf("collision: %q generated twice", name)
		}
		seen[name] = true
	}
}

func TestPathAllocatorRejectsOversizedLength(t *testing.T) {
	alloc := NewPathAllocator()
	if _, err := alloc.GeneratePath(300, 256); err == nil {
		t.Errorf("expected error when length exceeds buffer")
	}
}

func TestPathAllocatorReleaseAllowsReuse(t *testing.T) {
	alloc := NewPathAllocator()
	name, err := alloc.GeneratePath(6, 256)
	if err != nil {
		t.Fatalf("GeneratePath: %v", err)
	}
	alloc.Release(name)
	if _, exists := alloc.allocated[name]; exists {
		t.Errorf("name still tracked as allocated after Release")
	}
}
