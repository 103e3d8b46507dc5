package training

import (
	"testing"
)

// TestCreateDictionary tests indexing of reference conditions
func TestCreateDictionary(t *testing.T) {
	tests := []struct {
		name       string
		conditions []string
		targets    []string
		expected   []string
	}{
		{"NoTargets", []string{"Batch0", "Batch1", "Batch2"}, nil, []string{"Batch0", "Batch1", "Batch2"}},
		{"SkipsTargets", []string{"Batch0", "Batch8", "Batch1", "Batch9"}, []string{"Batch8", "Batch9"}, []string{"Batch0", "Batch1"}},
		{"SkipsDuplicates", []string{"B", "A", "B", "A"}, nil, []string{"B", "A"}},
		{"AllTargets", []string{"Batch8"}, []string{"Batch8"}, nil},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			enc := CreateDictionary(test.conditions, test.targets)
			if enc.Len() != len(test.expected) {
				t.Fatalf("Expected %d conditions, got %d (%v)", len(test.expected), enc.Len(), enc.Labels())
			}
			for i, label := range test.expected {
				idx, ok := enc.Index(label)
				if !ok || idx != i {
					t.Errorf("Index(%q) = %d, %v; expected %d", label, idx, ok, i)
				}
			}
		})
	}
}

// TestEncodeUnknownMapsToZero tests that unseen conditions share index 0
func TestEncodeUnknownMapsToZero(t *testing.T) {
	enc := CreateDictionary([]string{"Batch0", "Batch1"}, nil)

	got := enc.Encode([]string{"Batch1", "Batch8", "Batch0", "Batch9"})
	expected := []int{1, 0, 0, 0}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Encode[%d] = %d, expected %d", i, got[i], expected[i])
		}
	}

}

// TestExtendDoesNotMutate tests that extension appends after existing indices
func TestExtendDoesNotMutate(t *testing.T) {
	base := CreateDictionary([]string{"Batch0", "Batch1"}, nil)

	extended, added := base.Extend([]string{"Batch8", "Batch0", "Batch9"})
	if len(added) != 2 || added[0] != "Batch8" || added[1] != "Batch9" {
		t.Errorf("Expected [Batch8 Batch9] added, got %v", added)
	}
	if extended.Len() != 4 {
		t.Fatalf("Expected 4 conditions, got %d", extended.Len())
	}
	if idx, _ := extended.Index("Batch9"); idx != 3 {
		t.Errorf("Expected Batch9 at 3, got %d", idx)
	}
	if base.Len() != 2 {
		t.Errorf("Base encoder was mutated: %v", base.Labels())
	}
	if _, ok := base.Index("Batch8"); ok {
		t.Error("Base encoder learned Batch8")
	}
}

// TestNewConditionEncoder tests rebuilding an encoder from a map
func TestNewConditionEncoder(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		enc, err := NewConditionEncoder(map[string]int{"b": 1, "a": 0, "c": 2})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		labels := enc.Labels()
		if labels[0] != "a" || labels[1] != "b" || labels[2] != "c" {
			t.Errorf("Unexpected label order %v", labels)
		}
		m := enc.Map()
		m["z"] = 9
		if _, ok := enc.Index("z"); ok {
			t.Error("Map must return a copy")
		}
	})

	t.Run("OutOfRange", func(t *testing.T) {
		if _, err := NewConditionEncoder(map[string]int{"a": 0, "b": 2}); err == nil {
			t.Error("Expected error for sparse indices")
		}
	})

	t.Run("Duplicate", func(t *testing.T) {
		if _, err := NewConditionEncoder(map[string]int{"a": 0, "b": 0}); err == nil {
			t.Error("Expected error for shared index")
		}
	})
}
