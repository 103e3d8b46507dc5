package training

import "fmt"

// ConditionEncoder maps condition labels (experimental batches) to the
// integer indices a conditional model is trained with. Indices are dense,
// starting at zero, in insertion order.
type ConditionEncoder struct {
	labels []string
	index  map[string]int
}

// CreateDictionary indexes conditions in first-seen order, skipping any label
// listed in targetConditions and any duplicates.
func CreateDictionary(conditions []string, targetConditions []string) *ConditionEncoder {
	skip := make(map[string]bool, len(targetConditions))
	for _, t := range targetConditions {
		skip[t] = true
	}

	e := &ConditionEncoder{index: make(map[string]int)}
	for _, c := range conditions {
		if skip[c] {
			continue
		}
		e.add(c)
	}
	return e
}

// NewConditionEncoder rebuilds an encoder from a label -> index map, for
// example one read back from a checkpoint. Indices must be 0..n-1.
func NewConditionEncoder(m map[string]int) (*ConditionEncoder, error) {
	labels := make([]string, len(m))
	for label, idx := range m {
		if idx < 0 || idx >= len(m) {
			return nil, fmt.Errorf("condition %q has index %d outside [0, %d)", label, idx, len(m))
		}
		if labels[idx] != "" {
			return nil, fmt.Errorf("conditions %q and %q share index %d", labels[idx], label, idx)
		}
		labels[idx] = label
	}

	e := &ConditionEncoder{index: make(map[string]int, len(m))}
	for _, label := range labels {
		e.add(label)
	}
	return e, nil
}

func (e *ConditionEncoder) add(label string) bool {
	if _, ok := e.index[label]; ok {
		return false
	}
	e.index[label] = len(e.labels)
	e.labels = append(e.labels, label)
	return true
}

// Len returns the number of known conditions
func (e *ConditionEncoder) Len() int {
	return len(e.labels)
}

// Index returns the index of label
func (e *ConditionEncoder) Index(label string) (int, bool) {
	idx, ok := e.index[label]
	return idx, ok
}

// Labels returns the labels ordered by index
func (e *ConditionEncoder) Labels() []string {
	return append([]string(nil), e.labels...)
}

// Map returns a copy of the label -> index mapping
func (e *ConditionEncoder) Map() map[string]int {
	m := make(map[string]int, len(e.index))
	for k, v := range e.index {
		m[k] = v
	}
	return m
}

// Clone returns an independent copy
func (e *ConditionEncoder) Clone() *ConditionEncoder {
	c := &ConditionEncoder{index: make(map[string]int, len(e.index))}
	for _, label := range e.labels {
		c.add(label)
	}
	return c
}

// Extend returns a copy with newLabels appended at the next free indices.
// Labels that are already known keep their index. The receiver is unchanged.
func (e *ConditionEncoder) Extend(newLabels []string) (*ConditionEncoder, []string) {
	c := e.Clone()
	var added []string
	for _, label := range newLabels {
		if c.add(label) {
			added = append(added, label)
		}
	}
	return c, added
}

// Encode maps labels to indices. Unknown labels map to index 0, which is how
// cells from conditions the encoder has never seen are fed to a model.
func (e *ConditionEncoder) Encode(labels []string) []int {
	out := make([]int, len(labels))
	for i, label := range labels {
		if idx, ok := e.index[label]; ok {
			out[i] = idx
		}
	}
	return out
}
