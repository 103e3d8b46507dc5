package checkpoints

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// The binary format is a hand-laid protobuf message so that checkpoints can
// be inspected with protoc --decode_raw without a generated schema:
//
//	message Checkpoint {
//	  Metadata metadata = 1;
//	  bytes config = 2;             // JSON
//	  bytes architecture = 3;       // JSON
//	  repeated Weight weights = 4;
//	  repeated Condition conditions = 5;
//	  TrainingState training_state = 6;
//	  OptimizerState optimizer_state = 7;
//	}
const (
	fieldMetadata       protowire.Number = 1
	fieldConfig         protowire.Number = 2
	fieldArchitecture   protowire.Number = 3
	fieldWeight         protowire.Number = 4
	fieldCondition      protowire.Number = 5
	fieldTrainingState  protowire.Number = 6
	fieldOptimizerState protowire.Number = 7
)

// MarshalBinary encodes a checkpoint in protobuf wire format
func MarshalBinary(c *Checkpoint) ([]byte, error) {
	var b []byte
	b = appendMessage(b, fieldMetadata, marshalMetadata(c.Metadata))
	if len(c.Config) > 0 {
		b = appendMessage(b, fieldConfig, c.Config)
	}
	if len(c.Architecture) > 0 {
		arch, err := json.Marshal(c.Architecture)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode architecture")
		}
		b = appendMessage(b, fieldArchitecture, arch)
	}
	for _, w := range c.Weights {
		b = appendMessage(b, fieldWeight, marshalTensor(w.Name, w.Shape, w.Data, "", w.Trainable))
	}
	for _, name := range sortedConditionNames(c.Conditions) {
		var m []byte
		m = appendString(m, 1, name)
		m = appendVarint(m, 2, uint64(c.Conditions[name]))
		b = appendMessage(b, fieldCondition, m)
	}
	b = appendMessage(b, fieldTrainingState, marshalTrainingState(c.TrainingState))
	if c.OptimizerState != nil {
		m, err := marshalOptimizerState(c.OptimizerState)
		if err != nil {
			return nil, err
		}
		b = appendMessage(b, fieldOptimizerState, m)
	}
	return b, nil
}

// UnmarshalBinary decodes a checkpoint written by MarshalBinary
func UnmarshalBinary(b []byte) (*Checkpoint, error) {
	c := &Checkpoint{Conditions: make(map[string]int)}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		if typ != protowire.BytesType {
			return errors.Errorf("field %d: unexpected wire type %d", num, typ)
		}
		switch num {
		case fieldMetadata:
			md, err := unmarshalMetadata(v)
			if err != nil {
				return err
			}
			c.Metadata = md
		case fieldConfig:
			c.Config = append(json.RawMessage(nil), v...)
		case fieldArchitecture:
			if err := json.Unmarshal(v, &c.Architecture); err != nil {
				return errors.Wrap(err, "failed to decode architecture")
			}
		case fieldWeight:
			t, err := unmarshalTensor(v)
			if err != nil {
				return err
			}
			c.Weights = append(c.Weights, WeightTensor{Name: t.Name, Shape: t.Shape, Data: t.Data, Trainable: t.trainable})
		case fieldCondition:
			var name string
			var idx uint64
			err := walkFields(v, func(n protowire.Number, _ protowire.Type, s []byte, u uint64) error {
				switch n {
				case 1:
					name = string(s)
				case 2:
					idx = u
				}
				return nil
			})
			if err != nil {
				return err
			}
			c.Conditions[name] = int(idx)
		case fieldTrainingState:
			ts, err := unmarshalTrainingState(v)
			if err != nil {
				return err
			}
			c.TrainingState = ts
		case fieldOptimizerState:
			os, err := unmarshalOptimizerState(v)
			if err != nil {
				return err
			}
			c.OptimizerState = os
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode binary checkpoint")
	}
	return c, nil
}

func marshalMetadata(md CheckpointMetadata) []byte {
	var b []byte
	b = appendString(b, 1, md.Version)
	b = appendString(b, 2, md.Framework)
	if !md.CreatedAt.IsZero() {
		b = appendVarint(b, 3, uint64(md.CreatedAt.UnixNano()))
	}
	b = appendString(b, 4, md.RunID)
	b = appendString(b, 5, md.Description)
	for _, tag := range md.Tags {
		b = appendString(b, 6, tag)
	}
	return b
}

func unmarshalMetadata(b []byte) (CheckpointMetadata, error) {
	var md CheckpointMetadata
	err := walkFields(b, func(num protowire.Number, _ protowire.Type, v []byte, x uint64) error {
		switch num {
		case 1:
			md.Version = string(v)
		case 2:
			md.Framework = string(v)
		case 3:
			md.CreatedAt = time.Unix(0, int64(x))
		case 4:
			md.RunID = string(v)
		case 5:
			md.Description = string(v)
		case 6:
			md.Tags = append(md.Tags, string(v))
		}
		return nil
	})
	return md, err
}

// decodedTensor is shared by weights and optimizer tensors
type decodedTensor struct {
	OptimizerTensor
	trainable bool
}

func marshalTensor(name string, shape []int, data []float64, stateType string, trainable bool) []byte {
	var b []byte
	b = appendString(b, 1, name)

	var packed []byte
	for _, d := range shape {
		packed = protowire.AppendVarint(packed, uint64(d))
	}
	b = appendMessage(b, 2, packed)

	packed = make([]byte, 0, 8*len(data))
	for _, v := range data {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	b = appendMessage(b, 3, packed)

	if trainable {
		b = appendVarint(b, 4, protowire.EncodeBool(true))
	}
	b = appendString(b, 5, stateType)
	return b
}

func unmarshalTensor(b []byte) (decodedTensor, error) {
	var t decodedTensor
	err := walkFields(b, func(num protowire.Number, _ protowire.Type, v []byte, x uint64) error {
		switch num {
		case 1:
			t.Name = string(v)
		case 2:
			for len(v) > 0 {
				d, n := protowire.ConsumeVarint(v)
				if n < 0 {
					return protowire.ParseError(n)
				}
				t.Shape = append(t.Shape, int(d))
				v = v[n:]
			}
		case 3:
			t.Data = make([]float64, 0, len(v)/8)
			for len(v) > 0 {
				bits, n := protowire.ConsumeFixed64(v)
				if n < 0 {
					return protowire.ParseError(n)
				}
				t.Data = append(t.Data, math.Float64frombits(bits))
				v = v[n:]
			}
		case 4:
			t.trainable = protowire.DecodeBool(x)
		case 5:
			t.StateType = string(v)
		}
		return nil
	})
	return t, err
}

func marshalTrainingState(ts TrainingState) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(ts.Epoch))
	b = appendVarint(b, 2, uint64(ts.Step))
	b = appendDouble(b, 3, ts.LearningRate)
	b = appendDouble(b, 4, ts.BestLoss)
	b = appendVarint(b, 5, protowire.EncodeBool(ts.StoppedEarly))
	return b
}

func unmarshalTrainingState(b []byte) (TrainingState, error) {
	var ts TrainingState
	err := walkFields(b, func(num protowire.Number, _ protowire.Type, v []byte, x uint64) error {
		switch num {
		case 1:
			ts.Epoch = int(x)
		case 2:
			ts.Step = int(x)
		case 3:
			ts.LearningRate = math.Float64frombits(x)
		case 4:
			ts.BestLoss = math.Float64frombits(x)
		case 5:
			ts.StoppedEarly = protowire.DecodeBool(x)
		}
		return nil
	})
	return ts, err
}

func marshalOptimizerState(os *OptimizerState) ([]byte, error) {
	var b []byte
	b = appendString(b, 1, os.Type)
	params, err := json.Marshal(os.Parameters)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode optimizer parameters")
	}
	b = appendMessage(b, 2, params)
	for _, st := range os.StateData {
		b = appendMessage(b, 3, marshalTensor(st.Name, st.Shape, st.Data, st.StateType, false))
	}
	return b, nil
}

func unmarshalOptimizerState(b []byte) (*OptimizerState, error) {
	os := &OptimizerState{}
	err := walkFields(b, func(num protowire.Number, _ protowire.Type, v []byte, x uint64) error {
		switch num {
		case 1:
			os.Type = string(v)
		case 2:
			if err := json.Unmarshal(v, &os.Parameters); err != nil {
				return errors.Wrap(err, "failed to decode optimizer parameters")
			}
		case 3:
			t, err := unmarshalTensor(v)
			if err != nil {
				return err
			}
			os.StateData = append(os.StateData, t.OptimizerTensor)
		}
		return nil
	})
	return os, err
}

// walkFields calls fn for every field of a message. Length-delimited values
// arrive in v, varint and fixed64 values in x.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var v []byte
		var x uint64
		switch typ {
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(b)
		case protowire.VarintType:
			x, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			x, n = protowire.ConsumeFixed64(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := fn(num, typ, v, x); err != nil {
			return err
		}
	}
	return nil
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func sortedConditionNames(conditions map[string]int) []string {
	names := make([]string, 0, len(conditions))
	for name := range conditions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return conditions[names[i]] < conditions[names[j]]
	})
	return names
}
