package checkpoints

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the checkpoint wire format.
//
//	Checkpoint      { 1 metadata, 2 repeated weights, 3 training_state, 4 optimizer_state, 5 architecture }
//	Metadata        { 1 version, 2 framework, 3 created_at_unix_nano, 4 description, 5 repeated tags }
//	WeightTensor    { 1 name, 2 packed shape, 3 packed double data, 4 layer, 5 type }
//	TrainingState   { 1 epoch, 2 step, 3 learning_rate, 4 best_loss, 5 best_accuracy, 6 total_steps }
//	OptimizerState  { 1 type, 2 repeated Param{1 key, 2 value}, 3 repeated OptimizerTensor }
//	OptimizerTensor { 1 name, 2 packed shape, 3 packed double data, 4 state_type }
const (
	fieldMetadata       protowire.Number = 1
	fieldWeights        protowire.Number = 2
	fieldTrainingState  protowire.Number = 3
	fieldOptimizerState protowire.Number = 4
	fieldArchitecture   protowire.Number = 5
)

// MarshalProto encodes a checkpoint in protobuf wire format
func MarshalProto(c *Checkpoint) []byte {
	var b []byte
	b = appendMessage(b, fieldMetadata, marshalMetadata(&c.Metadata))
	for i := range c.Weights {
		b = appendMessage(b, fieldWeights, marshalTensor(c.Weights[i].Name, c.Weights[i].Shape, c.Weights[i].Data, c.Weights[i].Layer, c.Weights[i].Type))
	}
	b = appendMessage(b, fieldTrainingState, marshalTrainingState(&c.TrainingState))
	if c.OptimizerState != nil {
		b = appendMessage(b, fieldOptimizerState, marshalOptimizerState(c.OptimizerState))
	}
	if c.Architecture != "" {
		b = protowire.AppendTag(b, fieldArchitecture, protowire.BytesType)
		b = protowire.AppendString(b, c.Architecture)
	}
	return b
}

// UnmarshalProto decodes a checkpoint produced by MarshalProto
func UnmarshalProto(b []byte) (*Checkpoint, error) {
	c := &Checkpoint{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == fieldMetadata && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			return n, unmarshalMetadata(msg, &c.Metadata)
		case num == fieldWeights && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			var w WeightTensor
			if err := unmarshalTensor(msg, &w.Name, &w.Shape, &w.Data, &w.Layer, &w.Type); err != nil {
				return n, fmt.Errorf("weight %d: %w", len(c.Weights), err)
			}
			c.Weights = append(c.Weights, w)
			return n, nil
		case num == fieldTrainingState && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			return n, unmarshalTrainingState(msg, &c.TrainingState)
		case num == fieldOptimizerState && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			c.OptimizerState = &OptimizerState{}
			return n, unmarshalOptimizerState(msg, c.OptimizerState)
		case num == fieldArchitecture && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			c.Architecture = s
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// walkFields iterates over the top-level fields of a message. fn returns the
// number of bytes it consumed from v, or a negative protowire error code.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
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

func appendInt(b []byte, num protowire.Number, v int) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendPackedInts(b []byte, num protowire.Number, vs []int) []byte {
	if len(vs) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, uint64(int64(v)))
	}
	return appendMessage(b, num, packed)
}

func appendPackedDoubles(b []byte, num protowire.Number, vs []float64) []byte {
	if len(vs) == 0 {
		return b
	}
	packed := make([]byte, 0, 8*len(vs))
	for _, v := range vs {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	return appendMessage(b, num, packed)
}

func consumeInt(typ protowire.Type, v []byte, dst *int) int {
	if typ != protowire.VarintType {
		return protowire.ConsumeFieldValue(0, typ, v)
	}
	x, n := protowire.ConsumeVarint(v)
	if n >= 0 {
		*dst = int(int64(x))
	}
	return n
}

func consumeDouble(typ protowire.Type, v []byte, dst *float64) int {
	if typ != protowire.Fixed64Type {
		return protowire.ConsumeFieldValue(0, typ, v)
	}
	x, n := protowire.ConsumeFixed64(v)
	if n >= 0 {
		*dst = math.Float64frombits(x)
	}
	return n
}

func consumeString(typ protowire.Type, v []byte, dst *string) int {
	if typ != protowire.BytesType {
		return protowire.ConsumeFieldValue(0, typ, v)
	}
	s, n := protowire.ConsumeString(v)
	if n >= 0 {
		*dst = s
	}
	return n
}

// consumeInts accepts both packed and unpacked repeated varints
func consumeInts(typ protowire.Type, v []byte, dst *[]int) int {
	switch typ {
	case protowire.VarintType:
		x, n := protowire.ConsumeVarint(v)
		if n >= 0 {
			*dst = append(*dst, int(int64(x)))
		}
		return n
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(v)
		if n < 0 {
			return n
		}
		for len(packed) > 0 {
			x, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return m
			}
			*dst = append(*dst, int(int64(x)))
			packed = packed[m:]
		}
		return n
	}
	return protowire.ConsumeFieldValue(0, typ, v)
}

// consumeDoubles accepts both packed and unpacked repeated doubles
func consumeDoubles(typ protowire.Type, v []byte, dst *[]float64) int {
	switch typ {
	case protowire.Fixed64Type:
		x, n := protowire.ConsumeFixed64(v)
		if n >= 0 {
			*dst = append(*dst, math.Float64frombits(x))
		}
		return n
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(v)
		if n < 0 {
			return n
		}
		if len(packed)%8 != 0 {
			return -1
		}
		if *dst == nil {
			*dst = make([]float64, 0, len(packed)/8)
		}
		for len(packed) > 0 {
			x, m := protowire.ConsumeFixed64(packed)
			if m < 0 {
				return m
			}
			*dst = append(*dst, math.Float64frombits(x))
			packed = packed[m:]
		}
		return n
	}
	return protowire.ConsumeFieldValue(0, typ, v)
}

func marshalMetadata(m *CheckpointMetadata) []byte {
	var b []byte
	b = appendString(b, 1, m.Version)
	b = appendString(b, 2, m.Framework)
	if !m.CreatedAt.IsZero() {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.CreatedAt.UnixNano()))
	}
	b = appendString(b, 4, m.Description)
	for _, tag := range m.Tags {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, tag)
	}
	return b
}

func unmarshalMetadata(b []byte, m *CheckpointMetadata) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, v, &m.Version), nil
		case 2:
			return consumeString(typ, v, &m.Framework), nil
		case 3:
			var nanos int
			n := consumeInt(typ, v, &nanos)
			if n >= 0 && nanos != 0 {
				m.CreatedAt = time.Unix(0, int64(nanos))
			}
			return n, nil
		case 4:
			return consumeString(typ, v, &m.Description), nil
		case 5:
			var tag string
			n := consumeString(typ, v, &tag)
			if n >= 0 {
				m.Tags = append(m.Tags, tag)
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
}

// marshalTensor encodes the layout shared by WeightTensor and OptimizerTensor.
// Empty string fields are omitted.
func marshalTensor(name string, shape []int, data []float64, field4, field5 string) []byte {
	var b []byte
	b = appendString(b, 1, name)
	b = appendPackedInts(b, 2, shape)
	b = appendPackedDoubles(b, 3, data)
	b = appendString(b, 4, field4)
	b = appendString(b, 5, field5)
	return b
}

func unmarshalTensor(b []byte, name *string, shape *[]int, data *[]float64, field4, field5 *string) error {
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, v, name), nil
		case 2:
			return consumeInts(typ, v, shape), nil
		case 3:
			return consumeDoubles(typ, v, data), nil
		case 4:
			return consumeString(typ, v, field4), nil
		case 5:
			if field5 == nil {
				return protowire.ConsumeFieldValue(num, typ, v), nil
			}
			return consumeString(typ, v, field5), nil
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
	if err != nil {
		return err
	}
	if want := numElements(*shape); want != len(*data) {
		return fmt.Errorf("tensor %q: shape %v needs %d values, found %d", *name, *shape, want, len(*data))
	}
	return nil
}

func marshalTrainingState(s *TrainingState) []byte {
	var b []byte
	b = appendInt(b, 1, s.Epoch)
	b = appendInt(b, 2, s.Step)
	b = appendDouble(b, 3, s.LearningRate)
	b = appendDouble(b, 4, s.BestLoss)
	b = appendDouble(b, 5, s.BestAccuracy)
	b = appendInt(b, 6, s.TotalSteps)
	return b
}

func unmarshalTrainingState(b []byte, s *TrainingState) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			return consumeInt(typ, v, &s.Epoch), nil
		case 2:
			return consumeInt(typ, v, &s.Step), nil
		case 3:
			return consumeDouble(typ, v, &s.LearningRate), nil
		case 4:
			return consumeDouble(typ, v, &s.BestLoss), nil
		case 5:
			return consumeDouble(typ, v, &s.BestAccuracy), nil
		case 6:
			return consumeInt(typ, v, &s.TotalSteps), nil
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
}

func marshalOptimizerState(s *OptimizerState) []byte {
	var b []byte
	b = appendString(b, 1, s.Type)
	for _, key := range sortedKeys(s.Parameters) {
		var entry []byte
		entry = appendString(entry, 1, key)
		entry = appendDouble(entry, 2, s.Parameters[key])
		b = appendMessage(b, 2, entry)
	}
	for i := range s.StateData {
		t := &s.StateData[i]
		// OptimizerTensor puts state_type at field 4
		b = appendMessage(b, 3, marshalTensor(t.Name, t.Shape, t.Data, t.StateType, ""))
	}
	return b
}

func unmarshalOptimizerState(b []byte, s *OptimizerState) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == 1:
			return consumeString(typ, v, &s.Type), nil
		case num == 2 && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			var key string
			var value float64
			err := walkFields(msg, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
				switch num {
				case 1:
					return consumeString(typ, v, &key), nil
				case 2:
					return consumeDouble(typ, v, &value), nil
				}
				return protowire.ConsumeFieldValue(num, typ, v), nil
			})
			if err != nil {
				return n, err
			}
			if s.Parameters == nil {
				s.Parameters = make(map[string]float64)
			}
			s.Parameters[key] = value
			return n, nil
		case num == 3 && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			var t OptimizerTensor
			if err := unmarshalTensor(msg, &t.Name, &t.Shape, &t.Data, &t.StateType, nil); err != nil {
				return n, fmt.Errorf("optimizer state %d: %w", len(s.StateData), err)
			}
			s.StateData = append(s.StateData, t)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
