package model

import (
	"encoding/json"
	"fmt"

	"kubegems.io/modeleval/pkg/dataset"
)

const (
	SpecTypeDouble = "double"
	SpecTypeTensor = "tensor"
)

type TensorSpec struct {
	Dtype string `json:"dtype"`
	Shape []int  `json:"shape"`
}

// Spec describes one input column or one output tensor.
type Spec struct {
	Type       string      `json:"type"`
	Name       string      `json:"name,omitempty"`
	Required   *bool       `json:"required,omitempty"`
	TensorSpec *TensorSpec `json:"tensor-spec,omitempty"`
}

// Signature is the input/output schema of a model.
type Signature struct {
	Inputs  []Spec `json:"inputs"`
	Outputs []Spec `json:"outputs"`
}

// InferSignature derives a column based input schema from the features and
// a one dimensional tensor output schema from the predictions.
func InferSignature(features *dataset.Frame, predictions []float64) (Signature, error) {
	if len(predictions) != features.Rows() {
		return Signature{}, fmt.Errorf("%w: %d rows but %d predictions", ErrFeatureMismatch, features.Rows(), len(predictions))
	}
	required := true
	sig := Signature{
		Inputs: make([]Spec, 0, features.Cols()),
		Outputs: []Spec{{
			Type:       SpecTypeTensor,
			TensorSpec: &TensorSpec{Dtype: "float64", Shape: []int{-1}},
		}},
	}
	for _, col := range features.Columns {
		sig.Inputs = append(sig.Inputs, Spec{Type: SpecTypeDouble, Name: col, Required: &required})
	}
	return sig, nil
}

// Fields encodes inputs and outputs as json strings, the form stored in an MLmodel file.
func (s Signature) Fields() (map[string]string, error) {
	inputs, err := json.Marshal(s.Inputs)
	if err != nil {
		return nil, err
	}
	outputs, err := json.Marshal(s.Outputs)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"inputs":  string(inputs),
		"outputs": string(outputs),
	}, nil
}

// Example is a sample of model input in pandas "split" orientation.
type Example struct {
	Columns []string    `json:"columns"`
	Data    [][]float64 `json:"data"`
}

func NewExample(features *dataset.Frame, rows int) Example {
	head := features.Head(rows)
	example := Example{Columns: head.Columns, Data: make([][]float64, head.Rows())}
	for i := range example.Data {
		example.Data[i] = head.Row(i)
	}
	return example
}
