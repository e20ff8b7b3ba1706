// Package model describes the network whose graph is attached to an event log.
package model

import "errors"

// Node is one operation in a model graph.
type Node struct {
	Name   string
	Op     string
	Inputs []string
}

// Model is the associated model reference bound to an event log. Only its
// graph shape is consumed; weights never leave the training loop.
type Model interface {
	Name() string
	Nodes() []Node
}

// Static is a Model backed by a fixed node list.
type Static struct {
	ModelName string
	Graph     []Node
}

// Name returns the model name.
func (s Static) Name() string {
	return s.ModelName
}

// Nodes returns a copy of the node list.
func (s Static) Nodes() []Node {
	out := make([]Node, len(s.Graph))
	for i, n := range s.Graph {
		out[i] = Node{Name: n.Name, Op: n.Op, Inputs: append([]string(nil), n.Inputs...)}
	}
	return out
}

// Validate reports duplicate or dangling node references.
func Validate(m Model) error {
	if m == nil {
		return nil
	}
	seen := make(map[string]struct{})
	for _, n := range m.Nodes() {
		if n.Name == "" {
			return errors.New("node name is required")
		}
		if _, ok := seen[n.Name]; ok {
			return errors.New("duplicate node " + n.Name)
		}
		seen[n.Name] = struct{}{}
	}
	for _, n := range m.Nodes() {
		for _, in := range n.Inputs {
			if _, ok := seen[in]; !ok {
				return errors.New("node " + n.Name + " references unknown input " + in)
			}
		}
	}
	return nil
}

// LogisticRegression describes a linear classifier trained with softmax
// cross-entropy and scored by classification error.
func LogisticRegression() Static {
	return Static{
		ModelName: "logistic_regression",
		Graph: []Node{
			{Name: "features", Op: "Placeholder"},
			{Name: "labels", Op: "Placeholder"},
			{Name: "w", Op: "Parameter"},
			{Name: "b", Op: "Parameter"},
			{Name: "times", Op: "Times", Inputs: []string{"w", "features"}},
			{Name: "logits", Op: "Plus", Inputs: []string{"times", "b"}},
			{Name: "loss", Op: "CrossEntropyWithSoftmax", Inputs: []string{"logits", "labels"}},
			{Name: "error", Op: "ClassificationError", Inputs: []string{"logits", "labels"}},
		},
	}
}

// ByName returns a built-in model by name. Unknown names yield a model with
// that name and an empty graph, so the event log still records which model
// the caller meant.
func ByName(name string) (Model, bool) {
	switch name {
	case LogisticRegression().ModelName:
		return LogisticRegression(), true
	default:
		return Static{ModelName: name}, false
	}
}
