package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogisticRegressionIsValid(t *testing.T) {
	t.Parallel()

	m := LogisticRegression()
	require.NoError(t, Validate(m))
	require.Equal(t, "logistic_regression", m.Name())
	require.Len(t, m.Nodes(), 8)
}

func TestValidateRejectsDanglingInput(t *testing.T) {
	t.Parallel()

	m := Static{Graph: []Node{{Name: "a", Op: "Plus", Inputs: []string{"missing"}}}}
	require.ErrorContains(t, Validate(m), "unknown input missing")
}

func TestValidateRejectsDuplicates(t *testing.T) {
	t.Parallel()

	m := Static{Graph: []Node{{Name: "a", Op: "X"}, {Name: "a", Op: "Y"}}}
	require.ErrorContains(t, Validate(m), "duplicate node a")
}

func TestNodesReturnsCopy(t *testing.T) {
	t.Parallel()

	m := Static{Graph: []Node{{Name: "a", Op: "X", Inputs: []string{"b"}}}}
	nodes := m.Nodes()
	nodes[0].Inputs[0] = "changed"
	require.Equal(t, "b", m.Graph[0].Inputs[0])
}

func TestByName(t *testing.T) {
	t.Parallel()

	m, ok := ByName("logistic_regression")
	require.True(t, ok)
	require.Len(t, m.Nodes(), 8)

	m, ok = ByName("resnet")
	require.False(t, ok)
	require.Equal(t, "resnet", m.Name())
	require.Empty(t, m.Nodes())
	require.NoError(t, Validate(m))
}
