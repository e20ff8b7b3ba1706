package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// newWriteCmd creates the 'write' subcommand, which appends scalars to a
// fresh event file: write <dir> <name>=<value>@<step>...
func newWriteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "write <dir> <name>=<value>@<step>...",
		Short: "Write scalar values to a new event file",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runWrite,
	}
}

type scalarArg struct {
	name  string
	value float32
	step  uint64
}

func parseScalarArg(raw string) (scalarArg, error) {
	name, rest, ok := cutLast(raw, "=")
	if !ok || name == "" {
		return scalarArg{}, fmt.Errorf("scalar %q: want name=value@step", raw)
	}
	valueStr, stepStr, ok := cutLast(rest, "@")
	if !ok {
		return scalarArg{}, fmt.Errorf("scalar %q: missing @step", raw)
	}
	value, err := strconv.ParseFloat(valueStr, 32)
	if err != nil {
		return scalarArg{}, fmt.Errorf("scalar %q: invalid value: %w", raw, err)
	}
	step, err := strconv.ParseInt(stepStr, 10, 64)
	if err != nil {
		return scalarArg{}, fmt.Errorf("scalar %q: invalid step: %w", raw, err)
	}
	if step < 0 {
		return scalarArg{}, fmt.Errorf("scalar %q: step must be non-negative", raw)
	}
	return scalarArg{name: name, value: float32(value), step: uint64(step)}, nil
}

func cutLast(s, sep string) (string, string, bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

func runWrite(cmd *cobra.Command, args []string) (err error) {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	scalars := make([]scalarArg, 0, len(args)-1)
	for _, raw := range args[1:] {
		s, err := parseScalarArg(raw)
		if err != nil {
			return err
		}
		scalars = append(scalars, s)
	}

	reg := appInstance.Handles()
	h, err := reg.OpenWriter(args[0])
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, reg.CloseWriter(h)) }()
	for _, s := range scalars {
		if err := reg.WriteValue(h, s.name, s.value, s.step); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d scalars to %s\n", len(scalars), args[0])
	return nil
}
