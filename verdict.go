package mirv

import (
	"fmt"
	"math/big"

	"github.com/benbjohnson/mirv/mir"
)

// Status represents the program-level outcome of executing an entry point.
type Status string

const (
	StatusPass              = Status("Pass")
	StatusAssertionFailed   = Status("AssertionFailed")
	StatusPanicked          = Status("Panicked")
	StatusUndefinedBehavior = Status("UndefinedBehavior")
	StatusStuck             = Status("Stuck")
	StatusUndetermined      = Status("Undetermined")
)

// Verdict represents the classified result of all explored paths.
type Verdict struct {
	Entry  string `json:"entry"`
	Status Status `json:"status"`
	Kind   UBKind `json:"kind,omitempty"`
	Reason string `json:"reason,omitempty"`

	// Number of explored paths, excluding pruned ones.
	Paths int `json:"paths"`

	// Input values that drive execution down the failing path.
	Counterexample []Assignment `json:"counterexample,omitempty"`

	// Value returned by the first finished path.
	Return string `json:"return,omitempty"`
}

// Pass returns true if every explored path completed cleanly.
func (v *Verdict) Pass() bool { return v.Status == StatusPass }

// String returns a one-line summary of the verdict.
func (v *Verdict) String() string {
	s := string(v.Status)
	if v.Kind != "" {
		s += "(" + string(v.Kind) + ")"
	}
	s += fmt.Sprintf(" paths=%d", v.Paths)
	if v.Reason != "" {
		s += ": " + v.Reason
	}
	return s
}

// Assignment represents the value of a symbolic input in a counterexample.
type Assignment struct {
	Name  string `json:"name"`
	Bytes []byte `json:"bytes"`
	Value string `json:"value,omitempty"`
}

// String returns the assignment as "name = value".
func (a Assignment) String() string {
	if a.Value != "" {
		return a.Name + " = " + a.Value
	}
	return fmt.Sprintf("%s = %v", a.Name, a.Bytes)
}

// Verdict classifies the paths terminated so far.
func (e *Executor) Verdict() *Verdict {
	return e.classify()
}

// classify reduces the terminated paths to a single verdict. The program
// passes only if every non-pruned path finished or exited cleanly. Otherwise
// the first definite failure is reported, ahead of stuck and then
// undetermined paths.
func (e *Executor) classify() *Verdict {
	v := &Verdict{Entry: e.fn.Name, Status: StatusPass}

	var failure, stuck, undetermined *ExecutionState
	for _, s := range e.terminated {
		switch s.status {
		case ExecutionStatusPruned:
			continue
		case ExecutionStatusFinished:
			if v.Return == "" && s.ret != nil {
				v.Return = s.ret.String()
			}
		case ExecutionStatusFailed, ExecutionStatusPanicked, ExecutionStatusUndefined:
			if failure == nil {
				failure = s
			}
		case ExecutionStatusStuck:
			if stuck == nil {
				stuck = s
			}
		case ExecutionStatusUndetermined:
			if undetermined == nil {
				undetermined = s
			}
		}
		v.Paths++
	}

	s := failure
	if s == nil {
		s = stuck
	}
	if s == nil {
		s = undetermined
	}
	if s == nil {
		return v
	}

	v.Status = statusOf(s.status)
	if f := s.fault; f != nil {
		v.Kind = f.Kind
		v.Reason = f.Detail
		if f.Cause != nil {
			if v.Reason != "" {
				v.Reason += ": "
			}
			v.Reason += f.Cause.Error()
		}
	}
	if e.config.Mode == ModeSymbolic && s.status != ExecutionStatusStuck {
		v.Counterexample = e.counterexample(s)
	}
	return v
}

func statusOf(status ExecutionStatus) Status {
	switch status {
	case ExecutionStatusFailed:
		return StatusAssertionFailed
	case ExecutionStatusPanicked:
		return StatusPanicked
	case ExecutionStatusUndefined:
		return StatusUndefinedBehavior
	case ExecutionStatusStuck:
		return StatusStuck
	case ExecutionStatusUndetermined:
		return StatusUndetermined
	default:
		return StatusPass
	}
}

// counterexample solves the path constraints of s for its inputs. Returns
// nil if no model is available.
func (e *Executor) counterexample(s *ExecutionState) []Assignment {
	if len(s.inputs) == 0 || e.Solver == nil {
		return nil
	}
	arrays, values, err := s.Values()
	if err != nil {
		logf("state", "counterexample for state %d: %s", s.id, err)
		return nil
	}

	byID := make(map[uint64][]byte, len(arrays))
	for i, a := range arrays {
		byID[a.ID] = values[i]
	}

	a := make([]Assignment, 0, len(s.inputs))
	for _, in := range s.inputs {
		buf := byID[in.Array.ID]
		a = append(a, Assignment{
			Name:  in.Name,
			Bytes: buf,
			Value: e.formatInput(in, buf),
		})
	}
	return a
}

// formatInput renders small inputs as little-endian decimal integers,
// signed or boolean according to the input type.
func (e *Executor) formatInput(in *Input, buf []byte) string {
	if len(buf) == 0 || len(buf) > 16 {
		return ""
	}

	n := new(big.Int)
	for i := len(buf) - 1; i >= 0; i-- {
		n.Lsh(n, 8)
		n.Or(n, big.NewInt(int64(buf[i])))
	}

	if t := e.prog.Type(in.Type); t != nil {
		switch t.Kind {
		case mir.TypeBool:
			return fmt.Sprint(n.Sign() != 0)
		case mir.TypeInt:
			if buf[len(buf)-1]&0x80 != 0 {
				n.Sub(n, new(big.Int).Lsh(big.NewInt(1), uint(8*len(buf))))
			}
		}
	}
	return n.String()
}
