package invoke

import (
	"strings"

	"github.com/code-payments/counter-client/pkg/counter"
)

// Plan is the sequence of counter commands executed in one transaction
// against a freshly created counter account.
//
// A plan without commands is the hello invocation: a single instruction with
// no accounts and no data, and no counter account.
type Plan struct {
	Name     string
	Commands []counter.Command
}

// DefaultPlan initializes a counter and increments it twice.
func DefaultPlan() Plan {
	return Plan{
		Name:     "run",
		Commands: []counter.Command{counter.Init(), counter.Increment(), counter.Increment()},
	}
}

// AddPlan initializes a counter and adds each amount to it.
func AddPlan(amounts ...uint64) Plan {
	cmds := []counter.Command{counter.Init()}
	for _, amount := range amounts {
		cmds = append(cmds, counter.Add(amount))
	}
	return Plan{Name: "add", Commands: cmds}
}

// HelloPlan calls the program without a counter account.
func HelloPlan() Plan {
	return Plan{Name: "hello"}
}

// IsHello reports whether the plan is the degenerate, zero account case.
func (p Plan) IsHello() bool {
	return len(p.Commands) == 0
}

// Expected is the counter value after the plan executes.
func (p Plan) Expected() uint64 {
	return counter.Simulate(p.Commands...)
}

func (p Plan) String() string {
	if p.IsHello() {
		return "hello"
	}

	parts := make([]string, len(p.Commands))
	for i, cmd := range p.Commands {
		parts[i] = cmd.String()
	}
	return strings.Join(parts, ", ")
}
