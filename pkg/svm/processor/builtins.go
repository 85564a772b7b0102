package processor

import (
	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/svm"
	"github.com/fortiblox/stratus-replay/pkg/svm/features"
	"github.com/fortiblox/stratus-replay/pkg/svm/programcache"
	"github.com/fortiblox/stratus-replay/pkg/svm/programs/loaderv4"
	"github.com/fortiblox/stratus-replay/pkg/svm/programs/system"
)

// ComputeBudgetName is the builtin entrypoint name of the compute budget
// program.
const ComputeBudgetName = "compute_budget_program"

// Entrypoint executes the current instruction of ctx.
type Entrypoint func(ctx *InvokeContext) error

// Builtin is a natively implemented program.
type Builtin struct {
	// Name is the key cache entries use to refer to the builtin.
	Name string

	// ProgramID is the address the builtin is deployed at.
	ProgramID types.Pubkey

	// Units is charged before every invocation.
	Units uint64

	// Feature gates the builtin; the zero key means always enabled.
	Feature types.Pubkey

	Entrypoint Entrypoint
}

// DefaultBuiltins returns the builtins every processor carries.
func DefaultBuiltins() []Builtin {
	return []Builtin{
		{
			Name:       system.Name,
			ProgramID:  system.ProgramID,
			Units:      svm.CUSystemProgramDefault,
			Entrypoint: func(ctx *InvokeContext) error { return system.Process(ctx) },
		},
		{
			Name:       ComputeBudgetName,
			ProgramID:  types.ComputeBudgetProgramAddr,
			Units:      svm.CUComputeBudgetDefault,
			Entrypoint: processComputeBudget,
		},
		{
			Name:       loaderv4.Name,
			ProgramID:  loaderv4.ProgramID,
			Units:      svm.CULoaderV4Default,
			Feature:    features.EnableLoaderV4,
			Entrypoint: func(ctx *InvokeContext) error { return loaderv4.Process(ctx) },
		},
	}
}

// BuiltinPrograms returns base cache entries for the default builtins whose
// feature gate is active in fs, keyed by program id.
func BuiltinPrograms(fs *features.FeatureSet) map[types.Pubkey]programcache.LoadedProgram {
	out := make(map[types.Pubkey]programcache.LoadedProgram)
	for _, b := range DefaultBuiltins() {
		var slot uint64
		if !b.Feature.IsZero() {
			s, ok := fs.ActivatedSlot(b.Feature)
			if !ok {
				continue
			}
			slot = s
		}
		out[b.ProgramID] = programcache.NewBuiltin(b.Name, slot)
	}
	return out
}

// processComputeBudget accepts compute budget instructions at execution
// time. Their requests are applied when the budget is derived.
func processComputeBudget(*InvokeContext) error {
	return nil
}
