package timings

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/wire"
)

func TestRecord(t *testing.T) {
	var a, b types.Pubkey
	a[0], b[0] = 1, 2

	tm := New()
	tm.RecordInstruction(1)
	tm.RecordInstruction(2)
	tm.RecordInstruction(1)
	tm.RecordProgram(b, 150, false)
	tm.RecordProgram(a, 1000, false)
	tm.RecordProgram(a, 20, true)
	tm.RecordVerifiedAccounts(3)

	require.Equal(t, uint64(3), tm.Instructions)
	require.Equal(t, uint64(2), tm.TopLevelInstructions)
	require.Equal(t, uint64(2), tm.MaxStackHeight)
	require.Equal(t, uint64(3), tm.VerifiedAccounts)
	require.Equal(t, []types.Pubkey{a, b}, tm.Programs())

	pt, ok := tm.Program(a)
	require.True(t, ok)
	require.Equal(t, ProgramTiming{Invocations: 2, AccumulatedUnits: 1000, ErroredInvocations: 1, ErroredUnits: 20}, pt)

	var out ExecuteTimings
	require.NoError(t, wire.Unmarshal(wire.Marshal(tm), "timings", &out))
	require.Equal(t, tm, &out)
}

func TestZeroValueRecords(t *testing.T) {
	var tm ExecuteTimings
	var p types.Pubkey
	tm.RecordProgram(p, 1, false)
	_, ok := tm.Program(p)
	require.True(t, ok)
}
