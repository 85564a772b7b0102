package svm

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-replay/pkg/wire"
)

func TestComputeMeter(t *testing.T) {
	cm := NewComputeMeter(1000)
	require.NoError(t, cm.Consume(400))
	require.Equal(t, uint64(600), cm.Remaining())
	require.Equal(t, uint64(400), cm.Consumed())

	require.ErrorIs(t, cm.Consume(700), ErrComputeExceeded)
	require.Zero(t, cm.Remaining())
	require.Equal(t, cm.Limit(), cm.Consumed())
	require.True(t, cm.IsExhausted())
}

func setLimit(units uint32) ComputeBudgetInstruction {
	data := make([]byte, 5)
	data[0] = computeBudgetSetComputeUnitLimit
	binary.LittleEndian.PutUint32(data[1:], units)
	return ComputeBudgetInstruction{IsComputeBudget: true, Data: data}
}

func heapFrame(size uint32) ComputeBudgetInstruction {
	data := make([]byte, 5)
	data[0] = computeBudgetRequestHeapFrame
	binary.LittleEndian.PutUint32(data[1:], size)
	return ComputeBudgetInstruction{IsComputeBudget: true, Data: data}
}

func TestComputeBudgetFromInstructions(t *testing.T) {
	plain := ComputeBudgetInstruction{}

	limits, err := ComputeBudgetFromInstructions([]ComputeBudgetInstruction{plain, plain})
	require.NoError(t, err)
	require.Equal(t, uint32(2*CUDefault), limits.ComputeUnitLimit)

	many := make([]ComputeBudgetInstruction, 10)
	limits, err = ComputeBudgetFromInstructions(many)
	require.NoError(t, err)
	require.Equal(t, uint32(CUMax), limits.ComputeUnitLimit)

	limits, err = ComputeBudgetFromInstructions([]ComputeBudgetInstruction{setLimit(5000), plain})
	require.NoError(t, err)
	require.Equal(t, uint32(5000), limits.ComputeUnitLimit)
	require.Equal(t, uint64(5000), limits.Budget().ComputeUnitLimit)

	limits, err = ComputeBudgetFromInstructions([]ComputeBudgetInstruction{setLimit(10_000_000)})
	require.NoError(t, err)
	require.Equal(t, uint32(CUMax), limits.ComputeUnitLimit)

	limits, err = ComputeBudgetFromInstructions([]ComputeBudgetInstruction{heapFrame(64 * 1024)})
	require.NoError(t, err)
	require.Equal(t, uint32(64*1024), limits.HeapSize)
}

func TestComputeBudgetFromInstructionsErrors(t *testing.T) {
	_, err := ComputeBudgetFromInstructions([]ComputeBudgetInstruction{setLimit(1), setLimit(2)})
	require.ErrorIs(t, err, ErrDuplicateComputeBudgetInstruction)

	_, err = ComputeBudgetFromInstructions([]ComputeBudgetInstruction{heapFrame(1000)})
	require.ErrorIs(t, err, ErrInvalidHeapFrame)

	_, err = ComputeBudgetFromInstructions([]ComputeBudgetInstruction{{IsComputeBudget: true}})
	require.ErrorIs(t, err, ErrComputeInvalidLimit)

	_, err = ComputeBudgetFromInstructions([]ComputeBudgetInstruction{{IsComputeBudget: true, Data: []byte{9}}})
	require.ErrorIs(t, err, ErrComputeInvalidLimit)
}

func TestComputeBudgetWire(t *testing.T) {
	b := DefaultComputeBudget()
	b.ComputeUnitLimit = 12345
	var out ComputeBudget
	require.NoError(t, wire.Unmarshal(wire.Marshal(b), "compute budget", &out))
	require.Equal(t, b, out)
}

func TestInstructionErrorSentinels(t *testing.T) {
	err := error(NewInstructionError(2, ErrInsufficientFunds))
	require.True(t, errors.Is(err, ErrInsufficientFunds))
	require.False(t, errors.Is(err, ErrInvalidArgument))
	require.Equal(t, "error processing instruction 2: insufficient funds for instruction", err.Error())

	custom := CustomError(0x10)
	require.Equal(t, "custom program error: 0x10", custom.Error())
	require.NotEqual(t, CustomError(0x11), custom)
}

func TestNilTransactionError(t *testing.T) {
	var txErr *TransactionError
	err := error(txErr)
	require.NotPanics(t, func() {
		require.False(t, errors.Is(err, ErrInsufficientFunds))
	})
	require.Equal(t, "success", txErr.Error())
	require.Nil(t, txErr.Unwrap())
}

func TestTransactionErrorWire(t *testing.T) {
	for _, e := range []*TransactionError{
		NewInstructionError(0, ErrComputationalBudgetExceeded),
		NewInstructionError(3, CustomError(7)),
		{Kind: TxErrInvalidProgramForExecution, InstructionIndex: 1},
		{Kind: TxErrProgramAccountNotFound},
	} {
		var out TransactionError
		require.NoError(t, wire.Unmarshal(wire.Marshal(e), "transaction error", &out))
		require.Equal(t, *e, out)
	}

	var out TransactionError
	err := wire.Unmarshal([]byte{byte(numTransactionErrorKinds), 0}, "transaction error", &out)
	require.ErrorIs(t, err, wire.ErrInvalidTag)

	var ie InstructionError
	data := wire.Marshal(InstructionError{Kind: numInstructionErrorKinds})
	require.ErrorIs(t, wire.Unmarshal(data, "instruction error", &ie), wire.ErrInvalidTag)
}
