package plan

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "OneChain-Portal/internal/errors"
	"OneChain-Portal/internal/ptb"
	"OneChain-Portal/pkg/logger"
)

const (
	recipientR = "0x00000000000000000000000000000000000000000000000000000000000000aa"
	senderS    = "0x00000000000000000000000000000000000000000000000000000000000000bb"
	objectO    = "0x00000000000000000000000000000000000000000000000000000000000000cc"
)

func quiet() Option {
	return WithLogger(logger.Discard())
}

func splitStep(id, amount string) Step {
	return Step{ID: id, Label: "split " + id, Op: SplitCoin{Amount: amount}}
}

func transferStep(id, recipient string, objects ...string) Step {
	return Step{ID: id, Label: "transfer " + id, Op: TransferObjects{Objects: objects, Recipient: recipient}}
}

func pureAddress(t *testing.T, tx *ptb.Transaction, arg ptb.Argument) ptb.Address {
	t.Helper()
	require.Equal(t, ptb.ArgInput, arg.Kind)
	inputs := tx.Inputs()
	require.Less(t, int(arg.Index), len(inputs))
	require.Equal(t, ptb.InputPure, inputs[arg.Index].Kind)
	require.Len(t, inputs[arg.Index].Pure, 32)
	var addr ptb.Address
	copy(addr[:], inputs[arg.Index].Pure)
	return addr
}

func TestCompileSplitThenTransfer(t *testing.T) {
	steps := []Step{
		splitStep("a", "500000000"),
		transferStep("b", recipientR, "a"),
	}

	tx, err := Compile(steps, Params{}, quiet())
	require.NoError(t, err)

	cmds := tx.Commands()
	require.Len(t, cmds, 2)

	split, ok := cmds[0].(ptb.SplitCoins)
	require.True(t, ok, "first command should be SplitCoins, got %T", cmds[0])
	assert.True(t, split.Coin.IsGasCoin())
	require.Len(t, split.Amounts, 1)
	amount, ok := tx.PureU64Value(split.Amounts[0])
	require.True(t, ok)
	assert.Equal(t, uint64(500000000), amount)

	transfer, ok := cmds[1].(ptb.TransferObjects)
	require.True(t, ok, "second command should be TransferObjects, got %T", cmds[1])
	assert.Equal(t, []ptb.Argument{ptb.NestedResultArg(0, 0)}, transfer.Objects)
	assert.Equal(t, ptb.MustParseAddress(recipientR), pureAddress(t, tx, transfer.Address))
	assert.Equal(t, DefaultGasBudget, tx.GasBudget())
}

func TestCompileWithoutTransferNeedsNoRecipient(t *testing.T) {
	steps := []Step{
		splitStep("a", "1"),
		{ID: "call", Op: MoveCall{Target: "0x2::coin::value", Arguments: []string{"a"}, TypeArguments: []string{"0x2::oct::OCT"}}},
		{ID: "budget", Op: SetGasBudget{Budget: 42}},
	}

	tx, err := Compile(steps, nil, quiet())
	require.NoError(t, err)
	assert.Len(t, tx.Commands(), 2)
	assert.Equal(t, uint64(42), tx.GasBudget())
}

func TestTransferAmountMatchesSplitAmount(t *testing.T) {
	for _, amount := range []string{"1", "500000000", "18446744073709551615"} {
		t.Run(amount, func(t *testing.T) {
			tx, err := Compile([]Step{
				splitStep("coin", amount),
				transferStep("send", recipientR, "coin"),
			}, Params{}, quiet())
			require.NoError(t, err)

			cmds := tx.Commands()
			split := cmds[0].(ptb.SplitCoins)
			transfer := cmds[1].(ptb.TransferObjects)
			require.Len(t, transfer.Objects, 1)
			assert.Equal(t, ptb.NestedResultArg(0, 0), transfer.Objects[0])

			got, ok := tx.PureU64Value(split.Amounts[0])
			require.True(t, ok)
			assert.Equal(t, amount, strconv.FormatUint(got, 10))
		})
	}
}

func TestCompileIsDeterministicAndIndependent(t *testing.T) {
	steps := []Step{
		{ID: "budget", Op: SetGasBudget{Budget: 30_000_000}},
		splitStep("a", "7"),
		{ID: "alias", Op: AssignVariable{Variable: "coin", Value: "a"}},
		transferStep("send", "", "coin"),
	}
	params := Params{ParamRecipient: recipientR, ParamSender: senderS}
	compiler := NewCompiler(quiet())

	first, err := compiler.Compile(steps, params)
	require.NoError(t, err)
	second, err := compiler.Compile(steps, params)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, first.Commands(), second.Commands())
	assert.Equal(t, first.Inputs(), second.Inputs())
	assert.Equal(t, first.GasBudget(), second.GasBudget())

	_, err = first.SplitCoins(ptb.GasCoin(), []ptb.Argument{first.PureU64(1)})
	require.NoError(t, err)
	assert.Len(t, first.Commands(), 3)
	assert.Len(t, second.Commands(), 2)

	sender, ok := second.Sender()
	require.True(t, ok)
	assert.Equal(t, ptb.MustParseAddress(senderS), sender)
}

func TestTransferWithoutRecipientNamesTheStep(t *testing.T) {
	steps := []Step{
		splitStep("a", "1"),
		{ID: "send", Label: "Send coin", Op: TransferObjects{Objects: []string{"a"}}},
	}

	_, err := Compile(steps, Params{ParamAmount: "5"}, quiet())
	require.Error(t, err)
	assert.Equal(t, CodeMissingValue, xerrors.CodeOf(err))

	id, label, ok := FailedStep(err)
	require.True(t, ok)
	assert.Equal(t, "send", id)
	assert.Equal(t, "Send coin", label)
	index, _ := xerrors.MetadataValue(err, MetaStepIndex)
	assert.Equal(t, "1", index)
	assert.Contains(t, err.Error(), "send")
}

func TestRecipientFallsBackToAddressParam(t *testing.T) {
	tx, err := Compile([]Step{
		splitStep("a", "1"),
		transferStep("send", "", "a"),
	}, Params{ParamAddress: senderS}, quiet())
	require.NoError(t, err)

	transfer := tx.Commands()[1].(ptb.TransferObjects)
	assert.Equal(t, ptb.MustParseAddress(senderS), pureAddress(t, tx, transfer.Address))
}

func TestRecipientNamedSlotWinsOverDefaults(t *testing.T) {
	tx, err := Compile([]Step{
		splitStep("a", "1"),
		transferStep("send", ParamSender, "a"),
	}, Params{ParamRecipient: recipientR, ParamSender: senderS}, quiet())
	require.NoError(t, err)

	transfer := tx.Commands()[1].(ptb.TransferObjects)
	assert.Equal(t, ptb.MustParseAddress(senderS), pureAddress(t, tx, transfer.Address))
}

func TestMoveCallGasSentinel(t *testing.T) {
	steps := []Step{
		{ID: "call", Op: MoveCall{
			Target:    "0x2::pay::split",
			Arguments: []string{"gas", "amount", recipientR, "hello"},
		}},
	}

	tx, err := Compile(steps, Params{ParamAmount: "9"}, quiet())
	require.NoError(t, err)

	cmds := tx.Commands()
	require.Len(t, cmds, 1)
	call := cmds[0].(ptb.MoveCallCommand)
	require.Len(t, call.Arguments, 4)
	assert.True(t, call.Arguments[0].IsGasCoin())

	amount, ok := tx.PureU64Value(call.Arguments[1])
	require.True(t, ok)
	assert.Equal(t, uint64(9), amount)

	assert.Equal(t, ptb.MustParseAddress(recipientR), pureAddress(t, tx, call.Arguments[2]))
	assert.Equal(t, ptb.ArgInput, call.Arguments[3].Kind)
	assert.Equal(t, "pay", call.Module)
	assert.Equal(t, "split", call.Function)
}

func TestReorderingIndependentStepsReordersCommands(t *testing.T) {
	a := splitStep("a", "100")
	b := splitStep("b", "200")

	amounts := func(steps ...Step) []uint64 {
		tx, err := Compile(steps, Params{}, quiet())
		require.NoError(t, err)
		var out []uint64
		for _, cmd := range tx.Commands() {
			split := cmd.(ptb.SplitCoins)
			v, ok := tx.PureU64Value(split.Amounts[0])
			require.True(t, ok)
			out = append(out, v)
		}
		return out
	}

	assert.Equal(t, []uint64{100, 200}, amounts(a, b))
	assert.Equal(t, []uint64{200, 100}, amounts(b, a))
}

func TestUnknownStepKindIsSkipped(t *testing.T) {
	raw := `[
		{"id":"a","kind":"split","data":{"amount":"3"}},
		{"id":"x","kind":"teleport","data":{"where":"moon"}},
		{"id":"send","kind":"transfer","data":{"objects":["a"],"recipient":"` + recipientR + `"}}
	]`
	var steps []Step
	require.NoError(t, json.Unmarshal([]byte(raw), &steps))

	var buf bytes.Buffer
	res, err := NewCompiler(WithLogger(slog.New(slog.NewTextHandler(&buf, nil)))).Run(steps, nil)
	require.NoError(t, err)

	assert.Len(t, res.Transaction.Commands(), 2)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "x", res.Skipped[0].ID)
	assert.Equal(t, "teleport", res.Skipped[0].Kind)
	assert.Contains(t, buf.String(), "teleport")
	assert.Equal(t, []string{"a"}, res.Variables)
}

func TestForwardReferenceFails(t *testing.T) {
	steps := []Step{
		transferStep("send", recipientR, "later"),
		splitStep("later", "1"),
	}

	_, err := Compile(steps, nil, quiet())
	require.Error(t, err)
	assert.Equal(t, CodeUnresolvedReference, xerrors.CodeOf(err))
	id, _, ok := FailedStep(err)
	require.True(t, ok)
	assert.Equal(t, "send", id)
}

func TestTransferOfObjectLiteral(t *testing.T) {
	tx, err := Compile([]Step{transferStep("send", recipientR, objectO)}, nil, quiet())
	require.NoError(t, err)
	assert.Equal(t, []ptb.Address{ptb.MustParseAddress(objectO)}, tx.UnresolvedObjects())
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name   string
		steps  []Step
		params Params
		code   xerrors.Code
	}{
		{name: "empty plan", code: CodeInvalidPlan},
		{
			name:  "duplicate ids",
			steps: []Step{splitStep("a", "1"), splitStep("a", "2")},
			code:  CodeInvalidPlan,
		},
		{
			name:  "unknown variable",
			steps: []Step{transferStep("send", recipientR, "nothing")},
			code:  CodeUnresolvedReference,
		},
		{
			name:  "assign from missing variable",
			steps: []Step{{ID: "alias", Op: AssignVariable{Variable: "v", Value: "missing"}}},
			code:  CodeUnresolvedReference,
		},
		{
			name: "assign over another step id",
			steps: []Step{
				splitStep("a", "1"),
				{ID: "alias", Op: AssignVariable{Variable: "b", Value: "a"}},
				splitStep("b", "2"),
			},
			code: CodeInvalidPlan,
		},
		{
			name:  "bad amount",
			steps: []Step{splitStep("a", "lots")},
			code:  CodeMissingValue,
		},
		{
			name:   "bad recipient",
			steps:  []Step{splitStep("a", "1"), transferStep("send", "", "a")},
			params: Params{ParamRecipient: "not-an-address"},
			code:   CodeBuilderRejected,
		},
		{
			name:  "bad move target",
			steps: []Step{{ID: "call", Op: MoveCall{Target: "coin::zero"}}},
			code:  CodeBuilderRejected,
		},
		{
			name:   "bad sender",
			steps:  []Step{splitStep("a", "1")},
			params: Params{ParamSender: "0xnope"},
			code:   CodeBuilderRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.steps, tt.params, quiet())
			require.Error(t, err)
			assert.Equal(t, tt.code, xerrors.CodeOf(err), xerrors.Describe(err))
			assert.True(t, IsCompileError(err))
		})
	}
}

func TestParamsAmountBeatsStepDefault(t *testing.T) {
	tx, err := Compile([]Step{splitStep("a", "1")}, Params{ParamAmount: " 77 "}, quiet())
	require.NoError(t, err)
	split := tx.Commands()[0].(ptb.SplitCoins)
	v, _ := tx.PureU64Value(split.Amounts[0])
	assert.Equal(t, uint64(77), v)

	tx, err = Compile([]Step{{ID: "a", Op: SplitCoin{}}}, nil, quiet(), WithDefaultAmount("12"))
	require.NoError(t, err)
	split = tx.Commands()[0].(ptb.SplitCoins)
	v, _ = tx.PureU64Value(split.Amounts[0])
	assert.Equal(t, uint64(12), v)
}

func TestMoveCallArgumentsAreTrimmed(t *testing.T) {
	steps := []Step{
		splitStep("coin", "3"),
		{ID: "call", Op: MoveCall{
			Target:    "0x2::m::f",
			Arguments: []string{" gas", "amount\t", " coin ", " " + recipientR},
		}},
	}

	tx, err := Compile(steps, Params{ParamAmount: "9"}, quiet())
	require.NoError(t, err)

	call := tx.Commands()[1].(ptb.MoveCallCommand)
	require.Len(t, call.Arguments, 4)
	assert.True(t, call.Arguments[0].IsGasCoin())
	amount, ok := tx.PureU64Value(call.Arguments[1])
	require.True(t, ok)
	assert.Equal(t, uint64(9), amount)
	assert.Equal(t, ptb.NestedResultArg(0, 0), call.Arguments[2])
	assert.Equal(t, ptb.MustParseAddress(recipientR), pureAddress(t, tx, call.Arguments[3]))
}

func TestGasPriceOption(t *testing.T) {
	steps := []Step{splitStep("a", "1")}

	tx, err := Compile(steps, nil, quiet())
	require.NoError(t, err)
	assert.Zero(t, tx.GasPrice())

	tx, err = Compile(steps, nil, quiet(), WithGasPrice(750))
	require.NoError(t, err)
	assert.Equal(t, uint64(750), tx.GasPrice())
}

func TestLastGasBudgetWins(t *testing.T) {
	tx, err := Compile([]Step{
		{ID: "one", Op: SetGasBudget{Budget: 1}},
		splitStep("a", "1"),
		{ID: "two", Op: SetGasBudget{Budget: 2}},
	}, nil, quiet(), WithDefaultGasBudget(5))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), tx.GasBudget())
}

func TestCustomResolverChain(t *testing.T) {
	upper := func(scope *Scope, raw string) (ptb.Argument, bool, error) {
		if raw != "magic" {
			return ptb.Argument{}, false, nil
		}
		return scope.Transaction().PureU64(1234), true, nil
	}
	tx, err := Compile([]Step{{ID: "call", Op: MoveCall{Target: "0x2::m::f", Arguments: []string{"magic"}}}},
		nil, quiet(), WithArgumentResolvers(upper))
	require.NoError(t, err)
	call := tx.Commands()[0].(ptb.MoveCallCommand)
	v, ok := tx.PureU64Value(call.Arguments[0])
	require.True(t, ok)
	assert.Equal(t, uint64(1234), v)

	_, err = Compile([]Step{{ID: "call", Op: MoveCall{Target: "0x2::m::f", Arguments: []string{"other"}}}},
		nil, quiet(), WithArgumentResolvers(upper))
	assert.Equal(t, CodeUnresolvedReference, xerrors.CodeOf(err))
}

func TestPresetsCompile(t *testing.T) {
	params := Params{ParamRecipient: recipientR, ParamSender: senderS}
	for _, preset := range Presets() {
		t.Run(preset.ID, func(t *testing.T) {
			p, err := FromPreset(preset.ID)
			require.NoError(t, err)
			assert.Equal(t, preset.ID, p.PresetID)

			tx, err := Compile(p.Steps, params, quiet())
			require.NoError(t, err)
			assert.NotEmpty(t, tx.Commands())
		})
	}

	tx, err := Compile(mustPreset(t, "split-and-transfer").Steps, params, quiet())
	require.NoError(t, err)
	transfer := tx.Commands()[1].(ptb.TransferObjects)
	assert.Equal(t, ptb.MustParseAddress(senderS), pureAddress(t, tx, transfer.Address))

	tx, err = Compile(mustPreset(t, "move-call-transfer").Steps, params, quiet())
	require.NoError(t, err)
	assert.Equal(t, uint64(20_000_000), tx.GasBudget())
	transfer = tx.Commands()[1].(ptb.TransferObjects)
	assert.Equal(t, []ptb.Argument{ptb.ResultArg(0)}, transfer.Objects)
}

func mustPreset(t *testing.T, id string) Preset {
	t.Helper()
	p, ok := PresetByID(id)
	require.True(t, ok)
	return p
}
