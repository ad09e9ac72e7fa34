package ptb

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "OneChain-Portal/internal/errors"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "short system address", in: "0x2", want: "0x" + repeat("0", 63) + "2"},
		{name: "upper case", in: "0XAB", want: "0x" + repeat("0", 62) + "ab"},
		{name: "full length", in: "0x" + repeat("f", 64), want: "0x" + repeat("f", 64)},
		{name: "missing prefix", in: "abcd", wantErr: true},
		{name: "non hex", in: "0xzz", wantErr: true},
		{name: "too long", in: "0x" + repeat("1", 65), wantErr: true},
		{name: "empty", in: " ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeAddress(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTypeTag(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "u64", want: "u64"},
		{in: "vector<u8>", want: "vector<u8>"},
		{in: "0x2::oct::OCT", want: "0x2::oct::OCT"},
		{in: "0x0002::coin::Coin<0x2::oct::OCT>", want: "0x2::coin::Coin<0x2::oct::OCT>"},
		{in: "0x2::table::Table<address,vector<u64>>", want: "0x2::table::Table<address, vector<u64>>"},
		{in: "0x2::coin", wantErr: true},
		{in: "vector<u8", wantErr: true},
		{in: "0x2::coin::Coin<u8", wantErr: true},
		{in: "0x2::1coin::Coin", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			tag, err := ParseTypeTag(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, tag.String())
		})
	}
}

func TestSplitCoinsReturnsNestedHandles(t *testing.T) {
	tx := New()
	a := tx.PureU64(1)
	b := tx.PureU64(2)

	handles, err := tx.SplitCoins(GasCoin(), []Argument{a, b})
	require.NoError(t, err)
	assert.Equal(t, []Argument{NestedResultArg(0, 0), NestedResultArg(0, 1)}, handles)

	_, err = tx.SplitCoins(GasCoin(), nil)
	require.Error(t, err)
}

func TestArgumentReferencesAreRangeChecked(t *testing.T) {
	tx := New()
	amount := tx.PureU64(10)
	_, err := tx.SplitCoins(GasCoin(), []Argument{amount})
	require.NoError(t, err)

	rec, err := tx.PureAddress("0x3")
	require.NoError(t, err)

	require.Error(t, tx.TransferObjects([]Argument{ResultArg(4)}, rec))
	require.Error(t, tx.TransferObjects([]Argument{NestedResultArg(0, 1)}, rec))
	require.Error(t, tx.TransferObjects([]Argument{InputArg(9)}, rec))
	require.NoError(t, tx.TransferObjects([]Argument{NestedResultArg(0, 0)}, rec))
	assert.Len(t, tx.Commands(), 2)
}

func TestTransferRejectsPureObjects(t *testing.T) {
	tx := New()
	amount := tx.PureU64(10)
	rec, err := tx.PureAddress("0x3")
	require.NoError(t, err)

	err = tx.TransferObjects([]Argument{amount}, rec)
	require.Error(t, err)
	assert.Empty(t, tx.Commands())
}

func TestObjectInputsAreDeduplicated(t *testing.T) {
	tx := New()
	first, err := tx.Object("0x5")
	require.NoError(t, err)
	second, err := tx.Object("0x0000000000000000000000000000000000000000000000000000000000000005")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, tx.Inputs(), 1)
	assert.Equal(t, []Address{MustParseAddress("0x5")}, tx.UnresolvedObjects())
}

func TestMoveCallValidatesTarget(t *testing.T) {
	tx := New()
	_, err := tx.MoveCall(MoveCall{Target: "0x2::coin"})
	require.Error(t, err)

	_, err = tx.MoveCall(MoveCall{Target: "0x2::coin::zero", TypeArguments: []string{"not a type"}})
	require.Error(t, err)

	res, err := tx.MoveCall(MoveCall{Target: "0x2::coin::zero", TypeArguments: []string{"0x2::oct::OCT"}})
	require.NoError(t, err)
	assert.Equal(t, ResultArg(0), res)

	call, ok := tx.Commands()[0].(MoveCallCommand)
	require.True(t, ok)
	assert.Equal(t, "coin", call.Module)
	assert.Equal(t, "zero", call.Function)
	assert.Equal(t, "0x2::oct::OCT", call.TypeArguments[0].String())
}

func TestBuildEncodesTransactionData(t *testing.T) {
	digestBytes := bytes.Repeat([]byte{1}, 32)
	payment := ObjectRef{ObjectID: MustParseAddress("0x5"), Version: 7, Digest: base58.Encode(digestBytes)}

	tx := New()
	require.NoError(t, tx.SetSender("0x1"))
	tx.SetGasBudget(10)
	amount := tx.PureU64(5)
	coins, err := tx.SplitCoins(GasCoin(), []Argument{amount})
	require.NoError(t, err)
	rec, err := tx.PureAddress("0x3")
	require.NoError(t, err)
	require.NoError(t, tx.TransferObjects(coins, rec))

	got, err := tx.Build(BuildOptions{GasPrice: 1000, GasPayment: []ObjectRef{payment}})
	require.NoError(t, err)

	sender := MustParseAddress("0x1")
	recipient := MustParseAddress("0x3")
	coinID := MustParseAddress("0x5")

	var want []byte
	want = append(want, 0x00, 0x00)
	want = append(want, 0x02)
	want = append(want, 0x00, 0x08)
	want = append(want, le64(5)...)
	want = append(want, 0x00, 0x20)
	want = append(want, recipient[:]...)
	want = append(want, 0x02)
	want = append(want, 0x02, 0x00, 0x01, 0x01, 0x00, 0x00)
	want = append(want, 0x01, 0x01, 0x03, 0x00, 0x00, 0x00, 0x00, 0x01, 0x01, 0x00)
	want = append(want, sender[:]...)
	want = append(want, 0x01)
	want = append(want, coinID[:]...)
	want = append(want, le64(7)...)
	want = append(want, 0x20)
	want = append(want, digestBytes...)
	want = append(want, sender[:]...)
	want = append(want, le64(1000)...)
	want = append(want, le64(10)...)
	want = append(want, 0x00)

	assert.Equal(t, want, got)
}

func TestBuildRequiresChainData(t *testing.T) {
	tx := New()
	_, err := tx.Build(BuildOptions{GasPrice: 1})
	require.Error(t, err, "sender is required")

	require.NoError(t, tx.SetSender("0x1"))
	_, err = tx.Build(BuildOptions{GasPrice: 1})
	require.Error(t, err, "gas budget is required")

	tx.SetGasBudget(100)
	_, err = tx.Build(BuildOptions{GasPrice: 1})
	require.Error(t, err, "gas payment is required")

	_, err = tx.Object("0x9")
	require.NoError(t, err)
	ref := ObjectRef{ObjectID: MustParseAddress("0x5"), Version: 1, Digest: base58.Encode(make([]byte, 32))}
	_, err = tx.Build(BuildOptions{GasPrice: 1, GasPayment: []ObjectRef{ref}})
	require.Error(t, err, "unresolved object inputs must be provided")

	_, err = tx.Build(BuildOptions{
		GasPrice:   1,
		GasPayment: []ObjectRef{ref},
		Objects: map[Address]ObjectArg{
			MustParseAddress("0x9"): {Kind: ObjectShared, InitialSharedVersion: 3, Mutable: true},
		},
	})
	require.NoError(t, err)
}

func TestMarshalJSONDocument(t *testing.T) {
	tx := New()
	require.NoError(t, tx.SetSender("0x1"))
	tx.SetGasBudget(10000000)
	amount := tx.PureU64(500)
	coins, err := tx.SplitCoins(GasCoin(), []Argument{amount})
	require.NoError(t, err)
	rec, err := tx.PureAddress("0x3")
	require.NoError(t, err)
	require.NoError(t, tx.TransferObjects(coins, rec))

	raw, err := json.Marshal(tx)
	require.NoError(t, err)

	var doc struct {
		Version int    `json:"version"`
		Sender  string `json:"sender"`
		GasData struct {
			Budget string `json:"budget"`
		} `json:"gasData"`
		Inputs   []map[string]any `json:"inputs"`
		Commands []map[string]any `json:"commands"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, 2, doc.Version)
	assert.Equal(t, MustParseAddress("0x1").String(), doc.Sender)
	assert.Equal(t, "10000000", doc.GasData.Budget)
	require.Len(t, doc.Inputs, 2)
	assert.Equal(t, "Pure", doc.Inputs[0]["$kind"])
	require.Len(t, doc.Commands, 2)
	assert.Equal(t, "SplitCoins", doc.Commands[0]["$kind"])
	assert.Equal(t, "TransferObjects", doc.Commands[1]["$kind"])
}

func le64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

func repeat(s string, n int) string {
	return string(bytes.Repeat([]byte(s), n))
}
