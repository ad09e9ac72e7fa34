package plan

// Preset 是内置的计划模板。
type Preset struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Steps       []Step `json:"steps"`
}

var presets = []Preset{
	{
		ID:          "oct-transfer",
		Name:        "Simple OCT Transfer",
		Description: "Split OCT from the gas coin and send it to a recipient",
		Steps: []Step{
			{ID: "gas-budget", Label: "Set Gas Budget", Op: SetGasBudget{Budget: 10_000_000}},
			{ID: "split", Label: "Split Coin", Op: SplitCoin{Amount: DefaultAmount, Source: GasSentinel}},
			{ID: "transfer", Label: "Transfer to Recipient", Op: TransferObjects{Objects: []string{"split"}, Recipient: ParamRecipient}},
		},
	},
	{
		ID:          "move-call-transfer",
		Name:        "Move Call + Transfer",
		Description: "Create a zero OCT coin with a Move call and transfer the result",
		Steps: []Step{
			{ID: "gas-budget", Label: "Set Gas Budget", Op: SetGasBudget{Budget: 20_000_000}},
			{ID: "zero-coin", Label: "Call coin::zero", Op: MoveCall{
				Target:        "0x2::coin::zero",
				TypeArguments: []string{"0x2::oct::OCT"},
			}},
			{ID: "alias-result", Label: "Assign Result", Op: AssignVariable{Variable: "result", Value: "zero-coin"}},
			{ID: "transfer", Label: "Transfer Result", Op: TransferObjects{Objects: []string{"result"}, Recipient: ParamRecipient}},
		},
	},
	{
		ID:          "split-and-transfer",
		Name:        "Split and Send to Self",
		Description: "Split a coin from gas and send it back to the sender",
		Steps: []Step{
			{ID: "split", Label: "Split Coin", Op: SplitCoin{Amount: DefaultAmount, Source: GasSentinel}},
			{ID: "transfer", Label: "Send to Self", Op: TransferObjects{Objects: []string{"split"}, Recipient: ParamSender}},
		},
	},
}

// Presets 返回内置预设的副本。
func Presets() []Preset {
	out := make([]Preset, 0, len(presets))
	for _, p := range presets {
		out = append(out, p.clone())
	}
	return out
}

// PresetByID 按 ID 查找预设。
func PresetByID(id string) (Preset, bool) {
	for _, p := range presets {
		if p.ID == id {
			return p.clone(), true
		}
	}
	return Preset{}, false
}

func (p Preset) clone() Preset {
	steps := make([]Step, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = s.Clone()
	}
	p.Steps = steps
	return p
}
