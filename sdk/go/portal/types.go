package portal

import (
	"encoding/json"
	"time"
)

// Network describes one OneChain deployment known to the portal.
type Network struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	RPCURL      string `json:"rpcUrl"`
	FaucetURL   string `json:"faucetUrl,omitempty"`
	ExplorerURL string `json:"explorerUrl,omitempty"`
	ChainID     string `json:"chainId"`
	CoinType    string `json:"coinType"`
}

// Preset is a built-in plan template.
type Preset struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Steps       []json.RawMessage `json:"steps"`
}

// PlanRequest selects a preset or carries explicit steps, plus the parameter
// bag. Steps take precedence over PresetID.
type PlanRequest struct {
	PresetID string            `json:"presetId,omitempty"`
	Steps    []json.RawMessage `json:"steps,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
	Network  string            `json:"network,omitempty"`
}

// SkippedStep is a step of unknown kind ignored by the compiler.
type SkippedStep struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Kind  string `json:"kind"`
}

// CompileResult is the output of a compilation.
type CompileResult struct {
	PresetID    string            `json:"presetId,omitempty"`
	Steps       []json.RawMessage `json:"steps"`
	Transaction json.RawMessage   `json:"transaction"`
	Skipped     []SkippedStep     `json:"skipped,omitempty"`
	Variables   []string          `json:"variables"`
}

// BalanceChange is one balance delta reported by a dry run.
type BalanceChange struct {
	Owner    json.RawMessage `json:"owner"`
	CoinType string          `json:"coinType"`
	Amount   string          `json:"amount"`
}

// SimulateResult summarises a dry run.
type SimulateResult struct {
	RunID          string          `json:"runId"`
	Network        string          `json:"network"`
	Sender         string          `json:"sender"`
	Status         string          `json:"status"`
	Error          string          `json:"error,omitempty"`
	GasUsed        int64           `json:"gasUsed"`
	Effects        json.RawMessage `json:"effects"`
	BalanceChanges []BalanceChange `json:"balanceChanges,omitempty"`
	Skipped        []SkippedStep   `json:"skipped,omitempty"`
}

// Job kinds accepted by SubmitJob.
const (
	JobSimulate = "simulate"
	JobExecute  = "execute"
)

// JobSubmission is the payload of SubmitJob.
type JobSubmission struct {
	ID      string      `json:"id,omitempty"`
	Kind    string      `json:"kind"`
	Request PlanRequest `json:"request"`
}

// Job is the server-side state of an asynchronous simulation or execution.
type Job struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Network    string          `json:"network,omitempty"`
	Status     string          `json:"status"`
	Attempts   int             `json:"attempts"`
	MaxRetries int             `json:"max_retries"`
	LastError  string          `json:"last_error,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Digest     string          `json:"digest,omitempty"`
	CreatedAt  int64           `json:"created_at"`
	UpdatedAt  int64           `json:"updated_at"`
}

// Done reports whether the job reached a terminal status.
func (j Job) Done() bool {
	return j.Status == "succeeded" || j.Status == "failed"
}

// JobStats aggregates job counts by status.
type JobStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Statuses []string
	Kinds    []string
	Network  string
	Limit    int
	Offset   int
}

// RunRecord is one recorded simulation or execution.
type RunRecord struct {
	ID           string            `json:"id"`
	Kind         string            `json:"kind"`
	Network      string            `json:"network"`
	Sender       string            `json:"sender,omitempty"`
	PresetID     string            `json:"presetId,omitempty"`
	Params       map[string]string `json:"params,omitempty"`
	Status       string            `json:"status"`
	Digest       string            `json:"digest,omitempty"`
	ErrorCode    string            `json:"errorCode,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	GasUsed      int64             `json:"gasUsed"`
	CreatedAt    int64             `json:"createdAt"`
}

// Balance is the total balance of one coin type.
type Balance struct {
	CoinType        string `json:"coinType"`
	CoinObjectCount int    `json:"coinObjectCount"`
	TotalBalance    string `json:"totalBalance"`
}

// ObjectData is the subset of object fields the portal shows.
type ObjectData struct {
	ObjectID string      `json:"objectId"`
	Version  json.Number `json:"version"`
	Digest   string      `json:"digest"`
	Type     string      `json:"type,omitempty"`
}

// ObjectResponse wraps an object or the error returned for it.
type ObjectResponse struct {
	Data  *ObjectData     `json:"data,omitempty"`
	Error json.RawMessage `json:"error,omitempty"`
}

// ObjectPage is one page of owned objects.
type ObjectPage struct {
	Data        []ObjectResponse `json:"data"`
	NextCursor  string           `json:"nextCursor,omitempty"`
	HasNextPage bool             `json:"hasNextPage"`
}

// Transaction is one entry of an address history.
type Transaction struct {
	Digest          string `json:"digest"`
	TimestampMs     string `json:"timestampMs,omitempty"`
	QuerySource     string `json:"querySource,omitempty"`
	TransactionType string `json:"transactionType,omitempty"`
	Effects         *struct {
		Status struct {
			Status string `json:"status"`
		} `json:"status"`
	} `json:"effects,omitempty"`
}

// HistoryPage is the merged history of an address.
type HistoryPage struct {
	Data        []Transaction `json:"data"`
	HasNextPage bool          `json:"hasNextPage"`
	Origin      string        `json:"origin"`
}

// Dashboard bundles balances, objects and history. Errors names the
// sections that could not be loaded.
type Dashboard struct {
	Network  string            `json:"network"`
	Address  string            `json:"address"`
	Balances []Balance         `json:"balances"`
	Objects  ObjectPage        `json:"objects"`
	History  HistoryPage       `json:"history"`
	Errors   map[string]string `json:"errors,omitempty"`
}

// BalanceUpdate is one event of WatchBalances. Err is set for error events.
type BalanceUpdate struct {
	Network  string    `json:"network"`
	Address  string    `json:"address"`
	Balances []Balance `json:"balances,omitempty"`
	At       time.Time `json:"at"`
	Err      *APIError `json:"-"`
}

// GasObject is one coin sent by the faucet.
type GasObject struct {
	Amount           uint64 `json:"amount"`
	ID               string `json:"id"`
	TransferTxDigest string `json:"transferTxDigest"`
}

// FaucetResult is the response of RequestFaucet.
type FaucetResult struct {
	TransferredGasObjects []GasObject `json:"transferredGasObjects"`
	Total                 uint64      `json:"total"`
}

// ChatResponse is the answer to a developer question.
type ChatResponse struct {
	Answer      string   `json:"answer"`
	Suggestions []string `json:"suggestions"`
	Source      string   `json:"source"`
	Topic       string   `json:"topic,omitempty"`
}

// WalletResult is the outcome reported by the wallet for an execution.
type WalletResult struct {
	Digest  string          `json:"digest"`
	Status  string          `json:"status"`
	Error   string          `json:"error,omitempty"`
	Effects json.RawMessage `json:"effects,omitempty"`
	Mode    string          `json:"mode"`
}

// ExecuteResult is returned by Execute. On a failed on-chain execution the
// server answers with an error and this result together; see APIError.Result.
type ExecuteResult struct {
	RunID   string        `json:"runId"`
	Network string        `json:"network"`
	Result  WalletResult  `json:"result"`
	Skipped []SkippedStep `json:"skipped,omitempty"`
}

// RunFilter narrows Runs.
type RunFilter struct {
	Limit  int
	Sender string
	Kind   string
}
