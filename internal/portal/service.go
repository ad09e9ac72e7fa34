package portal

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"OneChain-Portal/internal/chain"
	"OneChain-Portal/internal/chat"
	xerrors "OneChain-Portal/internal/errors"
	"OneChain-Portal/internal/faucet"
	"OneChain-Portal/internal/observability/metrics"
	"OneChain-Portal/internal/plan"
	"OneChain-Portal/internal/ptb"
	"OneChain-Portal/internal/storage/sqlstore"
	"OneChain-Portal/internal/wallet"
	"OneChain-Portal/pkg/logger"
)

// Registry 是门户需要的网络目录与客户端查找能力。
type Registry interface {
	Client(ctx context.Context, name string) (chain.Client, error)
	Network(name string) (chain.Network, error)
	Networks() []chain.Network
	DefaultNetwork() string
}

// PlanRequest 描述一次编译请求：预设或显式步骤，加上参数袋。
// 同时给出时以 Steps 为准。
type PlanRequest struct {
	PresetID string      `json:"presetId,omitempty"`
	Steps    []plan.Step `json:"steps,omitempty"`
	Params   plan.Params `json:"params,omitempty"`
	Network  string      `json:"network,omitempty"`
}

// CompileResult 是编译的输出。
type CompileResult struct {
	PresetID    string             `json:"presetId,omitempty"`
	Steps       []plan.Step        `json:"steps"`
	Transaction *ptb.Transaction   `json:"transaction"`
	Skipped     []plan.SkippedStep `json:"skipped,omitempty"`
	Variables   []string           `json:"variables"`
}

// SimulateResult 是 dry-run 的摘要。Status 为 failure 时模拟本身仍然成功。
type SimulateResult struct {
	RunID          string                   `json:"runId"`
	Network        string                   `json:"network"`
	Sender         string                   `json:"sender"`
	Status         string                   `json:"status"`
	Error          string                   `json:"error,omitempty"`
	GasUsed        int64                    `json:"gasUsed"`
	Effects        chain.TransactionEffects `json:"effects"`
	BalanceChanges []chain.BalanceChange    `json:"balanceChanges,omitempty"`
	Skipped        []plan.SkippedStep       `json:"skipped,omitempty"`
}

// ExecuteResult 是钱包签名执行后的结果。
type ExecuteResult struct {
	RunID   string             `json:"runId"`
	Network string             `json:"network"`
	Result  wallet.Result      `json:"result"`
	Skipped []plan.SkippedStep `json:"skipped,omitempty"`
}

// Service 是门户的业务入口，可被并发调用。
type Service struct {
	registry  Registry
	compiler  *plan.Compiler
	runs      sqlstore.RunRepository
	connector *wallet.Connector
	faucet    *faucet.Client
	responder *chat.Responder
	logger    *slog.Logger

	watchInterval time.Duration
	objectLimit   int
	now           func() time.Time
}

// Option 定义 Service 的可选配置。
type Option func(*Service)

// WithCompiler 替换默认编译器。
func WithCompiler(c *plan.Compiler) Option {
	return func(s *Service) {
		if c != nil {
			s.compiler = c
		}
	}
}

// WithRunRepository 配置运行记录仓库。
func WithRunRepository(repo sqlstore.RunRepository) Option {
	return func(s *Service) {
		s.runs = repo
	}
}

// WithWallet 配置钱包连接器。
func WithWallet(c *wallet.Connector) Option {
	return func(s *Service) {
		s.connector = c
	}
}

// WithFaucet 配置水龙头客户端。
func WithFaucet(c *faucet.Client) Option {
	return func(s *Service) {
		s.faucet = c
	}
}

// WithResponder 配置问答。
func WithResponder(r *chat.Responder) Option {
	return func(s *Service) {
		s.responder = r
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithWatchInterval 设置余额轮询间隔。
func WithWatchInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.watchInterval = d
		}
	}
}

// WithObjectLimit 设置仪表盘对象列表的分页大小。
func WithObjectLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.objectLimit = n
		}
	}
}

// New 创建门户服务。
func New(registry Registry, opts ...Option) (*Service, error) {
	if registry == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置网络注册表")
	}
	s := &Service{
		registry:      registry,
		watchInterval: DefaultWatchInterval,
		objectLimit:   defaultObjectLimit,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = logger.Named("portal")
	}
	if s.compiler == nil {
		s.compiler = plan.NewCompiler(plan.WithLogger(s.logger))
	}
	return s, nil
}

// Networks 返回网络目录。
func (s *Service) Networks() []chain.Network {
	return s.registry.Networks()
}

// DefaultNetwork 返回默认网络名。
func (s *Service) DefaultNetwork() string {
	return s.registry.DefaultNetwork()
}

// Presets 返回内置预设。
func (s *Service) Presets() []plan.Preset {
	return plan.Presets()
}

// Compile 解析请求中的步骤并编译，不做任何网络调用。
func (s *Service) Compile(req PlanRequest) (*CompileResult, error) {
	steps, err := resolveSteps(req)
	if err != nil {
		metrics.ObserveCompile(0, err)
		return nil, err
	}
	res, err := s.compiler.Run(steps, req.Params)
	metrics.ObserveCompile(len(steps), err)
	if err != nil {
		return nil, err
	}
	return &CompileResult{
		PresetID:    req.PresetID,
		Steps:       steps,
		Transaction: res.Transaction,
		Skipped:     res.Skipped,
		Variables:   res.Variables,
	}, nil
}

// Simulate 编译计划并在节点上 dry-run。需要发送方地址。
func (s *Service) Simulate(ctx context.Context, req PlanRequest) (*SimulateResult, error) {
	sender := req.Params.Sender()
	if sender == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "模拟交易需要发送方地址",
			xerrors.WithMetadata("param", plan.ParamSender))
	}
	compiled, err := s.Compile(req)
	if err != nil {
		return nil, err
	}
	client, err := s.registry.Client(ctx, req.Network)
	if err != nil {
		return nil, err
	}
	network := client.Network().Name
	record := s.newRecord(sqlstore.RunSimulate, network, sender, req, compiled.Steps)

	dry, err := client.DryRun(ctx, compiled.Transaction)
	if err != nil {
		record.Status = sqlstore.RunErrored
		record.ErrorCode = string(xerrors.CodeOf(err))
		record.ErrorMessage = err.Error()
		s.saveRecord(ctx, record)
		return nil, err
	}

	out := &SimulateResult{
		RunID:          record.ID,
		Network:        network,
		Sender:         sender,
		Status:         dry.Effects.Status.Status,
		Error:          dry.Effects.Status.Error,
		Effects:        dry.Effects,
		BalanceChanges: dry.BalanceChanges,
		Skipped:        compiled.Skipped,
	}
	if dry.Effects.GasUsed != nil {
		out.GasUsed = dry.Effects.GasUsed.Net()
	}
	record.Status = sqlstore.RunSucceeded
	if !dry.Effects.Succeeded() {
		record.Status = sqlstore.RunFailed
		record.ErrorMessage = out.Error
	}
	record.GasUsed = out.GasUsed
	s.saveRecord(ctx, record)

	s.logger.Info("模拟完成",
		slog.String("run_id", record.ID),
		slog.String("network", network),
		slog.String("status", out.Status),
		slog.Int64("gas_used", out.GasUsed))
	return out, nil
}

// Execute 编译计划并交给钱包签名执行。参数袋缺少发送方时使用已连接的钱包账户。
// 交易上链但执行失败时同时返回结果与错误。
func (s *Service) Execute(ctx context.Context, req PlanRequest) (*ExecuteResult, error) {
	if s.connector == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置钱包桥接")
	}
	session, ok := s.connector.Session()
	if !ok {
		var err error
		if session, err = s.connector.Connect(ctx); err != nil {
			return nil, err
		}
	}
	if sender := req.Params.Sender(); sender == "" {
		req.Params = req.Params.With(plan.ParamSender, session.Account.Address)
	} else if !chain.SameAddress(sender, session.Account.Address) {
		return nil, xerrors.New(wallet.CodeSenderMismatch, "发送方地址与已连接的钱包账户不一致",
			xerrors.WithMetadata("sender", sender),
			xerrors.WithMetadata("account", session.Account.Address))
	}
	compiled, err := s.Compile(req)
	if err != nil {
		return nil, err
	}
	client, err := s.registry.Client(ctx, req.Network)
	if err != nil {
		return nil, err
	}
	network := client.Network().Name
	record := s.newRecord(sqlstore.RunExecute, network, req.Params.Sender(), req, compiled.Steps)

	res, execErr := s.connector.Execute(ctx, client, compiled.Transaction)
	record.Digest = res.Digest
	if res.GasUsed != nil {
		record.GasUsed = res.GasUsed.Net()
	}
	switch {
	case execErr == nil:
		record.Status = sqlstore.RunSucceeded
	case xerrors.HasCode(execErr, wallet.CodeExecutionFailed):
		record.Status = sqlstore.RunFailed
	case xerrors.HasCode(execErr, wallet.CodeRejected):
		record.Status = sqlstore.RunRejected
	default:
		record.Status = sqlstore.RunErrored
	}
	if execErr != nil {
		record.ErrorCode = string(xerrors.CodeOf(execErr))
		record.ErrorMessage = execErr.Error()
	}
	s.saveRecord(ctx, record)

	out := &ExecuteResult{RunID: record.ID, Network: network, Result: res, Skipped: compiled.Skipped}
	if execErr != nil {
		if res.Digest != "" {
			return out, execErr
		}
		return nil, execErr
	}
	return out, nil
}

// Runs 返回最近的运行记录。
func (s *Service) Runs(ctx context.Context, query sqlstore.RunQuery) ([]sqlstore.RunRecord, error) {
	if s.runs == nil {
		return []sqlstore.RunRecord{}, nil
	}
	return s.runs.List(ctx, query)
}

// Run 返回单条运行记录。
func (s *Service) Run(ctx context.Context, id string) (sqlstore.RunRecord, error) {
	if s.runs == nil {
		return sqlstore.RunRecord{}, xerrors.New(sqlstore.CodeRunNotFound, "未配置运行记录仓库")
	}
	return s.runs.Get(ctx, id)
}

// RequestFaucet 为 recipient 申请测试币。
func (s *Service) RequestFaucet(ctx context.Context, networkName, recipient string) (faucet.Response, error) {
	if s.faucet == nil {
		return faucet.Response{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置水龙头客户端")
	}
	network, err := s.registry.Network(networkName)
	if err != nil {
		return faucet.Response{}, err
	}
	resp, err := s.faucet.Request(ctx, network, recipient)
	metrics.ObserveFaucet(network.Name, err)
	return resp, err
}

// Chat 回答开发者问题。
func (s *Service) Chat(ctx context.Context, query string) (chat.Response, error) {
	if s.responder == nil {
		return chat.Response{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置问答服务")
	}
	return s.responder.Respond(ctx, query)
}

func resolveSteps(req PlanRequest) ([]plan.Step, error) {
	if len(req.Steps) > 0 {
		return req.Steps, nil
	}
	presetID := strings.TrimSpace(req.PresetID)
	if presetID == "" {
		return nil, xerrors.New(plan.CodeInvalidPlan, "计划为空：需要提供步骤或预设 ID")
	}
	p, err := plan.FromPreset(presetID)
	if err != nil {
		return nil, err
	}
	return p.Steps, nil
}

func (s *Service) newRecord(kind, network, sender string, req PlanRequest, steps []plan.Step) sqlstore.RunRecord {
	raw, err := json.Marshal(steps)
	if err != nil {
		raw = json.RawMessage("[]")
	}
	return sqlstore.RunRecord{
		ID:        uuid.NewString(),
		Kind:      kind,
		Network:   network,
		Sender:    sender,
		PresetID:  req.PresetID,
		Steps:     raw,
		Params:    req.Params.Clone(),
		CreatedAt: s.now().UnixMilli(),
	}
}

func (s *Service) saveRecord(ctx context.Context, record sqlstore.RunRecord) {
	if s.runs == nil {
		return
	}
	saveCtx := ctx
	if stdErrors.Is(ctx.Err(), context.Canceled) || stdErrors.Is(ctx.Err(), context.DeadlineExceeded) {
		var cancel context.CancelFunc
		saveCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	if err := s.runs.Save(saveCtx, record); err != nil {
		s.logger.Warn("保存运行记录失败", slog.String("run_id", record.ID), slog.Any("error", err))
	}
}
