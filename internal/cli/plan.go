package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"OneChain-Portal/internal/plan"
	"OneChain-Portal/pkg/logger"
	"OneChain-Portal/sdk/go/portal"
)

// planFlags 是 compile、simulate 与 job 共用的计划参数。
type planFlags struct {
	preset    string
	stepsFile string
	pairs     []string
}

func (f *planFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.preset, "preset", "p", "", "preset id")
	cmd.Flags().StringVarP(&f.stepsFile, "steps", "f", "", "JSON file with explicit steps")
	cmd.Flags().StringArrayVar(&f.pairs, "param", nil, "parameter as key=value, repeatable")
}

func (f *planFlags) params() (map[string]string, error) {
	out := make(map[string]string, len(f.pairs))
	for _, kv := range f.pairs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("参数 %q 必须是 key=value 形式", kv)
		}
		out[strings.TrimSpace(key)] = value
	}
	return out, nil
}

// request 组装发往服务端的请求。显式步骤文件优先于预设。
func (f *planFlags) request(network string) (portal.PlanRequest, error) {
	params, err := f.params()
	if err != nil {
		return portal.PlanRequest{}, err
	}
	req := portal.PlanRequest{PresetID: f.preset, Params: params, Network: network}
	if f.stepsFile != "" {
		raw, err := os.ReadFile(f.stepsFile)
		if err != nil {
			return portal.PlanRequest{}, fmt.Errorf("读取步骤文件失败: %w", err)
		}
		if err := json.Unmarshal(raw, &req.Steps); err != nil {
			return portal.PlanRequest{}, fmt.Errorf("解析步骤文件失败: %w", err)
		}
	}
	if req.PresetID == "" && len(req.Steps) == 0 {
		return portal.PlanRequest{}, fmt.Errorf("需要 --preset 或 --steps")
	}
	return req, nil
}

// localSteps 在本地解析步骤，供离线编译使用。
func (f *planFlags) localSteps() ([]plan.Step, error) {
	if f.stepsFile != "" {
		raw, err := os.ReadFile(f.stepsFile)
		if err != nil {
			return nil, fmt.Errorf("读取步骤文件失败: %w", err)
		}
		var steps []plan.Step
		if err := json.Unmarshal(raw, &steps); err != nil {
			return nil, fmt.Errorf("解析步骤文件失败: %w", err)
		}
		return steps, nil
	}
	p, err := plan.FromPreset(f.preset)
	if err != nil {
		return nil, err
	}
	return p.Steps, nil
}

func newPresetsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List built-in plan presets",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			presets := plan.Presets()
			return app.emit(presets, func() string {
				var b strings.Builder
				for i, p := range presets {
					if i > 0 {
						b.WriteString("\n")
					}
					b.WriteString(app.Styles.Title.Render(p.ID) + "  " + p.Name + "\n")
					b.WriteString(app.Styles.Muted.Render(p.Description) + "\n")
					for j, step := range p.Steps {
						fmt.Fprintf(&b, "  %d. %s (%s)\n", j+1, step.Label, step.Kind())
					}
				}
				return strings.TrimRight(b.String(), "\n")
			})
		},
	}
}

func newCompileCommand(app *App) *cobra.Command {
	var (
		flags   planFlags
		offline bool
	)
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a plan into a programmable transaction",
		Long: `Compile a preset or an explicit step list into a programmable
transaction block. With --offline the plan is compiled locally without
contacting the portal.

Example:
  portalctl compile --preset oct-transfer --param recipient=0x2 --param amount=1000 --offline`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if offline {
				return compileOffline(app, &flags)
			}
			req, err := flags.request(app.network())
			if err != nil {
				return err
			}
			res, err := app.client().Compile(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(app.Out, res)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&offline, "offline", false, "compile locally without the portal")
	return cmd
}

func compileOffline(app *App, flags *planFlags) error {
	steps, err := flags.localSteps()
	if err != nil {
		return err
	}
	params, err := flags.params()
	if err != nil {
		return err
	}
	compiler := plan.NewCompiler(plan.WithLogger(logger.Discard()))
	res, err := compiler.Run(steps, plan.Params(params))
	if err != nil {
		if id, label, ok := plan.FailedStep(err); ok {
			return fmt.Errorf("步骤 %s (%s) 编译失败: %w", id, label, err)
		}
		return err
	}
	return writeJSON(app.Out, map[string]any{
		"transaction": res.Transaction,
		"skipped":     res.Skipped,
		"variables":   res.Variables,
	})
}

func newSimulateCommand(app *App) *cobra.Command {
	var flags planFlags
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Dry-run a plan on the selected network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := flags.request(app.network())
			if err != nil {
				return err
			}
			res, err := app.client().Simulate(cmd.Context(), req)
			if err != nil {
				return err
			}
			if err := app.emit(res, func() string { return renderSimulation(app.Styles, res) }); err != nil {
				return err
			}
			if res.Status != "success" {
				return NewExitError(2, nil)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
