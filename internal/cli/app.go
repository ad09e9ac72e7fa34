package cli

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"OneChain-Portal/sdk/go/portal"
)

// EnvPrefix 是 portalctl 读取环境变量时使用的前缀。
const EnvPrefix = "PORTALCTL"

const defaultServer = "http://localhost:8080"

// App 持有命令共享的依赖。
type App struct {
	Out    io.Writer
	Err    io.Writer
	Styles Styles
	// HTTPClient 为空时使用 SDK 默认客户端。
	HTTPClient *http.Client
	Now        func() time.Time

	settings *viper.Viper
}

// NewApp 创建写往标准输出的应用。
func NewApp() *App {
	return &App{
		Out:    os.Stdout,
		Err:    os.Stderr,
		Styles: DefaultStyles(),
		Now:    time.Now,
	}
}

func (a *App) client() *portal.Client {
	return portal.NewClient(a.server(), a.HTTPClient)
}

func (a *App) server() string {
	if server := strings.TrimSpace(a.settings.GetString("server")); server != "" {
		return server
	}
	return defaultServer
}

func (a *App) network() string {
	return a.settings.GetString("network")
}

func (a *App) jsonOutput() bool {
	return a.settings.GetBool("json")
}

// emit 在 --json 时输出原始结构，否则输出渲染后的文本。
func (a *App) emit(v any, text func() string) error {
	if a.jsonOutput() {
		return writeJSON(a.Out, v)
	}
	_, err := io.WriteString(a.Out, text()+"\n")
	return err
}

// NewRootCommand 构建完整的命令树。
func NewRootCommand(app *App) *cobra.Command {
	settings := viper.New()
	settings.SetEnvPrefix(EnvPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
	app.settings = settings

	root := &cobra.Command{
		Use:           "portalctl",
		Short:         "OneChain developer portal command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(app.Out)
	root.SetErr(app.Err)

	flags := root.PersistentFlags()
	flags.String("server", defaultServer, "portal API base URL")
	flags.String("network", "", "network name, defaults to the server default")
	flags.Bool("json", false, "print raw JSON")
	_ = settings.BindPFlags(flags)

	root.AddCommand(
		newPresetsCommand(app),
		newCompileCommand(app),
		newSimulateCommand(app),
		newJobCommand(app),
		newRunsCommand(app),
		newFaucetCommand(app),
		newBalancesCommand(app),
		newHistoryCommand(app),
		newDashboardCommand(app),
		newChatCommand(app),
	)
	return root
}

// Execute 运行命令并返回进程退出码。
func Execute(ctx context.Context, app *App, args []string) int {
	root := NewRootCommand(app)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	code, ok := IsExitError(err)
	if !ok {
		code = 1
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Err != nil {
		_, _ = io.WriteString(app.Err, app.Styles.Failure.Render("错误: "+err.Error())+"\n")
	}
	return code
}
