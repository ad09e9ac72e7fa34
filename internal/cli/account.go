package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"OneChain-Portal/internal/chat"
	"OneChain-Portal/internal/knowledge"
	"OneChain-Portal/pkg/format"
	"OneChain-Portal/pkg/logger"
	"OneChain-Portal/sdk/go/portal"
)

func newFaucetCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "faucet <address>",
		Short: "Request test tokens from the network faucet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := app.client().Faucet(cmd.Context(), app.network(), args[0])
			if err != nil {
				return err
			}
			return app.emit(res, func() string {
				lines := []string{app.Styles.Success.Render(fmt.Sprintf("已领取 %s OCT",
					format.Balance(fmt.Sprint(res.Total), format.OCTDecimals)))}
				for _, obj := range res.TransferredGasObjects {
					lines = append(lines, app.Styles.row(format.Address(obj.ID, format.DefaultAddressLength), obj.TransferTxDigest))
				}
				return strings.Join(lines, "\n")
			})
		},
	}
}

func newBalancesCommand(app *App) *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "balances <address>",
		Short: "Show coin balances, optionally following changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := app.client()
			if !watch {
				balances, err := client.Balances(cmd.Context(), app.network(), args[0])
				if err != nil {
					return err
				}
				return app.emit(balances, func() string { return renderBalances(app.Styles, balances) })
			}

			updates, err := client.WatchBalances(cmd.Context(), app.network(), args[0], interval)
			if err != nil {
				return err
			}
			for update := range updates {
				if update.Err != nil {
					fmt.Fprintln(app.Err, app.Styles.Failure.Render(update.Err.Error()))
					continue
				}
				if err := app.emit(update, func() string {
					stamp := app.Styles.Muted.Render(update.At.Local().Format(time.TimeOnly))
					return stamp + "\n" + renderBalances(app.Styles, update.Balances)
				}); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "stream balance changes until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval for --watch")
	return cmd
}

func newHistoryCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "history <address>",
		Short: "Show recent transactions of an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := app.client().Transactions(cmd.Context(), app.network(), args[0])
			if err != nil {
				return err
			}
			return app.emit(page, func() string { return renderHistory(app.Styles, page, app.Now()) })
		},
	}
}

func newDashboardCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard <address>",
		Short: "Show balances, objects and history together",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dash, err := app.client().Dashboard(cmd.Context(), app.network(), args[0])
			if err != nil {
				return err
			}
			return app.emit(dash, func() string {
				s := app.Styles
				sections := []string{
					s.Title.Render(fmt.Sprintf("%s @ %s", format.Address(dash.Address, format.DefaultAddressLength), dash.Network)),
					renderBalances(s, dash.Balances),
					s.row("objects", fmt.Sprintf("%d", len(dash.Objects.Data))),
					renderHistory(s, &dash.History, app.Now()),
				}
				for section, msg := range dash.Errors {
					sections = append(sections, s.Failure.Render(section+": "+msg))
				}
				return s.Panel.Render(strings.Join(sections, "\n\n"))
			})
		},
	}
}

func newChatCommand(app *App) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "chat <question>",
		Short: "Ask the developer assistant",
		Long: `Ask the developer assistant. With --offline the question is answered
from the built-in knowledge base. When the portal cannot be reached the
built-in help is printed and the command exits with status 1.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			if offline {
				return chatOffline(app, cmd, query)
			}
			resp, err := app.client().Chat(cmd.Context(), query)
			if err != nil {
				var apiErr *portal.APIError
				if errors.As(err, &apiErr) || cmd.Context().Err() != nil {
					return err
				}
				return chatUnreachable(app, err)
			}
			return app.emitChat(resp)
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "answer from the built-in knowledge base")
	return cmd
}

func localResponder() (*chat.Responder, error) {
	base, err := knowledge.Default()
	if err != nil {
		return nil, err
	}
	return chat.NewResponder(base, chat.WithLogger(logger.Discard()))
}

func chatOffline(app *App, cmd *cobra.Command, query string) error {
	responder, err := localResponder()
	if err != nil {
		return err
	}
	res, err := responder.Respond(cmd.Context(), query)
	if err != nil {
		return err
	}
	return app.emitChat(chatResponse(res))
}

// chatUnreachable 在门户不可达时输出本地帮助并以状态 1 退出。
func chatUnreachable(app *App, cause error) error {
	responder, err := localResponder()
	if err != nil {
		return cause
	}
	fmt.Fprintln(app.Err, app.Styles.Failure.Render("无法连接门户: "+cause.Error()))
	if err := app.emitChat(chatResponse(responder.Fallback())); err != nil {
		return err
	}
	return NewExitError(1, nil)
}

func chatResponse(res chat.Response) *portal.ChatResponse {
	return &portal.ChatResponse{
		Answer:      res.Answer,
		Suggestions: res.Suggestions,
		Source:      res.Source,
		Topic:       res.Topic,
	}
}

func (a *App) emitChat(resp *portal.ChatResponse) error {
	return a.emit(resp, func() string {
		lines := []string{resp.Answer}
		if len(resp.Suggestions) > 0 {
			lines = append(lines, "", a.Styles.Muted.Render("相关问题:"))
			for _, s := range resp.Suggestions {
				lines = append(lines, "  - "+s)
			}
		}
		return strings.Join(lines, "\n")
	})
}
