package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"OneChain-Portal/pkg/format"
	"OneChain-Portal/sdk/go/portal"
)

// Styles 是终端输出使用的样式集合。
type Styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Failure lipgloss.Style
	Panel   lipgloss.Style
}

// DefaultStyles 返回带颜色的样式。
func DefaultStyles() Styles {
	accent := lipgloss.Color("#01cdfe")
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(accent),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color("#8a8a8a")).Width(14),
		Value:   lipgloss.NewStyle(),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("#6c6c6c")),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1")),
		Failure: lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5f87")).Bold(true),
		Panel:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(accent).Padding(0, 1),
	}
}

// PlainStyles 返回不带任何修饰的样式，用于测试和非终端输出。
func PlainStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Title:   plain,
		Label:   plain.Width(14),
		Value:   plain,
		Muted:   plain,
		Success: plain,
		Failure: plain,
		Panel:   plain,
	}
}

func (s Styles) status(status string) string {
	switch strings.ToLower(status) {
	case "success", "succeeded":
		return s.Success.Render(status)
	case "failure", "failed":
		return s.Failure.Render(status)
	default:
		return s.Value.Render(status)
	}
}

func (s Styles) row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, s.Label.Render(label), s.Value.Render(value))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderBalances(s Styles, balances []portal.Balance) string {
	if len(balances) == 0 {
		return s.Muted.Render("没有余额")
	}
	rows := make([]string, 0, len(balances))
	for _, b := range balances {
		rows = append(rows, s.row(coinSymbol(b.CoinType), fmt.Sprintf("%s  %s",
			format.Balance(b.TotalBalance, format.OCTDecimals),
			s.Muted.Render(fmt.Sprintf("(%d objects)", b.CoinObjectCount)))))
	}
	return strings.Join(rows, "\n")
}

func renderSimulation(s Styles, res *portal.SimulateResult) string {
	lines := []string{
		s.Title.Render("模拟结果"),
		s.row("status", s.status(res.Status)),
		s.row("network", res.Network),
		s.row("sender", format.Address(res.Sender, format.DefaultAddressLength)),
		s.row("gas used", format.Balance(fmt.Sprint(res.GasUsed), format.OCTDecimals)+" OCT"),
		s.row("run", res.RunID),
	}
	if res.Error != "" {
		lines = append(lines, s.row("error", s.Failure.Render(res.Error)))
	}
	for _, change := range res.BalanceChanges {
		lines = append(lines, s.row("balance", fmt.Sprintf("%s %s", coinSymbol(change.CoinType), change.Amount)))
	}
	for _, skipped := range res.Skipped {
		lines = append(lines, s.row("skipped", fmt.Sprintf("%s (%s)", skipped.Label, skipped.Kind)))
	}
	return s.Panel.Render(strings.Join(lines, "\n"))
}

func renderJob(s Styles, job *portal.Job) string {
	lines := []string{
		s.row("job", job.ID),
		s.row("kind", job.Kind),
		s.row("status", s.status(job.Status)),
		s.row("attempts", fmt.Sprintf("%d/%d", job.Attempts, job.MaxRetries+1)),
	}
	if job.Digest != "" {
		lines = append(lines, s.row("digest", job.Digest))
	}
	if job.LastError != "" {
		lines = append(lines, s.row("error", s.Failure.Render(job.LastError)))
	}
	return strings.Join(lines, "\n")
}

func renderRuns(s Styles, runs []portal.RunRecord, now time.Time) string {
	if len(runs) == 0 {
		return s.Muted.Render("没有运行记录")
	}
	rows := make([]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, fmt.Sprintf("%-8s %-10s %-9s %s  %s",
			run.Kind, run.Network, s.status(run.Status),
			format.Truncate(run.ID, 12),
			s.Muted.Render(format.TimeAgo(run.CreatedAt, now))))
	}
	return strings.Join(rows, "\n")
}

func renderHistory(s Styles, page *portal.HistoryPage, now time.Time) string {
	if len(page.Data) == 0 {
		return s.Muted.Render("没有交易记录")
	}
	rows := make([]string, 0, len(page.Data)+1)
	for _, tx := range page.Data {
		status := "unknown"
		if tx.Effects != nil {
			status = tx.Effects.Status.Status
		}
		var ago string
		if ms, err := parseMillis(tx.TimestampMs); err == nil {
			ago = format.TimeAgo(ms, now)
		}
		rows = append(rows, fmt.Sprintf("%s  %-8s %-9s %s",
			format.Address(tx.Digest, 8), tx.TransactionType, s.status(status), s.Muted.Render(ago)))
	}
	rows = append(rows, s.Muted.Render("source: "+page.Origin))
	return strings.Join(rows, "\n")
}

func coinSymbol(coinType string) string {
	if i := strings.LastIndex(coinType, "::"); i >= 0 {
		return coinType[i+2:]
	}
	return coinType
}

func parseMillis(raw string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
}
