package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"OneChain-Portal/internal/auth"
	xerrors "OneChain-Portal/internal/errors"
	"OneChain-Portal/internal/portal"
	"OneChain-Portal/internal/storage/sqlstore"
	"OneChain-Portal/internal/task"
)

// JobRequest 是提交异步作业的请求体。
type JobRequest struct {
	ID      string             `json:"id,omitempty"`
	Kind    task.Kind          `json:"kind"`
	Request portal.PlanRequest `json:"request"`
}

// FaucetRequest 是水龙头请求体。
type FaucetRequest struct {
	Network   string `json:"network,omitempty"`
	Recipient string `json:"recipient"`
}

// ChatRequest 是问答请求体。
type ChatRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNetworks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"default":  s.portal.DefaultNetwork(),
		"networks": s.portal.Networks(),
	})
}

func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"presets": s.portal.Presets()})
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	var req portal.PlanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.portal.Compile(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req portal.PlanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.portal.Simulate(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req portal.PlanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.portal.Execute(r.Context(), req)
	if err != nil {
		if res != nil {
			writeErrorWithResult(w, err, res)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleSubmitJob 提交作业。带 wait 参数时等待作业结束（最长一分钟）。
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "作业服务未启用"))
		return
	}
	var req JobRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Kind == task.KindExecute {
		if subject := auth.SubjectFromContext(r.Context()); subject != nil {
			if err := subject.Authorize(auth.PermissionExecute); err != nil {
				writeError(w, err)
				return
			}
		}
	}
	payload, err := json.Marshal(req.Request)
	if err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化作业请求失败"))
		return
	}
	job, err := s.jobs.Submit(r.Context(), task.SubmitRequest{
		ID:      req.ID,
		Kind:    req.Kind,
		Network: req.Request.Network,
		Payload: payload,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	wait, err := parseWait(r.URL.Query().Get("wait"), s.maxWait)
	if err != nil {
		writeError(w, err)
		return
	}
	if wait <= 0 || job.Done() {
		writeJSON(w, http.StatusAccepted, job)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()
	done, err := s.jobs.WaitUntilCompleted(ctx, job.ID, 100*time.Millisecond)
	if err != nil {
		if xerrors.HasCode(err, xerrors.CodeTimeout) && done != nil {
			writeJSON(w, http.StatusAccepted, done)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, done)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "作业服务未启用"))
		return
	}
	filter, err := task.ParseFilter(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	jobs, err := s.jobs.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.jobs.Stats(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*task.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "stats": stats})
}

func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "作业服务未启用"))
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少作业 ID"))
		return
	}
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseInt(q.Get("limit"), "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	runs, err := s.portal.Runs(r.Context(), sqlstore.RunQuery{
		Limit:  limit,
		Sender: q.Get("sender"),
		Kind:   q.Get("kind"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	run, err := s.portal.Run(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.portal.RequestFaucet(r.Context(), req.Network, req.Recipient)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transferredGasObjects": resp.TransferredGasObjects,
		"total":                 resp.Total(),
	})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := s.portal.Balances(r.Context(), r.URL.Query().Get("network"), r.PathValue("address"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balances": balances})
}

// handleBalanceStream 以 Server-Sent Events 推送余额变化。
func (s *Server) handleBalanceStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "当前连接不支持流式响应"))
		return
	}
	q := r.URL.Query()
	var interval time.Duration
	if raw := q.Get("interval"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < time.Second {
			writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "interval 必须是不小于 1s 的时长",
				xerrors.WithMetadata("interval", raw)))
			return
		}
		interval = d
	}

	updates, err := s.portal.WatchBalances(r.Context(), q.Get("network"), r.PathValue("address"), interval)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for update := range updates {
		event, body := "balances", any(update)
		if update.Err != nil {
			event, body = "error", payloadFor(update.Err)
		}
		data, err := json.Marshal(body)
		if err != nil {
			s.logger.Warn("序列化余额推送失败", slog.Any("error", err))
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleObjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseInt(q.Get("limit"), "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := s.portal.Objects(r.Context(), q.Get("network"), r.PathValue("address"), q.Get("cursor"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	page, err := s.portal.Transactions(r.Context(), r.URL.Query().Get("network"), r.PathValue("address"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := s.portal.Dashboard(r.Context(), r.URL.Query().Get("network"), r.PathValue("address"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.portal.Chat(r.Context(), req.Query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, name+" 必须是非负整数", xerrors.WithMetadata(name, raw))
	}
	return v, nil
}

func parseWait(raw string, limit time.Duration) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "wait 必须是合法的时长", xerrors.WithMetadata("wait", raw))
	}
	if d > limit {
		d = limit
	}
	return d, nil
}
