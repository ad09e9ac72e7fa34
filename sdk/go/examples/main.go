package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"OneChain-Portal/sdk/go/portal"
)

const demoAddress = "0x00000000000000000000000000000000000000000000000000000000000000a1"

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/ptb/presets", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"presets": []portal.Preset{{
			ID:          "split-transfer",
			Name:        "Split and transfer",
			Description: "Split the gas coin and send the result to a recipient.",
		}}})
	})
	mux.HandleFunc("/api/v1/ptb/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = json.NewEncoder(w).Encode(portal.Job{
			ID:        "job-demo",
			Kind:      portal.JobSimulate,
			Network:   "testnet",
			Status:    "succeeded",
			Attempts:  1,
			Result:    json.RawMessage(`{"status":"success","gasUsed":1997880}`),
			CreatedAt: time.Now().UnixMilli(),
		})
	})
	mux.HandleFunc("/api/v1/accounts/"+demoAddress+"/balances", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"balances": []portal.Balance{{
			CoinType:        "0x2::oct::OCT",
			CoinObjectCount: 2,
			TotalBalance:    "1500000000",
		}}})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := portal.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	presets, err := client.Presets(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("loaded %d preset(s), first=%s\n", len(presets), presets[0].ID)

	job, err := client.SubmitJob(ctx, portal.JobSubmission{
		Kind: portal.JobSimulate,
		Request: portal.PlanRequest{
			PresetID: presets[0].ID,
			Params:   map[string]string{"recipient": demoAddress, "amount": "1000"},
		},
	}, 5*time.Second)
	if err != nil {
		panic(err)
	}
	fmt.Printf("job %s finished with status=%s result=%s\n", job.ID, job.Status, job.Result)

	balances, err := client.Balances(ctx, "testnet", demoAddress)
	if err != nil {
		panic(err)
	}
	for _, b := range balances {
		fmt.Printf("%s: %s (%d objects)\n", b.CoinType, b.TotalBalance, b.CoinObjectCount)
	}
}
