//go:build ignore

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
)

const (
	apiURL   = "http://localhost:7575"
	operator = "minted-operator"
)

func main() {
	fmt.Println("=== Ledger end ===")
	var end struct {
		Offset int64 `json:"offset"`
	}
	getJSON("/v2/state/ledger-end", &end)
	fmt.Printf("offset: %d\n\n", end.Offset)

	fmt.Println("=== Users ===")
	var users struct {
		Users []struct {
			ID           string `json:"id"`
			PrimaryParty string `json:"primaryParty"`
		} `json:"users"`
	}
	getJSON("/v2/users", &users)
	for _, u := range users.Users {
		fmt.Printf("  %s -> %s\n", u.ID, u.PrimaryParty)
	}

	fmt.Println("\n=== Packages ===")
	var pkgs struct {
		PackageIDs []string `json:"packageIds"`
	}
	getJSON("/v2/packages", &pkgs)
	fmt.Printf("  %d packages on participant\n", len(pkgs.PackageIDs))

	fmt.Println("\n=== Active contracts (operator) ===")
	body := map[string]any{
		"filter": map[string]any{
			"filtersByParty": map[string]any{
				operator: map[string]any{"cumulative": []any{
					map[string]any{"identifierFilter": map[string]any{
						"WildcardFilter": map[string]any{"includeCreatedEventBlob": false},
					}},
				}},
			},
		},
		"verbose":        false,
		"activeAtOffset": end.Offset,
	}
	raw, _ := json.Marshal(body)
	resp, err := http.Post(apiURL+"/v2/state/active-contracts", "application/json", bytes.NewReader(raw))
	if err != nil {
		fmt.Fprintf(os.Stderr, "active-contracts: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	counts := map[string]int{}
	var entries []struct {
		ContractEntry struct {
			JsActiveContract struct {
				CreatedEvent struct {
					TemplateID string `json:"templateId"`
				} `json:"createdEvent"`
			} `json:"JsActiveContract"`
		} `json:"contractEntry"`
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		fmt.Fprintf(os.Stderr, "decode: %v\n", err)
		os.Exit(1)
	}
	for _, e := range entries {
		counts[e.ContractEntry.JsActiveContract.CreatedEvent.TemplateID]++
	}
	for tid, n := range counts {
		fmt.Printf("  %4d  %s\n", n, tid)
	}
}

func getJSON(path string, out any) {
	resp, err := http.Get(apiURL + path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "GET %s: %v\n", path, err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		fmt.Fprintf(os.Stderr, "decode %s: %v\n", path, err)
		os.Exit(1)
	}
}
