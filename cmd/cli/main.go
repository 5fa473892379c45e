package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/ocean5tech/grydemo/pkg/idempotency"
)

type scenario struct {
	Name        string
	Description string
}

type model struct {
	scenarios []scenario
	selected  int
	status    string
	metrics   string
	busy      bool

	state *labState
}

// labState carries the IDs created by earlier scenarios so later ones
// can act on them.
type labState struct {
	UserID    string
	ProductID string
	OrderID   string
}

func initialModel() model {
	return model{
		scenarios: []scenario{
			{"seed", "Create a demo user and product"},
			{"create", "Create an order (reserves stock)"},
			{"deliver", "Mark the order DELIVERED"},
			{"oversell", "Try to order more than the stock"},
			{"delete", "Delete the order (restores stock)"},
			{"bench", "Run a short create-order benchmark"},
		},
		status: "Ready",
		state:  &labState{},
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up":
			if m.selected > 0 {
				m.selected--
			}
		case "down":
			if m.selected < len(m.scenarios)-1 {
				m.selected++
			}
		case "enter":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Running..."
			return m, runScenarioCmd(m.scenarios[m.selected].Name, m.state)
		}
	case scenarioResult:
		m.busy = false
		m.status = msg.status
		m.metrics = msg.metrics
	}
	return m, nil
}

func (m model) View() string {
	b := &strings.Builder{}
	fmt.Fprintln(b, "grydemo order pipeline CLI")
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "Scenarios:")
	for i, scn := range m.scenarios {
		marker := " "
		if i == m.selected {
			marker = ">"
		}
		fmt.Fprintf(b, " %s %s - %s\n", marker, scn.Name, scn.Description)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintf(b, "Status: %s\n", m.status)
	if m.metrics != "" {
		fmt.Fprintf(b, "Metrics: %s\n", m.metrics)
	}
	fmt.Fprintln(b, "\nControls: up/down select, enter to run, q to quit")
	return b.String()
}

type scenarioResult struct {
	status  string
	metrics string
}

func runScenarioCmd(scn string, state *labState) tea.Cmd {
	return func() tea.Msg {
		baseURL := strings.TrimRight(getenv("ORDER_BASE_URL", "http://localhost:8080"), "/")
		switch scn {
		case "seed":
			return seed(baseURL, state)
		case "create":
			return createOrder(baseURL, state)
		case "deliver":
			if state.OrderID == "" {
				return scenarioResult{status: "Run the create scenario first"}
			}
			body, err := call(http.MethodPut, baseURL+"/orders/"+state.OrderID+"/status",
				map[string]any{"status": "DELIVERED"}, "")
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Deliver failed: %v", err)}
			}
			return scenarioResult{status: "Delivered: " + body}
		case "oversell":
			if state.UserID == "" || state.ProductID == "" {
				return scenarioResult{status: "Run the seed scenario first"}
			}
			_, err := call(http.MethodPost, baseURL+"/orders", map[string]any{
				"user_id":      state.UserID,
				"total_amount": "9999.00",
				"items": []map[string]any{
					{"product_id": state.ProductID, "quantity": 1000000, "unit_price": "9.99"},
				},
			}, uuid.NewString())
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Rejected as expected: %v", err)}
			}
			return scenarioResult{status: "Unexpectedly succeeded"}
		case "delete":
			if state.OrderID == "" {
				return scenarioResult{status: "Run the create scenario first"}
			}
			_, err := call(http.MethodDelete, baseURL+"/orders/"+state.OrderID, nil, "")
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Delete failed: %v", err)}
			}
			orderID := state.OrderID
			state.OrderID = ""
			return scenarioResult{status: "Deleted order " + orderID}
		case "bench":
			if state.UserID == "" || state.ProductID == "" {
				return scenarioResult{status: "Run the seed scenario first"}
			}
			return scenarioResult{status: "Benchmark finished", metrics: runBenchmark(baseURL, state)}
		default:
			return scenarioResult{status: "Unknown scenario: " + scn}
		}
	}
}

func seed(baseURL string, state *labState) scenarioResult {
	userBody, err := call(http.MethodPost, baseURL+"/users", map[string]any{
		"username": "lab-" + uuid.NewString()[:8],
		"email":    uuid.NewString()[:8] + "@example.com",
	}, "")
	if err != nil {
		return scenarioResult{status: fmt.Sprintf("Seed user failed: %v", err)}
	}
	state.UserID = extractID(userBody)

	productBody, err := call(http.MethodPost, baseURL+"/products", map[string]any{
		"name":           "Lab Widget",
		"description":    "demo stock",
		"price":          "9.99",
		"stock_quantity": 100,
	}, "")
	if err != nil {
		return scenarioResult{status: fmt.Sprintf("Seed product failed: %v", err)}
	}
	state.ProductID = extractID(productBody)
	return scenarioResult{status: fmt.Sprintf("Seeded user=%s product=%s", state.UserID, state.ProductID)}
}

func createOrder(baseURL string, state *labState) scenarioResult {
	if state.UserID == "" || state.ProductID == "" {
		return scenarioResult{status: "Run the seed scenario first"}
	}
	body, err := call(http.MethodPost, baseURL+"/orders", map[string]any{
		"user_id":      state.UserID,
		"total_amount": "29.97",
		"items": []map[string]any{
			{"product_id": state.ProductID, "quantity": 3, "unit_price": "9.99"},
		},
	}, uuid.NewString())
	if err != nil {
		return scenarioResult{status: fmt.Sprintf("Create failed: %v", err)}
	}
	state.OrderID = extractID(body)
	return scenarioResult{status: "Created order " + state.OrderID}
}

func runBenchmark(baseURL string, state *labState) string {
	duration := 5 * time.Second
	vus := 5
	var mu sync.Mutex
	var total time.Duration
	var count, failures int
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < vus; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				default:
					start := time.Now()
					_, err := call(http.MethodPost, baseURL+"/orders", map[string]any{
						"user_id":      state.UserID,
						"total_amount": "9.99",
						"items": []map[string]any{
							{"product_id": state.ProductID, "quantity": 1, "unit_price": "9.99"},
						},
					}, uuid.NewString())
					mu.Lock()
					if err != nil {
						failures++
					} else {
						count++
						total += time.Since(start)
					}
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	avg := time.Duration(0)
	if count > 0 {
		avg = total / time.Duration(count)
	}
	return fmt.Sprintf("count=%d failures=%d avg=%s throughput=%.2f req/s",
		count, failures, avg, float64(count)/duration.Seconds())
}

func call(method, url string, payload any, idemKey string) (string, error) {
	var body io.Reader
	if payload != nil {
		data, _ := json.Marshal(payload)
		body = bytes.NewReader(data)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set(idempotency.Header, idemKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))
	}
	return string(raw), nil
}

func extractID(body string) string {
	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return ""
	}
	return parsed.ID
}

func main() {
	runCmd := flag.String("run", "", "run scenario: seed|create|deliver|oversell|delete|bench")
	flag.Parse()

	if *runCmd != "" {
		state := &labState{}
		steps := []string{*runCmd}
		if *runCmd != "seed" {
			steps = append([]string{"seed"}, steps...)
		}
		if *runCmd == "deliver" || *runCmd == "delete" {
			steps = append(steps[:1], append([]string{"create"}, steps[1:]...)...)
		}
		for _, scn := range steps {
			res := runScenarioCmd(scn, state)().(scenarioResult)
			fmt.Println(res.status)
			if res.metrics != "" {
				fmt.Println(res.metrics)
			}
		}
		return
	}

	p := tea.NewProgram(initialModel())
	if _, err := p.Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
