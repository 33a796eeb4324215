// Benchmark tool for load-testing a running Magpie instance.
//
// Usage:
//
//	go run cmd/benchmark/main.go -url http://localhost:8080 -members 100 -transactions 10000
//
// This tool:
//  1. Enrolls a pool of members
//  2. Fires transactions at the /transactions endpoint from concurrent workers
//  3. Waits for the reward pipeline to settle
//  4. Reports request throughput, latency, and points credited end to end
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// TransactionRequest is the Magpie API request format.
type TransactionRequest struct {
	MemberID        int64   `json:"memberId"`
	Amount          float64 `json:"amount"`
	PaymentMethod   string  `json:"paymentMethod"`
	ProductCategory string  `json:"productCategory"`
}

// MemberRequest is the enrollment request format.
type MemberRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Member is the enrollment response.
type Member struct {
	ID int64 `json:"id"`
}

// Balance is the /members/{id}/balance response.
type Balance struct {
	MemberID       int64  `json:"memberId"`
	Tier           string `json:"tier"`
	TotalPoints    int    `json:"totalPoints"`
	LifetimePoints int    `json:"lifetimePoints"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TotalSent     int64
	TotalAccepted int64
	TotalRejected int64
	TotalErrors   int64

	ProcessingTimeMs int64
}

var paymentMethods = []string{"CARD", "CASH", "WALLET", "TRANSFER"}
var productCategories = []string{"GROCERY", "ELECTRONICS", "TRAVEL", "FASHION", "DINING"}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Magpie base URL")
	memberCount := flag.Int("members", 100, "Number of members to enroll")
	txCount := flag.Int("transactions", 10000, "Number of transactions to send")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	maxAmount := flag.Float64("max-amount", 2000, "Maximum transaction amount")
	settle := flag.Duration("settle", 3*time.Second, "Time to wait for the pipeline to settle")
	verbose := flag.Bool("verbose", false, "Print each request result")
	flag.Parse()

	fmt.Println("Magpie Benchmark - reward pipeline load test")
	fmt.Printf("\nMagpie URL:   %s\n", *baseURL)
	fmt.Printf("Members:      %d\n", *memberCount)
	fmt.Printf("Transactions: %d\n", *txCount)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Println()

	// Check Magpie is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Magpie not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Magpie is running:")
		fmt.Println("  cd magpie && go run cmd/magpie/main.go")
		os.Exit(1)
	}
	fmt.Println("Magpie is healthy")

	// Enroll the member pool
	fmt.Printf("\nEnrolling %d members...\n", *memberCount)
	members, err := enrollMembers(*baseURL, *memberCount)
	if err != nil {
		fmt.Printf("ERROR: enrollment failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Enrolled %d members\n", len(members))

	// Run benchmark
	fmt.Printf("\nSending %d transactions with %d workers...\n", *txCount, *workers)
	startTime := time.Now()
	metrics := runBenchmark(*baseURL, members, *txCount, *workers, *maxAmount, *verbose)
	duration := time.Since(startTime)

	// Let the async award path drain before reading balances
	fmt.Printf("\nWaiting %v for the pipeline to settle...\n", *settle)
	time.Sleep(*settle)

	totalPoints, tiers := collectBalances(*baseURL, members)
	printResults(metrics, duration, totalPoints, tiers)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func enrollMembers(baseURL string, count int) ([]int64, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	runID := time.Now().UnixNano()

	ids := make([]int64, 0, count)
	for i := 0; i < count; i++ {
		req := MemberRequest{
			Name:  fmt.Sprintf("Bench Member %d", i),
			Email: fmt.Sprintf("bench-%d-%d@example.com", runID, i),
		}
		body, _ := json.Marshal(req)

		resp, err := client.Post(baseURL+"/members", "application/json", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusCreated {
			resp.Body.Close()
			return nil, fmt.Errorf("enrollment status %d", resp.StatusCode)
		}

		var m Member
		if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
			resp.Body.Close()
			return nil, err
		}
		resp.Body.Close()
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func runBenchmark(baseURL string, members []int64, txCount, numWorkers int, maxAmount float64, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan TransactionRequest, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tx := range work {
				start := time.Now()
				status, err := sendTransaction(client, baseURL, tx)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalSent, 1)

				switch {
				case err != nil:
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: member %d -> %v\n", tx.MemberID, err)
					}
				case status == http.StatusCreated:
					atomic.AddInt64(&metrics.TotalAccepted, 1)
					if verbose {
						fmt.Printf("OK  member %6d | %-8s | %-11s | $%10.2f | %dms\n",
							tx.MemberID, tx.PaymentMethod, tx.ProductCategory, tx.Amount, elapsed)
					}
				default:
					atomic.AddInt64(&metrics.TotalRejected, 1)
					if verbose {
						fmt.Printf("REJ member %6d | status %d\n", tx.MemberID, status)
					}
				}
			}
		}()
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; i < txCount; i++ {
		work <- TransactionRequest{
			MemberID:        members[rng.Intn(len(members))],
			Amount:          1 + rng.Float64()*maxAmount,
			PaymentMethod:   paymentMethods[rng.Intn(len(paymentMethods))],
			ProductCategory: productCategories[rng.Intn(len(productCategories))],
		}
	}
	close(work)

	wg.Wait()
	return metrics
}

func sendTransaction(client *http.Client, baseURL string, tx TransactionRequest) (int, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return 0, err
	}

	resp, err := client.Post(baseURL+"/transactions", "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

func collectBalances(baseURL string, members []int64) (int, map[string]int) {
	client := &http.Client{Timeout: 10 * time.Second}

	totalPoints := 0
	tiers := make(map[string]int)
	for _, id := range members {
		resp, err := client.Get(fmt.Sprintf("%s/members/%d/balance", baseURL, id))
		if err != nil {
			continue
		}
		var b Balance
		if err := json.NewDecoder(resp.Body).Decode(&b); err == nil {
			totalPoints += b.TotalPoints
			tiers[b.Tier]++
		}
		resp.Body.Close()
	}
	return totalPoints, tiers
}

func printResults(m *Metrics, duration time.Duration, totalPoints int, tiers map[string]int) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nREQUESTS\n")
	fmt.Printf("   Sent:      %d\n", m.TotalSent)
	fmt.Printf("   Accepted:  %d\n", m.TotalAccepted)
	fmt.Printf("   Rejected:  %d\n", m.TotalRejected)
	fmt.Printf("   Errors:    %d\n", m.TotalErrors)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:  %v\n", duration.Round(time.Millisecond))
	if m.TotalSent > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalSent)
		tps := float64(m.TotalSent) / duration.Seconds()
		fmt.Printf("   Avg Latency:     %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:      %.2f tx/sec\n", tps)
	}

	fmt.Printf("\nREWARDS\n")
	fmt.Printf("   Points Credited: %d\n", totalPoints)
	for tier, count := range tiers {
		fmt.Printf("   %-9s        %d members\n", tier, count)
	}

	fmt.Println()
}
