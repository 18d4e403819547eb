package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type eventResponse struct {
	Event struct {
		ID        string `json:"id"`
		BlockHash string `json:"block_hash"`
	} `json:"event"`
}

type productResponse struct {
	QRCode string `json:"qr_code"`
}

// Result is one timed step of the batch lifecycle.
type Result struct {
	Step    string
	Latency time.Duration
}

func main() {
	iterations := flag.Int("n", 100, "Number of iterations")
	port := flag.String("port", "8080", "API port")
	flag.Parse()

	recordsDir := "./records"
	os.MkdirAll(recordsDir, 0755)

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filename := filepath.Join(recordsDir, fmt.Sprintf(
		"latency_%s_n%d.csv",
		timestamp, *iterations,
	))

	file, err := os.Create(filename)
	if err != nil {
		fmt.Printf("Error creating file: %v\n", err)
		return
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	writer.Write([]string{"Iteration", "Step", "Latency_ms"})

	baseURL := fmt.Sprintf("http://127.0.0.1:%s", *port)
	client := NewHTTPClient(baseURL)

	fmt.Println("========================================")
	fmt.Println("   BATCH LIFECYCLE LATENCY BENCHMARK")
	fmt.Println("========================================")
	fmt.Printf("Iterations: %d\n", *iterations)
	fmt.Printf("API URL:    %s\n", baseURL)
	fmt.Printf("Output:     %s\n", filename)
	fmt.Println("========================================")
	fmt.Println("")

	successCount := 0
	failCount := 0

	for i := 0; i < *iterations; i++ {
		fmt.Printf("\r[%d/%d] ", i+1, *iterations)

		batchID := fmt.Sprintf("BENCH-%s-%04d", time.Now().Format("20060102150405"), i)
		results, errMsg := runLifecycle(client, batchID)
		if errMsg == "" {
			successCount++
			fmt.Print("✓")
			for _, r := range results {
				writer.Write([]string{
					strconv.Itoa(i + 1),
					r.Step,
					strconv.FormatInt(r.Latency.Milliseconds(), 10),
				})
			}
		} else {
			failCount++
			fmt.Printf("✗ %s\n", errMsg)
		}

		time.Sleep(50 * time.Millisecond)
	}

	fmt.Printf("\n\n========================================\n")
	fmt.Printf("Success: %d/%d\n", successCount, *iterations)
	if failCount > 0 {
		fmt.Printf("Failed:  %d\n", failCount)
	}
	fmt.Printf("Results: %s\n", filename)
	fmt.Println("========================================")
}

// runLifecycle drives one batch from harvest through product creation to
// the consumer provenance lookup, timing each step.
func runLifecycle(client *HTTPClient, batchID string) ([]Result, string) {
	var results []Result
	totalStart := time.Now()

	// 1. Harvest
	start := time.Now()
	resp, err := client.POST("/api/v1/events/harvest", map[string]interface{}{
		"batch_id":    batchID,
		"herb_name":   "Ashwagandha",
		"actor_name":  "Ramesh Kumar",
		"coordinates": map[string]float64{"lat": 23.2599, "lng": 77.4126},
		"metadata": map[string]interface{}{
			"quantity":       45,
			"harvest_method": "Hand-picked",
		},
	})
	if err != nil {
		return results, fmt.Sprintf("Harvest: %v", err)
	}
	var harvestResp eventResponse
	if err := UnmarshalBody(resp, &harvestResp); err != nil {
		return results, fmt.Sprintf("Harvest (unmarshal): %v", err)
	}
	results = append(results, Result{"Harvest", time.Since(start)})

	// 2. Processing
	start = time.Now()
	resp, err = client.POST("/api/v1/events/processing", map[string]interface{}{
		"batch_id":   batchID,
		"actor_name": "Himalaya Processing Unit",
		"metadata": map[string]interface{}{
			"processing_method": "Shade drying",
		},
	})
	if err != nil {
		return results, fmt.Sprintf("Processing: %v", err)
	}
	if _, err := Drain(resp); err != nil {
		return results, fmt.Sprintf("Processing: %v", err)
	}
	results = append(results, Result{"Processing", time.Since(start)})

	// 3. Quality Test
	start = time.Now()
	resp, err = client.POST("/api/v1/events/quality-test", map[string]interface{}{
		"batch_id":   batchID,
		"actor_name": "AyurLab Quality Services",
		"test_results": map[string]interface{}{
			"moisture":         10.5,
			"pesticide":        "Not Detected",
			"dna_authenticity": "Confirmed",
		},
	})
	if err != nil {
		return results, fmt.Sprintf("Quality Test: %v", err)
	}
	if _, err := Drain(resp); err != nil {
		return results, fmt.Sprintf("Quality Test: %v", err)
	}
	results = append(results, Result{"Quality Test", time.Since(start)})

	// 4. Create Product
	start = time.Now()
	resp, err = client.POST("/api/v1/products", map[string]interface{}{
		"batch_id":          batchID,
		"product_name":      "Ashwagandha Capsules",
		"manufacturer_name": "Vedic Wellness Pharma",
	})
	if err != nil {
		return results, fmt.Sprintf("Create Product: %v", err)
	}
	var prodResp productResponse
	if err := UnmarshalBody(resp, &prodResp); err != nil {
		return results, fmt.Sprintf("Create Product (unmarshal): %v", err)
	}
	results = append(results, Result{"Create Product", time.Since(start)})

	// 5. Provenance lookup by QR code
	start = time.Now()
	resp, err = client.GET("/api/v1/provenance/" + prodResp.QRCode)
	if err != nil {
		return results, fmt.Sprintf("Provenance: %v", err)
	}
	if _, err := Drain(resp); err != nil {
		return results, fmt.Sprintf("Provenance: %v", err)
	}
	results = append(results, Result{"Provenance", time.Since(start)})

	results = append(results, Result{"Complete Lifecycle", time.Since(totalStart)})

	return results, ""
}
