package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// AppendResult is one append attempt as seen by a worker.
type AppendResult struct {
	Success  bool
	Conflict bool
	Latency  time.Duration
	ErrorMsg string
}

func main() {
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	batches := flag.Int("batches", 1, "Number of shared batches the workers contend on")
	duration := flag.Int("duration", 30, "Test duration in seconds")
	port := flag.String("port", "8080", "API port")
	flag.Parse()

	recordsDir := "./records"
	os.MkdirAll(recordsDir, 0755)

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filename := filepath.Join(recordsDir, fmt.Sprintf(
		"concurrency_%s_w%d_b%d_d%ds.csv",
		timestamp, *workers, *batches, *duration,
	))

	fmt.Println("========================================")
	fmt.Println("   CONCURRENT APPEND BENCHMARK")
	fmt.Println("========================================")
	fmt.Printf("Workers:  %d\n", *workers)
	fmt.Printf("Batches:  %d\n", *batches)
	fmt.Printf("Duration: %ds\n", *duration)
	fmt.Printf("API URL:  http://127.0.0.1:%s\n", *port)
	fmt.Printf("Output:   %s\n", filename)
	fmt.Println("========================================")
	fmt.Println("")

	baseURL := fmt.Sprintf("http://127.0.0.1:%s", *port)
	client := NewHTTPClient(baseURL)

	// Every contended batch needs a harvest genesis before workers can
	// pile processing events onto its head.
	fmt.Println("Seeding batches...")
	batchIDs := make([]string, *batches)
	for i := range batchIDs {
		batchIDs[i] = fmt.Sprintf("BENCH-%s-%03d", time.Now().Format("20060102150405"), i)
		if err := seedBatch(client, batchIDs[i]); err != nil {
			fmt.Printf("Error seeding batch %s: %v\n", batchIDs[i], err)
			return
		}
	}

	stopChan := make(chan struct{})
	resultsChan := make(chan AppendResult, *workers*10)

	var totalReqs int64
	var successReqs int64
	var conflictReqs int64
	var failedReqs int64
	var totalLatency int64
	var minLatency int64 = 1<<63 - 1
	var maxLatency int64 = 0

	var wg sync.WaitGroup

	fmt.Println("Starting workers...")
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go worker(i, baseURL, batchIDs, stopChan, resultsChan, &wg)
	}

	var collectorWg sync.WaitGroup
	collectorWg.Add(1)
	go func() {
		defer collectorWg.Done()
		for result := range resultsChan {
			atomic.AddInt64(&totalReqs, 1)

			switch {
			case result.Success:
				atomic.AddInt64(&successReqs, 1)
				latencyNs := result.Latency.Nanoseconds()
				atomic.AddInt64(&totalLatency, latencyNs)

				for {
					old := atomic.LoadInt64(&minLatency)
					if latencyNs >= old || atomic.CompareAndSwapInt64(&minLatency, old, latencyNs) {
						break
					}
				}
				for {
					old := atomic.LoadInt64(&maxLatency)
					if latencyNs <= old || atomic.CompareAndSwapInt64(&maxLatency, old, latencyNs) {
						break
					}
				}
			case result.Conflict:
				atomic.AddInt64(&conflictReqs, 1)
			default:
				atomic.AddInt64(&failedReqs, 1)
			}

			if totalReqs%10 == 0 {
				fmt.Printf("\rRequests: %d | Success: %d | Conflicts: %d | Failed: %d",
					totalReqs, successReqs, conflictReqs, failedReqs)
			}
		}
	}()

	startTime := time.Now()
	fmt.Printf("Running benchmark for %d seconds...\n", *duration)
	time.Sleep(time.Duration(*duration) * time.Second)

	close(stopChan)
	wg.Wait()
	close(resultsChan)
	collectorWg.Wait()

	elapsed := time.Since(startTime)

	tps := float64(totalReqs) / elapsed.Seconds()
	avgLatency := time.Duration(0)
	if successReqs > 0 {
		avgLatency = time.Duration(totalLatency / successReqs)
	}

	fmt.Println("\n\n========================================")
	fmt.Println("   BENCHMARK RESULTS")
	fmt.Println("========================================")
	fmt.Printf("Total Requests:    %d\n", totalReqs)
	fmt.Printf("Successful:        %d (%.2f%%)\n", successReqs, float64(successReqs)/float64(totalReqs)*100)
	fmt.Printf("Head Conflicts:    %d (%.2f%%)\n", conflictReqs, float64(conflictReqs)/float64(totalReqs)*100)
	fmt.Printf("Failed:            %d (%.2f%%)\n", failedReqs, float64(failedReqs)/float64(totalReqs)*100)
	fmt.Printf("Duration:          %v\n", elapsed)
	fmt.Printf("Throughput (TPS):  %.2f\n", tps)
	fmt.Printf("Avg Latency:       %v\n", avgLatency)
	fmt.Printf("Min Latency:       %v\n", time.Duration(minLatency))
	fmt.Printf("Max Latency:       %v\n", time.Duration(maxLatency))
	fmt.Println("========================================")

	file, err := os.Create(filename)
	if err != nil {
		fmt.Printf("Error creating file: %v\n", err)
		return
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	writer.Write([]string{
		"Workers", "Batches", "Duration_s",
		"Total_Requests", "Successful", "Head_Conflicts", "Failed",
		"TPS", "Avg_Latency_ms", "Min_Latency_ms", "Max_Latency_ms",
	})

	writer.Write([]string{
		fmt.Sprintf("%d", *workers),
		fmt.Sprintf("%d", *batches),
		fmt.Sprintf("%d", *duration),
		fmt.Sprintf("%d", totalReqs),
		fmt.Sprintf("%d", successReqs),
		fmt.Sprintf("%d", conflictReqs),
		fmt.Sprintf("%d", failedReqs),
		fmt.Sprintf("%.2f", tps),
		fmt.Sprintf("%.2f", float64(avgLatency.Milliseconds())),
		fmt.Sprintf("%.2f", float64(time.Duration(minLatency).Milliseconds())),
		fmt.Sprintf("%.2f", float64(time.Duration(maxLatency).Milliseconds())),
	})

	fmt.Printf("\nResults saved to: %s\n", filename)
}

func seedBatch(client *HTTPClient, batchID string) error {
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
		return err
	}
	_, err = Drain(resp)
	return err
}

func worker(id int, baseURL string, batchIDs []string, stopChan chan struct{}, resultsChan chan AppendResult, wg *sync.WaitGroup) {
	defer wg.Done()

	client := NewHTTPClient(baseURL)
	n := 0

	for {
		select {
		case <-stopChan:
			return
		default:
			// Round-robin over the shared batches so every worker keeps
			// racing the others for the same chain heads.
			batchID := batchIDs[(id+n)%len(batchIDs)]
			n++

			start := time.Now()
			status, err := appendProcessing(client, batchID, id, n)
			latency := time.Since(start)

			result := AppendResult{
				Success:  err == nil,
				Conflict: status == http.StatusConflict,
				Latency:  latency,
			}
			if err != nil {
				result.ErrorMsg = err.Error()
			}

			resultsChan <- result
		}
	}
}

func appendProcessing(client *HTTPClient, batchID string, workerID, seq int) (int, error) {
	resp, err := client.POST("/api/v1/events/processing", map[string]interface{}{
		"batch_id":   batchID,
		"actor_name": "Himalaya Processing Unit",
		"metadata": map[string]interface{}{
			"processing_method": fmt.Sprintf("Batch drying pass w%d-%d", workerID, seq),
		},
	})
	if err != nil {
		return 0, err
	}
	return Drain(resp)
}
