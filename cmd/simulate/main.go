package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/clinicdesk/booking-api/internal/config"
	"github.com/clinicdesk/booking-api/internal/db"
)

// simulate hammers the booking endpoint with concurrent patients fighting
// over the same slots and then audits the store: for every contested slot
// exactly one booking must have succeeded and at most one appointment row may
// exist. A failed audit means the booking transaction lost its serialization
// guarantee.

const demoPassword = "password123"

type SimConfig struct {
	APIBaseURL  string
	Workers     int
	SlotLimit   int
	SessionMax  int
	PostgresDSN string
}

type patientSession struct {
	ID    int64
	Email string
	Token string
}

type BookingMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (m *BookingMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&m.Total, 1)
	switch status {
	case http.StatusOK:
		atomic.AddInt64(&m.Success, 1)
	case http.StatusConflict:
		atomic.AddInt64(&m.Conflict, 1)
	default:
		atomic.AddInt64(&m.Error, 1)
	}

	m.mu.Lock()
	m.latencies = append(m.latencies, latency)
	m.mu.Unlock()
}

func (m *BookingMetrics) Stats() (avg, p50, p95, max time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.latencies) == 0 {
		return 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(m.latencies))
	copy(latencies, m.latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95idx := len(latencies) * 95 / 100
	if p95idx >= len(latencies) {
		p95idx = len(latencies) - 1
	}
	p95 = latencies[p95idx]
	max = latencies[len(latencies)-1]
	return avg, p50, p95, max
}

func main() {
	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	baseCfg, err := config.Load()
	if err != nil {
		log.Fatal("config load error", zap.Error(err))
	}

	cfg := SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Workers:     getInt("SIM_WORKERS", 20),
		SlotLimit:   getInt("SIM_SLOT_LIMIT", 50),
		SessionMax:  getInt("SIM_SESSION_LIMIT", 20),
		PostgresDSN: baseCfg.PostgresDSN,
	}

	log.Info("simulator starting",
		zap.Int("workers", cfg.Workers),
		zap.Int("slot_limit", cfg.SlotLimit),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	client := &http.Client{Timeout: 10 * time.Second}

	sessions, err := signInPatients(ctx, client, cfg, pool, log)
	if err != nil {
		log.Fatal("sign in patients", zap.Error(err))
	}
	if len(sessions) < 2 {
		log.Fatal("need at least 2 seeded patients, run cmd/seed first")
	}

	slotIDs, err := loadOpenSlots(ctx, pool, cfg.SlotLimit)
	if err != nil {
		log.Fatal("load open slots", zap.Error(err))
	}
	if len(slotIDs) == 0 {
		log.Fatal("no open slots found, run cmd/seed first")
	}

	log.Info("loaded data", zap.Int("sessions", len(sessions)), zap.Int("slots", len(slotIDs)))

	metrics := &BookingMetrics{}
	winners := runContention(client, cfg, sessions, slotIDs, metrics)

	printReport(metrics, winners, len(slotIDs))

	if err := auditStore(ctx, pool, slotIDs, winners); err != nil {
		log.Fatal("STORE AUDIT FAILED", zap.Error(err))
	}
	log.Info("store audit passed: no double bookings, no orphaned writes")
}

// signInPatients signs in up to SessionMax seeded patients through the real
// API so the contest runs with genuine bearer tokens.
func signInPatients(ctx context.Context, client *http.Client, cfg SimConfig, pool *pgxpool.Pool, log *zap.Logger) ([]patientSession, error) {
	rows, err := pool.Query(ctx, `SELECT id, email FROM patients ORDER BY id LIMIT $1`, cfg.SessionMax)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []patientSession
	for rows.Next() {
		var s patientSession
		if err := rows.Scan(&s.ID, &s.Email); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	signedIn := sessions[:0]
	for _, s := range sessions {
		token, err := signIn(client, cfg.APIBaseURL, s.Email)
		if err != nil {
			log.Warn("sign-in failed, skipping patient", zap.String("email", s.Email), zap.Error(err))
			continue
		}
		s.Token = token
		signedIn = append(signedIn, s)
	}

	return signedIn, nil
}

func signIn(client *http.Client, baseURL, email string) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"email":    email,
		"password": demoPassword,
	})

	resp, err := client.Post(baseURL+"/api/signin", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("signin status %d", resp.StatusCode)
	}

	var parsed struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if parsed.Token == "" {
		return "", fmt.Errorf("empty token in signin response")
	}
	return parsed.Token, nil
}

func loadOpenSlots(ctx context.Context, pool *pgxpool.Pool, limit int) ([]int64, error) {
	rows, err := pool.Query(ctx, `
		SELECT id FROM slots
		WHERE available AND schedule_date >= CURRENT_DATE
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// runContention fires every worker at the same slot simultaneously, slot by
// slot, and records how many distinct winners each slot produced.
func runContention(client *http.Client, cfg SimConfig, sessions []patientSession, slotIDs []int64, metrics *BookingMetrics) map[int64]int {
	winners := make(map[int64]int, len(slotIDs))
	var winnersMu sync.Mutex

	for _, slotID := range slotIDs {
		var wg sync.WaitGroup
		start := make(chan struct{})

		for w := 0; w < cfg.Workers; w++ {
			session := sessions[w%len(sessions)]
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start

				began := time.Now()
				status := bookSlot(client, cfg.APIBaseURL, session.Token, slotID)
				metrics.Record(time.Since(began), status)

				if status == http.StatusOK {
					winnersMu.Lock()
					winners[slotID]++
					winnersMu.Unlock()
				}
			}()
		}

		close(start) // release all workers at once
		wg.Wait()
	}

	return winners
}

func bookSlot(client *http.Client, baseURL, token string, slotID int64) int {
	body, _ := json.Marshal(map[string]int64{"slotId": slotID})

	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/book-appointment", bytes.NewReader(body))
	if err != nil {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode
}

// auditStore re-checks the invariant directly against the store: a contested
// slot that produced a winner must be unavailable with exactly one
// appointment; a slot with no winner must still be open with none.
func auditStore(ctx context.Context, pool *pgxpool.Pool, slotIDs []int64, winners map[int64]int) error {
	for slotID, count := range winners {
		if count > 1 {
			return fmt.Errorf("slot %d had %d successful bookings", slotID, count)
		}
	}

	for _, slotID := range slotIDs {
		var available bool
		var appointments int
		err := pool.QueryRow(ctx, `
			SELECT s.available, count(a.id)
			FROM slots s
			LEFT JOIN appointments a ON a.slot_id = s.id
			WHERE s.id = $1
			GROUP BY s.available
		`, slotID).Scan(&available, &appointments)
		if err != nil {
			return fmt.Errorf("audit slot %d: %w", slotID, err)
		}

		won := winners[slotID] == 1
		switch {
		case appointments > 1:
			return fmt.Errorf("slot %d has %d appointments", slotID, appointments)
		case won && (available || appointments != 1):
			return fmt.Errorf("slot %d: booked but available=%v appointments=%d", slotID, available, appointments)
		case !won && (!available || appointments != 0):
			return fmt.Errorf("slot %d: unbooked but available=%v appointments=%d", slotID, available, appointments)
		}
	}

	return nil
}

func printReport(metrics *BookingMetrics, winners map[int64]int, slots int) {
	avg, p50, p95, max := metrics.Stats()

	fmt.Println()
	fmt.Println("=== booking contention report ===")
	fmt.Printf("contested slots:  %d\n", slots)
	fmt.Printf("requests:         %d\n", atomic.LoadInt64(&metrics.Total))
	fmt.Printf("  success (200):  %d\n", atomic.LoadInt64(&metrics.Success))
	fmt.Printf("  conflict (409): %d\n", atomic.LoadInt64(&metrics.Conflict))
	fmt.Printf("  errors:         %d\n", atomic.LoadInt64(&metrics.Error))
	fmt.Printf("slots won:        %d\n", len(winners))
	fmt.Printf("latency:          avg=%s p50=%s p95=%s max=%s\n", avg, p50, p95, max)
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		fmt.Fprintf(os.Stderr, "invalid integer for %s=%q, using default %d\n", key, v, def)
	}
	return def
}
