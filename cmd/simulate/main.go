package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-booking/internal/auth"
	"github.com/hackgods/telehealth-booking/internal/availability"
	"github.com/hackgods/telehealth-booking/internal/config"
	"github.com/hackgods/telehealth-booking/internal/db"
	"github.com/hackgods/telehealth-booking/internal/logging"
)

// SimConfig drives a contention run: every round, all workers try to book
// the same doctor slot at once.
type SimConfig struct {
	APIBaseURL   string
	Workers      int
	Rounds       int
	Date         string
	PatientLimit int
	PostgresDSN  string
	SigningKey   string
	Issuer       string
}

type DataPool struct {
	DoctorID uuid.UUID
	Patients []uuid.UUID
	Tokens   map[uuid.UUID]string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking    OperationMetrics
	ListSlots  OperationMetrics
	DoubleWins int64 // rounds where more than one request got 201
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  *zap.Logger
}

func main() {
	cfg := loadConfig()
	logger := logging.Must("dev").Named("simulate")
	defer func() { _ = logger.Sync() }()

	if err := validateConfig(cfg); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	logger.Info("simulator starting",
		zap.Int("workers", cfg.Workers),
		zap.Int("rounds", cfg.Rounds),
		zap.String("date", cfg.Date),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}
	logger.Info("data loaded",
		zap.Stringer("doctor_id", dataPool.DoctorID),
		zap.Int("patients", len(dataPool.Patients)),
	)

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run(context.Background())
	sim.PrintReport()
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load base config: %v\n", err)
		os.Exit(1)
	}

	return SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Workers:      getInt("SIM_WORKERS", 20),
		Rounds:       getInt("SIM_ROUNDS", 10),
		Date:         getEnv("SIM_DATE", time.Now().AddDate(0, 0, 7).Format("2006-01-02")),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 200),
		PostgresDSN:  baseCfg.PostgresDSN,
		SigningKey:   baseCfg.JWTSigningKey,
		Issuer:       baseCfg.JWTIssuer,
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Rounds <= 0 {
		return fmt.Errorf("SIM_ROUNDS must be > 0")
	}
	if cfg.Rounds > len(availability.Slots()) {
		return fmt.Errorf("SIM_ROUNDS must be <= %d, one round per slot", len(availability.Slots()))
	}
	if !availability.ValidDate(cfg.Date) {
		return fmt.Errorf("SIM_DATE must be YYYY-MM-DD")
	}
	return nil
}

// loadDataPool picks the first doctor still accepting appointments and a set
// of patients, and mints a short-lived token for each patient.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{Tokens: make(map[uuid.UUID]string)}

	err := pool.QueryRow(ctx, `
		SELECT id FROM doctors WHERE accepting_appointments ORDER BY created_at LIMIT 1
	`).Scan(&dataPool.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}

	verifier := auth.NewVerifier(cfg.SigningKey, cfg.Issuer)
	for _, id := range dataPool.Patients {
		token, err := verifier.Issue(auth.Principal{UserID: id, Role: auth.RolePatient}, time.Hour)
		if err != nil {
			return nil, fmt.Errorf("issue token: %w", err)
		}
		dataPool.Tokens[id] = token
	}

	return dataPool, nil
}

// Run plays one round per grid slot. Workers are released together so the
// requests hit the API as close to simultaneously as possible.
func (s *Simulator) Run(ctx context.Context) {
	slots := availability.Slots()

	for round := 0; round < s.config.Rounds; round++ {
		slot := slots[round]

		var (
			wg   sync.WaitGroup
			wins int64
		)
		start := make(chan struct{})
		for i := 0; i < s.config.Workers; i++ {
			patientID := s.pool.Patients[(round*s.config.Workers+i)%len(s.pool.Patients)]
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if s.doBooking(ctx, patientID, slot) {
					atomic.AddInt64(&wins, 1)
				}
			}()
		}
		close(start)
		wg.Wait()

		if wins > 1 {
			s.metrics.DoubleWins++
			s.logger.Error("slot booked more than once", zap.String("slot", slot), zap.Int64("wins", wins))
		}
		s.logger.Debug("round complete", zap.Int("round", round), zap.String("slot", slot), zap.Int64("wins", wins))

		s.doListSlots(ctx, s.pool.Patients[0])
	}
}

func (s *Simulator) doBooking(ctx context.Context, patientID uuid.UUID, slot string) bool {
	body, _ := json.Marshal(map[string]string{
		"doctorId":        s.pool.DoctorID.String(),
		"appointmentDate": s.config.Date,
		"appointmentTime": slot,
		"reason":          "load test",
	})

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.pool.Tokens[patientID])

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusCreated
		conflict = resp.StatusCode == http.StatusConflict
	}

	s.metrics.Booking.Record(latency, success, conflict)
	return success
}

func (s *Simulator) doListSlots(ctx context.Context, patientID uuid.UUID) {
	url := fmt.Sprintf("%s/availability?doctorId=%s&date=%s", s.config.APIBaseURL, s.pool.DoctorID, s.config.Date)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	req.Header.Set("Authorization", "Bearer "+s.pool.Tokens[patientID])

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.ListSlots.Record(latency, success, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Doctor: %s  Date: %s\n", s.pool.DoctorID, s.config.Date)
	fmt.Printf("Workers per round: %d  Rounds: %d\n", s.config.Workers, s.config.Rounds)
	fmt.Printf("Rounds with more than one winner: %d\n", s.metrics.DoubleWins)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("List slots", &s.metrics.ListSlots)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
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
	}
	return def
}
