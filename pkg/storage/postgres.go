package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"l1sentry/shared/config"
	"l1sentry/shared/logging"
)

var log = logging.New("storage")

// Config holds Postgres connection settings. URL, when set, wins over the
// discrete fields.
type Config struct {
	URL string

	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	ConnectTimeout   time.Duration
	StatementTimeout time.Duration
}

// ConfigFromEnv reads DATABASE_URL or the discrete DB_* settings.
func ConfigFromEnv() Config {
	return Config{
		URL:      config.Get("DATABASE_URL", ""),
		Host:     config.Get("DB_HOST", "localhost"),
		Port:     config.GetInt("DB_PORT", 5432),
		User:     config.Get("DB_USER", "l1sentry"),
		Password: config.Get("DB_PASSWORD", ""),
		DBName:   config.Get("DB_NAME", "l1_anomaly_detection"),
		SSLMode:  config.Get("DB_SSLMODE", "disable"),
	}
}

func (c Config) withDefaults() Config {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 1 * time.Minute
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.StatementTimeout == 0 {
		c.StatementTimeout = 30 * time.Second
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	return c
}

// DSN renders the lib/pq connection string.
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d statement_timeout=%d",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
		int(c.ConnectTimeout.Seconds()),
		int(c.StatementTimeout.Milliseconds()),
	)
}

// Store is the Postgres implementation of AnomalySink and SessionStore.
type Store struct {
	db  *sql.DB
	cfg Config
}

// Open connects, applies pool settings, and verifies connectivity.
func Open(cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.WithField("db", cfg.DBName).Info("connected to postgres")
	return &Store{db: db, cfg: cfg}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const insertAnomaly = `
	INSERT INTO anomalies
	(id, timestamp, anomaly_type, description, severity, source_file,
	 packet_number, line_number, session_id, confidence_score, model_agreement,
	 ml_algorithm_details, ensemble_vote, status)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

// SaveAnomaly inserts one finding.
func (s *Store) SaveAnomaly(ctx context.Context, a Anomaly) error {
	if a.Status == "" {
		a.Status = StatusActive
	}
	details := a.Details
	if len(details) == 0 {
		details = []byte("{}")
	}
	_, err := s.db.ExecContext(ctx, insertAnomaly,
		a.ID, a.Timestamp, a.AnomalyType, a.Description, a.Severity, a.SourceFile,
		a.PacketNumber, a.LineNumber, a.SessionID, a.Confidence, a.Agreement,
		details, a.EnsembleVote, a.Status)
	if err != nil {
		return fmt.Errorf("insert anomaly: %w", err)
	}
	return nil
}

const insertSession = `
	INSERT INTO sessions (session_id, source_file, started_at, status)
	VALUES ($1, $2, $3, $4)`

// StartSession records a new run with status active. Counters fill in at
// FinishSession time.
func (s *Store) StartSession(ctx context.Context, sess Session) error {
	status := sess.Status
	if status == "" {
		status = StatusActive
	}
	_, err := s.db.ExecContext(ctx, insertSession,
		sess.ID, sess.SourceFile, sess.StartedAt, status)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

const finishSession = `
	INSERT INTO sessions
	(session_id, source_file, started_at, ended_at, files_processed,
	 total_samples, total_anomalies, protocol_anomalies, critical_count,
	 high_count, medium_count, low_count, processing_time_seconds, status)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (session_id) DO UPDATE SET
	  ended_at = EXCLUDED.ended_at,
	  files_processed = EXCLUDED.files_processed,
	  total_samples = EXCLUDED.total_samples,
	  total_anomalies = EXCLUDED.total_anomalies,
	  protocol_anomalies = EXCLUDED.protocol_anomalies,
	  critical_count = EXCLUDED.critical_count,
	  high_count = EXCLUDED.high_count,
	  medium_count = EXCLUDED.medium_count,
	  low_count = EXCLUDED.low_count,
	  processing_time_seconds = EXCLUDED.processing_time_seconds,
	  status = EXCLUDED.status`

// FinishSession writes the final counters and status for a run. The
// upsert covers single-shot runs that never called StartSession.
func (s *Store) FinishSession(ctx context.Context, sess Session) error {
	status := sess.Status
	if status == "" {
		status = StatusCompleted
	}
	_, err := s.db.ExecContext(ctx, finishSession,
		sess.ID, sess.SourceFile, sess.StartedAt, nullTime(sess.EndedAt),
		sess.FilesProcessed, sess.TotalSamples, sess.TotalAnomalies,
		sess.Protocol, sess.Critical, sess.High, sess.Medium, sess.Low,
		sess.Seconds, status)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

const insertProcessedFile = `
	INSERT INTO processed_files
	(filename, file_type, file_size, processing_status, total_samples,
	 anomalies_found, session_id, error_message)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// SaveProcessedFile records one file's processing outcome.
func (s *Store) SaveProcessedFile(ctx context.Context, f ProcessedFile) error {
	status := f.Status
	if status == "" {
		status = StatusCompleted
	}
	_, err := s.db.ExecContext(ctx, insertProcessedFile,
		f.Filename, string(f.FileType), f.FileSize, status, f.TotalSamples,
		f.Anomalies, f.SessionID, f.Error)
	if err != nil {
		return fmt.Errorf("insert processed file: %w", err)
	}
	return nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
