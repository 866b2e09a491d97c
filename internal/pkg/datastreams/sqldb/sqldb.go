// Package sqldb stores run summaries and case records in a SQL database.
// PostgreSQL and MySQL are supported.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_contingency/internal/pkg/msg"
	"github.com/ohowland/cgc_contingency/internal/pkg/runner"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

type Handler struct {
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config Config
	system msg.Publisher
	stop   chan bool
	done   chan struct{}
}

// Config of the database connection. Driver is "postgres" or "mysql".
type Config struct {
	Driver   string `json:"Driver"`
	Server   string `json:"Server"`
	Port     int    `json:"Port"`
	Username string `json:"Username"`
	Password string `json:"Password"`
	Database string `json:"Database"`
	SSLMode  string `json:"SSLMode"`
}

func (h Handler) PID() uuid.UUID {
	return h.pid
}

// redirectMsg forwards chIn to chOut until chIn closes or done is closed.
func redirectMsg(chIn <-chan msg.Msg, chOut chan<- msg.Msg, done <-chan struct{}) {
	for m := range chIn {
		select {
		case chOut <- m:
		case <-done:
			return
		}
	}
}

// ReadConfig reads a JSON Config from configPath.
func ReadConfig(configPath string) (Config, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// New subscribes a Handler to the case and summary topics of system.
func New(cfg Config, system msg.Publisher) (*Handler, error) {
	if cfg.Driver == "" {
		cfg.Driver = "postgres"
	}
	if cfg.Driver != "postgres" && cfg.Driver != "mysql" {
		return nil, fmt.Errorf("sqldb: unsupported driver %q", cfg.Driver)
	}

	pid, _ := uuid.NewUUID()
	inbox := make(chan msg.Msg, 50)
	done := make(chan struct{})

	for _, topic := range []msg.Topic{msg.Case, msg.Summary} {
		ch, err := system.Subscribe(pid, topic)
		if err != nil {
			return nil, err
		}
		go redirectMsg(ch, inbox, done)
	}

	return &Handler{
		inbox:  inbox,
		pid:    pid,
		config: cfg,
		system: system,
		stop:   make(chan bool, 1),
		done:   done,
	}, nil
}

// Stop ends Process and releases the subscriptions.
func (h *Handler) Stop() {
	h.stop <- true
	close(h.done)
	h.system.Unsubscribe(h.pid)
}

func (c Config) dsn() string {
	if c.Driver == "mysql" {
		return fmt.Sprintf("%v:%v@tcp(%v:%v)/%v?parseTime=true", c.Username, c.Password, c.Server, c.Port, c.Database)
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%v port=%v user=%v password=%v dbname=%v sslmode=%v",
		c.Server, c.Port, c.Username, c.Password, c.Database, sslMode)
}

// DB opens the configured database.
func (h Handler) DB() (*sql.DB, error) {
	return sql.Open(h.config.Driver, h.config.dsn())
}

var tables = []string{
	`CREATE TABLE IF NOT EXISTS contingency_run(
		run_pid VARCHAR(36) PRIMARY KEY,
		status VARCHAR(16),
		window_start INT,
		window_end INT,
		cases_run INT,
		cases_failed INT,
		cases_flagged INT,
		started TIMESTAMP NULL,
		finished TIMESTAMP NULL,
		error TEXT)`,
	`CREATE TABLE IF NOT EXISTS contingency_case(
		run_pid VARCHAR(36),
		case_index INT,
		label VARCHAR(255),
		element_a VARCHAR(255),
		element_b VARCHAR(255),
		state VARCHAR(16),
		elapsed_ms BIGINT,
		missing TEXT,
		warning TEXT,
		error TEXT,
		artifact TEXT,
		finished TIMESTAMP NULL,
		PRIMARY KEY (run_pid, case_index))`,
}

func initDBTables(ctx context.Context, db *sql.DB) error {
	for _, stmt := range tables {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// insert builds an INSERT for table with the placeholder syntax of driver.
func insert(driver, table string, columns ...string) string {
	marks := make([]string, len(columns))
	for i := range columns {
		if driver == "mysql" {
			marks[i] = "?"
		} else {
			marks[i] = fmt.Sprintf("$%d", i+1)
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), strings.Join(marks, ", "))
}

var caseColumns = []string{"run_pid", "case_index", "label", "element_a", "element_b", "state",
	"elapsed_ms", "missing", "warning", "error", "artifact", "finished"}

var runColumns = []string{"run_pid", "status", "window_start", "window_end", "cases_run",
	"cases_failed", "cases_flagged", "started", "finished", "error"}

func caseArgs(r runner.CaseRecord) []interface{} {
	return []interface{}{
		r.RunPID.String(), r.Index, r.Label, r.ElementA, r.ElementB, string(r.State),
		r.Elapsed.Milliseconds(), strings.Join(r.Missing, ","), r.Warning, r.Error, r.Artifact, r.Finished,
	}
}

func runArgs(s runner.Summary) []interface{} {
	return []interface{}{
		s.PID.String(), string(s.Status), s.Window.Start, s.Window.End, s.CasesRun,
		s.CasesFailed, s.CasesFlagged, s.Started, s.Finished, s.Error,
	}
}

// statement maps a bus message to the SQL that records it.
func (h Handler) statement(m msg.Msg) (string, []interface{}, bool) {
	switch p := m.Payload().(type) {
	case runner.CaseRecord:
		return insert(h.config.Driver, "contingency_case", caseColumns...), caseArgs(p), true
	case runner.Summary:
		return insert(h.config.Driver, "contingency_run", runColumns...), runArgs(p), true
	}
	return "", nil, false
}

// Process writes every received record until Stop is called.
func (h Handler) Process() {
	log.Printf("[SQL] Process Started, %s at %s:%d\n", h.config.Driver, h.config.Server, h.config.Port)
	db, err := h.DB()
	if err != nil {
		log.Printf("[SQL] open failed: %v\n", err)
		return
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = initDBTables(ctx, db)
	cancel()
	if err != nil {
		log.Printf("[SQL] create tables failed: %v\n", err)
		return
	}

loop:
	for {
		select {
		case m := <-h.inbox:
			query, args, ok := h.statement(m)
			if !ok {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if _, err := db.ExecContext(ctx, query, args...); err != nil {
				log.Printf("[SQL] %v insert failed: %v\n", m.Topic(), err)
			}
			cancel()

		case <-h.stop:
			break loop
		}
	}
	log.Println("[SQL] Process Shutdown")
}
