// Package webservice exposes the contingency runner over HTTP.
package webservice

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/ohowland/cgc_contingency/internal/pkg/engine"
	"github.com/ohowland/cgc_contingency/internal/pkg/msg"
	"github.com/ohowland/cgc_contingency/internal/pkg/runner"
)

const writeWait = 10 * time.Second

type Config struct {
	Host string `json:"Host"`
	Port string `json:"Port"`
	// ShutdownTimeout is how long a shutdown waits for an active run, in
	// seconds.
	ShutdownTimeout float64 `json:"ShutdownTimeout"`
}

// ShutdownWait defaults to ten minutes.
func (c Config) ShutdownWait() time.Duration {
	if c.ShutdownTimeout <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.ShutdownTimeout * float64(time.Second))
}

// Addr is the listen address.
func (c Config) Addr() string {
	port := c.Port
	if port == "" {
		port = "8080"
	}
	return net.JoinHostPort(c.Host, port)
}

// Runner starts runs and remembers the last one.
type Runner interface {
	Run(ctx context.Context) (runner.Summary, error)
	Last() (runner.Summary, bool)
}

type App struct {
	Config    Config
	Runner    Runner
	Publisher msg.Publisher
	// Context is the parent of every run started over HTTP. Cancelling it
	// stops an active run at the next case boundary.
	Context context.Context
}

type errorResponse struct {
	Error   string          `json:"error"`
	Summary *runner.Summary `json:"summary,omitempty"`
}

type progressMsg struct {
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func (app *App) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/", app.BaseHandler).Methods("GET")
	r.HandleFunc("/contingency/run", app.RunHandler).Methods("POST")
	r.HandleFunc("/contingency/status", app.StatusHandler).Methods("GET")
	r.HandleFunc("/contingency/progress", app.ProgressHandler).Methods("GET")
	return r
}

// Server returns an http.Server for the router.
func (app *App) Server() *http.Server {
	return &http.Server{
		Addr:    app.Config.Addr(),
		Handler: app.Router(),
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(code)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Println("[Webservice] malformed JSON:", err)
	}
}

func (app *App) BaseHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nil)
}

// statusCode maps a run error to its HTTP status.
func statusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, runner.ErrRunAlreadyInProgress):
		return http.StatusConflict
	case errors.Is(err, engine.ErrEngineUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// RunHandler runs the configured window and answers with its summary once
// the run has ended.
func (app *App) RunHandler(w http.ResponseWriter, r *http.Request) {
	ctx := app.Context
	if ctx == nil {
		ctx = context.Background()
	}

	log.Println("[Webservice] run requested by", r.RemoteAddr)
	summary, err := app.Runner.Run(ctx)
	code := statusCode(err)
	if err == nil {
		writeJSON(w, code, summary)
		return
	}

	log.Printf("[Webservice] run failed: %v\n", err)
	resp := errorResponse{Error: err.Error()}
	if summary.PID != uuid.Nil {
		resp.Summary = &summary
	}
	writeJSON(w, code, resp)
}

func (app *App) StatusHandler(w http.ResponseWriter, r *http.Request) {
	summary, ok := app.Runner.Last()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no run yet"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ProgressHandler streams case records and run summaries to a websocket
// client as they are published.
func (app *App) ProgressHandler(w http.ResponseWriter, r *http.Request) {
	pid, _ := uuid.NewUUID()
	chCase, err := app.Publisher.Subscribe(pid, msg.Case)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	chSummary, err := app.Publisher.Subscribe(pid, msg.Summary)
	if err != nil {
		app.Publisher.Unsubscribe(pid)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	defer app.Publisher.Unsubscribe(pid)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("[Webservice] websocket upgrade:", err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		var m msg.Msg
		var ok bool
		select {
		case m, ok = <-chCase:
		case m, ok = <-chSummary:
		case <-closed:
			return
		}
		if !ok {
			return
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(progressMsg{Topic: m.Topic().String(), Payload: m.Payload()}); err != nil {
			log.Println("[Webservice] websocket write:", err)
			return
		}
	}
}
