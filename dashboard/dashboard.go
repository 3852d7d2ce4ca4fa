// Package dashboard serves training progress over HTTP: JSON history, SVG
// curves, the latest rendered PNGs and a websocket stream of epoch stats.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"

	"github.com/bachhisto/histonet/models"
	"github.com/bachhisto/histonet/training"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Message is sent to websocket clients. Type is "hello", "epoch", "render" or
// "rollback". Epochs counts the phase results the server holds.
type Message struct {
	Type   string               `json:"type"`
	Epochs int                  `json:"epochs,omitempty"`
	Stats  *training.EpochStats `json:"stats,omitempty"`
	Kind   string               `json:"kind,omitempty"`
}

// Server implements training.Observer and serves what it observed
type Server struct {
	sync.Mutex
	collector *training.VisualizationCollector
	renders   map[string]string
	clients   map[*websocket.Conn]bool
	router    *mux.Router
}

// New returns a server with no recorded history
func New() *Server {
	s := &Server{
		collector: training.NewVisualizationCollector(models.Architecture),
		renders:   make(map[string]string),
		clients:   make(map[*websocket.Conn]bool),
	}
	r := mux.NewRouter()
	r.HandleFunc("/", s.index()).Methods("GET")
	r.HandleFunc("/history.json", s.history()).Methods("GET")
	r.HandleFunc("/plot/{kind:(?:loss|accuracy|lr|confusion)}.svg", s.plot()).Methods("GET")
	r.HandleFunc("/render/{kind}", s.render()).Methods("GET")
	r.HandleFunc("/ws", s.websocket())
	s.router = r
	return s
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	klog.Infof("Dashboard listening on %s", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.closeClients()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// OnEpoch records stats and pushes them to websocket clients
func (s *Server) OnEpoch(stats training.EpochStats) {
	s.Lock()
	defer s.Unlock()
	s.collector.RecordEpoch(stats)
	s.broadcast(Message{Type: "epoch", Stats: &stats})
}

// OnRender remembers the latest file of each kind and notifies clients
func (s *Server) OnRender(kind, path string) {
	s.Lock()
	defer s.Unlock()
	s.renders[kind] = path
	s.broadcast(Message{Type: "render", Kind: kind})
}

// OnRollback forgets the stats of a failed Train and tells clients how many remain
func (s *Server) OnRollback(epoch int) {
	s.Lock()
	defer s.Unlock()
	s.collector.DropFrom(epoch)
	s.broadcast(Message{Type: "rollback", Epochs: len(s.collector.Epochs())})
}

// RecordConfusionMatrix sets the matrix served at /plot/confusion.svg
func (s *Server) RecordConfusionMatrix(matrix [][]int, classNames []string) {
	s.Lock()
	defer s.Unlock()
	s.collector.RecordConfusionMatrix(matrix, classNames)
}

// broadcast writes msg to every client, dropping those that fail. Callers hold the lock.
func (s *Server) broadcast(msg Message) {
	for conn := range s.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			klog.V(1).Infof("Dropping websocket client %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			delete(s.clients, conn)
		}
	}
}

func (s *Server) closeClients() {
	s.Lock()
	defer s.Unlock()
	for conn := range s.clients {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
		conn.Close()
		delete(s.clients, conn)
	}
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html><head><title>histonet</title></head><body>
<h1>{{.Model}}: {{.Epochs}} phase results</h1>
<p><img src="/plot/loss.svg"> <img src="/plot/accuracy.svg"></p>
<ul>{{range .Renders}}<li><a href="/render/{{.}}">{{.}}</a></li>{{end}}</ul>
</body></html>
`))

func (s *Server) index() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		data := struct {
			Model   string
			Epochs  int
			Renders []string
		}{Model: models.Architecture, Epochs: len(s.collector.Epochs())}
		for kind := range s.renders {
			data.Renders = append(data.Renders, kind)
		}
		s.Unlock()
		if err := indexTemplate.Execute(w, data); err != nil {
			klog.Errorf("index: %v", err)
		}
	}
}

func (s *Server) history() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		epochs := s.collector.Epochs()
		s.Unlock()
		if epochs == nil {
			epochs = []training.EpochStats{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(epochs); err != nil {
			klog.Errorf("history: %v", err)
		}
	}
}

func (s *Server) plot() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		var pd training.PlotData
		switch mux.Vars(r)["kind"] {
		case "loss":
			pd = s.collector.GenerateTrainingCurvesPlot()
		case "accuracy":
			pd = s.collector.GenerateAccuracyCurvesPlot()
		case "lr":
			pd = s.collector.GenerateLearningRateSchedulePlot()
		case "confusion":
			pd = s.collector.GenerateConfusionMatrixPlot()
		}
		s.Unlock()

		w.Header().Set("Content-Type", "image/svg+xml")
		err := training.RenderPlot(pd, w, "svg")
		switch {
		case errors.Is(err, training.ErrEmptyPlot):
			http.Error(w, "no data yet", http.StatusNotFound)
		case err != nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func (s *Server) render() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		path, ok := s.renders[mux.Vars(r)["kind"]]
		s.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		if _, err := os.Stat(path); err != nil {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, path)
	}
}

func (s *Server) websocket() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			klog.Errorf("websocket upgrade: %v", err)
			return
		}

		s.Lock()
		s.clients[conn] = true
		err = conn.WriteJSON(Message{Type: "hello", Epochs: len(s.collector.Epochs())})
		s.Unlock()
		if err != nil {
			s.drop(conn)
			return
		}

		// read until the client goes away
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					s.drop(conn)
					return
				}
			}
		}()
	}
}

func (s *Server) drop(conn *websocket.Conn) {
	s.Lock()
	defer s.Unlock()
	if s.clients[conn] {
		delete(s.clients, conn)
		conn.Close()
	}
}

var _ training.Observer = (*Server)(nil)
