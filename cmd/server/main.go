// Command server hosts the websocket relay for one or more documents: it
// upgrades incoming connections, relays operation/ack/cursor/presence
// envelopes between the replicas attached to the same document id, and
// optionally persists each document's Document+VectorClock to Postgres
// and fans broadcasts out to sibling server processes over Redis.
//
// The server never edits a document itself; it runs a replica.Replica
// per document in "relay" mode (ApplyInbound only) purely so it has a
// materialized Document+VectorClock to persist, per section 6's
// "Persisted state". That state is not sent to clients that join later;
// a joining client only receives envelopes relayed after it connects.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/inkline-collab/inkline/corelog"
	"github.com/inkline-collab/inkline/replica"
	"github.com/inkline-collab/inkline/store"
	"github.com/inkline-collab/inkline/store/postgres"
	"github.com/inkline-collab/inkline/transport/fanout"
	"github.com/inkline-collab/inkline/transport/ws"
)

// flags holds the server's command-line options.
type flags struct {
	Addr         string
	Debug        bool
	PostgresDSN  string
	RedisAddr    string
	PersistEvery time.Duration
}

func parseFlags() flags {
	addr := flag.String("addr", ":9000", "server network address")
	debug := flag.Bool("debug", false, "enable verbose debug logging")
	dsn := flag.String("postgres", "", "Postgres DSN for document persistence (disabled if empty)")
	redisAddr := flag.String("redis", "", "Redis address for multi-process fanout (disabled if empty)")
	persistEvery := flag.Duration("persist-every", 30*time.Second, "how often to persist documents to the store")
	flag.Parse()
	return flags{
		Addr:         *addr,
		Debug:        *debug,
		PostgresDSN:  *dsn,
		RedisAddr:    *redisAddr,
		PersistEvery: *persistEvery,
	}
}

// room is one document's relay state: the set of locally connected
// websockets and the relay replica used for persistence.
type room struct {
	docID  string
	hub    *ws.Hub
	rep    *replica.Replica
	fanout *fanout.Redis
	mu     sync.Mutex
}

type server struct {
	flags  flags
	logger *logrus.Logger
	rooms  map[string]*room
	mu     sync.Mutex
	docs   store.DocumentStore // nil if persistence disabled
}

func main() {
	f := parseFlags()

	logger, closers, err := corelog.New(corelog.Options{Dir: ".", Name: "inkline-server", Debug: f.Debug})
	if err != nil {
		panic(err)
	}
	defer corelog.Close(logger, closers)

	s := &server{
		flags:  f,
		logger: logger,
		rooms:  make(map[string]*room),
	}

	if f.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		docs, err := postgres.Open(ctx, f.PostgresDSN)
		if err != nil {
			logger.WithError(err).Fatal("server: connecting to postgres")
		}
		s.docs = docs
		defer docs.Close()
	}

	r := mux.NewRouter()
	r.HandleFunc("/ws/{doc}", s.handleWS)
	r.HandleFunc("/healthz", s.handleHealthz)

	go s.persistLoop(f.PersistEvery)

	httpServer := &http.Server{Addr: f.Addr, Handler: r}

	go func() {
		logger.WithField("addr", f.Addr).Info("server: listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server: listen failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("server: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
	s.persistAll(ctx)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["doc"]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("server: upgrade failed")
		return
	}

	rm := s.roomFor(docID)

	// Join starts its own read/write goroutines and tears itself down on
	// disconnect; handleWS does not need to block.
	rm.hub.Join(conn, func(from *ws.Conn, data []byte) {
		rm.mu.Lock()
		_, _ = rm.rep.ApplyInbound(data)
		rm.mu.Unlock()

		rm.hub.BroadcastExcept(data, from)
	})
}

// roomFor returns the room for docID, lazily creating it and restoring
// any persisted snapshot.
func (s *server) roomFor(docID string) *room {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rm, ok := s.rooms[docID]; ok {
		return rm
	}

	hub := ws.NewHub(s.logger)
	rep := replica.New(replica.Options{Site: "server:" + docID, Logger: s.logger})

	rm := &room{docID: docID, hub: hub, rep: rep}

	if s.flags.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		fo, err := fanout.NewRedis(ctx, s.flags.RedisAddr, docID)
		if err != nil {
			s.logger.WithError(err).Warn("server: redis fanout disabled for this document")
		} else {
			rm.fanout = fo
			hub.Forward = func(data []byte) { _ = fo.Publish(context.Background(), data) }
			go func() {
				for data := range fo.Messages() {
					rm.mu.Lock()
					_, _ = rm.rep.ApplyInbound(data)
					rm.mu.Unlock()
					hub.BroadcastLocal(data)
				}
			}()
		}
	}

	if s.docs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		snap, err := s.docs.Load(ctx, docID)
		if err == nil {
			rep.Restore(snap.Records, snap.Clock)
		}
	}

	s.rooms[docID] = rm
	return rm
}

func (s *server) persistLoop(interval time.Duration) {
	if s.docs == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		s.persistAll(context.Background())
	}
}

func (s *server) persistAll(ctx context.Context) {
	if s.docs == nil {
		return
	}
	s.mu.Lock()
	rooms := make([]*room, 0, len(s.rooms))
	for _, rm := range s.rooms {
		rooms = append(rooms, rm)
	}
	s.mu.Unlock()

	for _, rm := range rooms {
		rm.mu.Lock()
		snap := store.Snapshot{DocID: rm.docID, Records: rm.rep.Document(), Clock: rm.rep.Clock()}
		rm.mu.Unlock()

		if err := s.docs.Save(ctx, snap); err != nil {
			s.logger.WithError(err).Warn("server: persisting document")
		}
	}
}
