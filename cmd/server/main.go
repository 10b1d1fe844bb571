package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/arkdb/vinyl/internal/storage"
)

// lsnCounter stands in for the host's WAL sequence number, which a real
// Tarantool-style host assigns on every commit; this demo has no WAL,
// so it hands out a local monotonic counter instead.
var lsnCounter uint64

var (
	dataDir     = flag.String("data-dir", "./data", "Directory for storing data")
	httpAddr    = flag.String("http-addr", ":8080", "HTTP server address")
	memoryLimit = flag.Int64("memory-limit", 64*1024*1024, "Engine memory quota in bytes")
	threads     = flag.Int("threads", 2, "Scheduler worker threads per index")
)

// space is the single demo space served over HTTP: a single-part
// string-keyed primary index named "default/primary".
const (
	demoSpace = "default"
	demoIndex = "primary"
)

func main() {
	flag.Parse()

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatalf("failed to create data directory: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg := storage.DefaultConfig(*dataDir)
	cfg.MemoryLimit = *memoryLimit
	cfg.Threads = *threads

	engine := storage.NewEngine(cfg, logger)
	defer engine.Close()

	kd := storage.NewKeyDef(storage.KeyPart{FieldIndex: 0, Type: storage.FieldString})
	idx, err := engine.CreateIndex(demoSpace, demoIndex, kd, storage.DefaultIndexOptions(), true)
	if err != nil {
		log.Fatalf("failed to open index: %v", err)
	}

	server := &http.Server{
		Addr:    *httpAddr,
		Handler: newHandler(engine, idx, kd),
	}

	go func() {
		log.Printf("starting HTTP server on %s", *httpAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalChan
	log.Printf("received signal: %v", sig)

	log.Println("shutting down HTTP server")
	server.Shutdown(nil)

	log.Println("checkpointing and closing storage engine")
	if err := engine.Checkpoint(); err != nil {
		log.Printf("checkpoint error: %v", err)
	}
	engine.Close()

	log.Println("server stopped")
}

// newHandler wires the demo space's single index behind a minimal
// get/put/delete/stats HTTP surface over the Engine host API.
func newHandler(engine *storage.Engine, idx *storage.LSMIndex, kd *storage.KeyDef) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/get", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		key := r.URL.Query().Get("key")
		if key == "" {
			http.Error(w, "key is required", http.StatusBadRequest)
			return
		}
		k, err := storage.NewKey(kd, key)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid key: %v", err), http.StatusBadRequest)
			return
		}

		txn, err := engine.Begin(storage.TxnReadOnly)
		if err != nil {
			http.Error(w, fmt.Sprintf("begin: %v", err), http.StatusServiceUnavailable)
			return
		}
		stmt, err := engine.Get(txn, idx, k)
		engine.Rollback(txn)
		if errors.Is(err, storage.ErrTupleNotFound) {
			http.Error(w, "key not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, fmt.Sprintf("get: %v", err), http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write(stmt.Value)
	})

	mux.HandleFunc("/put", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		key := r.URL.Query().Get("key")
		if key == "" {
			http.Error(w, "key is required", http.StatusBadRequest)
			return
		}
		value, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, fmt.Sprintf("reading body: %v", err), http.StatusInternalServerError)
			return
		}
		k, err := storage.NewKey(kd, key)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid key: %v", err), http.StatusBadRequest)
			return
		}

		if err := putOne(engine, idx, k, value); err != nil {
			http.Error(w, fmt.Sprintf("put: %v", err), http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/delete", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		key := r.URL.Query().Get("key")
		if key == "" {
			http.Error(w, "key is required", http.StatusBadRequest)
			return
		}
		k, err := storage.NewKey(kd, key)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid key: %v", err), http.StatusBadRequest)
			return
		}

		if err := deleteOne(engine, idx, k); err != nil {
			http.Error(w, fmt.Sprintf("delete: %v", err), http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		stats := engine.AllStats()
		statsJSON, err := json.Marshal(stats)
		if err != nil {
			http.Error(w, fmt.Sprintf("marshal: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(statsJSON)
	})

	return mux
}

func putOne(engine *storage.Engine, idx *storage.LSMIndex, key storage.Key, value []byte) error {
	txn, err := engine.Begin(storage.TxnReadWrite)
	if err != nil {
		return err
	}
	if err := engine.Replace(txn, idx, key, value); err != nil {
		engine.Rollback(txn)
		return err
	}
	if err := engine.Prepare(txn); err != nil {
		engine.Rollback(txn)
		return err
	}
	return engine.Commit(txn, atomic.AddUint64(&lsnCounter, 1))
}

func deleteOne(engine *storage.Engine, idx *storage.LSMIndex, key storage.Key) error {
	txn, err := engine.Begin(storage.TxnReadWrite)
	if err != nil {
		return err
	}
	if err := engine.DeleteKey(txn, idx, key); err != nil {
		engine.Rollback(txn)
		return err
	}
	if err := engine.Prepare(txn); err != nil {
		engine.Rollback(txn)
		return err
	}
	return engine.Commit(txn, atomic.AddUint64(&lsnCounter, 1))
}
