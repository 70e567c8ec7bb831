// Copyright 2025 uzqw
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/uzqw/vex/internal/backend"
	"github.com/uzqw/vex/internal/bitmap"
	"github.com/uzqw/vex/internal/metrics"
	"github.com/uzqw/vex/internal/protocol"
	"github.com/uzqw/vex/internal/quantization"
	"github.com/uzqw/vex/internal/store"
	"github.com/uzqw/vex/internal/vecerr"
	"github.com/uzqw/vex/pkg/logger"
)

const (
	defaultPort = "6379"
	defaultHost = "0.0.0.0"

	// defaultSpill is used for VSEARCH calls that omit the spill parameter.
	defaultSpill = 2
)

var (
	host         = flag.String("host", defaultHost, "Host to bind to")
	port         = flag.String("port", defaultPort, "Port to listen on")
	logFormat    = flag.String("log-format", "text", "Log format: text or json")
	logLevel     = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	dimensions   = flag.Int("dimensions", 128, "Vector dimensionality")
	nBasis       = flag.Int("basis", 4, "Number of orthonormal bases built into the index")
	bitmapKind   = flag.String("bitmap", "dense", "Face bitmap kind: dense, roaring, alt")
	quantKind    = flag.String("quantization", "identity", "Quantization: identity, bf16")
	backendKind  = flag.String("backend", "memory", "Vector backend: memory, disk")
	backendPath  = flag.String("backend-path", "./vex-data", "Directory for the disk backend")
	showVer      = flag.Bool("version", false, "Show version and exit")

	log *logger.Logger

	storeMu sync.RWMutex
	st      *store.VectorStore

	keys   = newKeyRegistry()
	nextID uint64
	idMu   sync.Mutex

	// Version is set at build time via ldflags
	Version = "dev"
)

// keyRegistry maps string keys (the RESP surface's identifiers) onto the
// uint64 ids the store and backends operate on, and back.
type keyRegistry struct {
	mu      sync.RWMutex
	toID    map[string]uint64
	toKey   map[uint64]string
}

func newKeyRegistry() *keyRegistry {
	return &keyRegistry{
		toID:  make(map[string]uint64),
		toKey: make(map[uint64]string),
	}
}

func (r *keyRegistry) lookup(key string) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.toID[key]
	return id, ok
}

func (r *keyRegistry) keyFor(id uint64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.toKey[id]
	return key, ok
}

func (r *keyRegistry) bind(key string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toID[key] = id
	r.toKey[id] = key
}

func (r *keyRegistry) remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.toID[key]; ok {
		delete(r.toID, key)
		delete(r.toKey, id)
	}
}

func (r *keyRegistry) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toID = make(map[string]uint64)
	r.toKey = make(map[uint64]string)
}

func allocateID() uint64 {
	idMu.Lock()
	defer idMu.Unlock()
	id := nextID
	nextID++
	return id
}

func init() {
	flag.Parse()

	if *showVer {
		fmt.Printf("Vex server version %s\n", Version)
		os.Exit(0)
	}

	level := slog.LevelInfo
	switch strings.ToLower(*logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	format := logger.FormatText
	if strings.ToLower(*logFormat) == "json" {
		format = logger.FormatJSON
	}

	log = logger.New(logger.Config{
		Format: format,
		Level:  level,
	})

	newSt, err := buildStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize store: %v\n", err)
		os.Exit(1)
	}
	st = newSt
}

// parseBitmapKind resolves the -bitmap flag to a bitmap.Kind.
func parseBitmapKind(s string) (bitmap.Kind, error) {
	switch strings.ToLower(s) {
	case "dense":
		return bitmap.Dense, nil
	case "roaring":
		return bitmap.Roaring, nil
	case "alt":
		return bitmap.Alt, nil
	default:
		return 0, fmt.Errorf("unknown bitmap kind %q", s)
	}
}

// buildBackend constructs the configured backend. Quantization and backend
// kind are both compile-time type parameters on the concrete backend types,
// so every combination is enumerated explicitly and returned behind the
// VectorBackend interface.
func buildBackend() (backend.VectorBackend, error) {
	switch strings.ToLower(*backendKind) {
	case "memory":
		switch strings.ToLower(*quantKind) {
		case "identity":
			return backend.NewMemoryBackend[[]float32](quantization.Identity{}), nil
		case "bf16":
			return backend.NewMemoryBackend[[]uint16](quantization.BF16{}), nil
		default:
			return nil, fmt.Errorf("unknown quantization %q", *quantKind)
		}
	case "disk":
		switch strings.ToLower(*quantKind) {
		case "identity":
			return backend.OpenDiskBackend[[]float32](*backendPath, *dimensions, quantization.Identity{})
		case "bf16":
			return backend.OpenDiskBackend[[]uint16](*backendPath, *dimensions, quantization.BF16{})
		default:
			return nil, fmt.Errorf("unknown quantization %q", *quantKind)
		}
	default:
		return nil, fmt.Errorf("unknown backend kind %q", *backendKind)
	}
}

func buildStore() (*store.VectorStore, error) {
	kind, err := parseBitmapKind(*bitmapKind)
	if err != nil {
		return nil, err
	}
	be, err := buildBackend()
	if err != nil {
		return nil, err
	}
	return store.New(be, *dimensions, *nBasis, kind)
}

func currentStore() *store.VectorStore {
	storeMu.RLock()
	defer storeMu.RUnlock()
	return st
}

func main() {
	addr := fmt.Sprintf("%s:%s", *host, *port)
	log.Info("starting Vex server", slog.String("addr", addr), slog.Int("dimensions", *dimensions))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("failed to start listener", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer listener.Close()

	log.Info("server started successfully", slog.String("addr", addr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		listener.Close()
	}()

	go monitorMemory(ctx)

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info("shutting down server")
				return
			default:
				log.Error("failed to accept connection", slog.String("error", err.Error()))
				continue
			}
		}

		metrics.Global().IncrementActiveConnections()
		go handleConnection(ctx, conn)
	}
}

func handleConnection(ctx context.Context, conn net.Conn) {
	defer func() {
		conn.Close()
		metrics.Global().DecrementActiveConnections()
	}()

	requestID := uuid.New().String()
	connLog := log.WithRequestID(ctx, requestID)

	connLog.Info("new connection", slog.String("remote", conn.RemoteAddr().String()))

	reader := protocol.NewRESPReader(conn)
	writer := protocol.NewRESPWriter(conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		cmd, err := reader.ReadCommand()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				connLog.Debug("connection closed")
				return
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				connLog.Info("connection timeout")
				return
			}
			connLog.Warn("protocol error", slog.String("error", err.Error()))
			if writeErr := writer.WriteError(err.Error()); writeErr != nil {
				connLog.Debug("failed to write error response", slog.String("error", writeErr.Error()))
				return
			}
			if flushErr := writer.Flush(); flushErr != nil {
				connLog.Debug("failed to flush error response", slog.String("error", flushErr.Error()))
				return
			}
			return
		}

		if len(cmd) == 0 {
			continue
		}

		metrics.Global().IncrementCommands()

		start := time.Now()
		processCommand(connLog, writer, cmd)
		latency := time.Since(start)

		connLog.Debug("command executed",
			slog.String("cmd", cmd[0]),
			slog.Int("args", len(cmd)-1),
			slog.Duration("latency", latency),
		)

		if err := writer.Flush(); err != nil {
			connLog.Error("failed to flush response", slog.String("error", err.Error()))
			return
		}
	}
}

func processCommand(log *logger.Logger, writer *protocol.RESPWriter, cmd []string) {
	command := strings.ToUpper(cmd[0])

	switch command {
	case "PING":
		handlePing(writer, cmd)
	case "ECHO":
		handleEcho(writer, cmd)
	case "VSET":
		handleVSet(writer, cmd)
	case "VGET":
		handleVGet(writer, cmd)
	case "VDEL":
		handleVDel(writer, cmd)
	case "VBUILD":
		handleVBuild(log, writer)
	case "VSEARCH":
		handleVSearch(writer, cmd)
	case "VSCAN":
		handleVScan(writer, cmd)
	case "STATS", "INFO":
		handleStats(writer)
	case "CLEAR":
		handleClear(writer)
	case "QUIT":
		_ = writer.WriteSimpleString("OK")
	default:
		_ = writer.WriteError(fmt.Sprintf("unknown command '%s'", command))
	}
}

func handlePing(writer *protocol.RESPWriter, cmd []string) {
	if len(cmd) == 1 {
		_ = writer.WriteSimpleString("PONG")
	} else {
		_ = writer.WriteBulkString(cmd[1])
	}
}

func handleEcho(writer *protocol.RESPWriter, cmd []string) {
	if len(cmd) < 2 {
		_ = writer.WriteError("wrong number of arguments for 'echo' command")
		return
	}
	_ = writer.WriteBulkString(cmd[1])
}

// handleVSet handles VSET key "[0.1, 0.2, 0.3]". If the index is already
// built, the vector is additionally folded into every basis's face bitmaps;
// if the built store holds no face bitmaps, ErrNotBuilt surfaces as a
// NOT_BUILT error.
func handleVSet(writer *protocol.RESPWriter, cmd []string) {
	if len(cmd) < 3 {
		_ = writer.WriteError("wrong number of arguments for 'vset' command")
		return
	}

	key := cmd[1]
	values, err := protocol.FastVectorParser(cmd[2])
	if err != nil {
		_ = writer.WriteError(fmt.Sprintf("invalid vector format: %s", err.Error()))
		return
	}

	id, ok := keys.lookup(key)
	if !ok {
		id = allocateID()
	}

	if err := currentStore().AddVector(id, values); err != nil {
		if errors.Is(err, vecerr.ErrNotBuilt) {
			_ = writer.WriteError("NOT_BUILT")
			return
		}
		_ = writer.WriteError(err.Error())
		return
	}

	keys.bind(key, id)
	metrics.Global().IncrementKeys()
	_ = writer.WriteSimpleString("OK")
}

func handleVGet(writer *protocol.RESPWriter, cmd []string) {
	if len(cmd) < 2 {
		_ = writer.WriteError("wrong number of arguments for 'vget' command")
		return
	}

	id, ok := keys.lookup(cmd[1])
	if !ok {
		_ = writer.WriteBulkString("")
		return
	}

	values, err := currentStore().GetVector(id)
	if err != nil {
		_ = writer.WriteBulkString("")
		return
	}

	var sb strings.Builder
	sb.WriteString("[")
	for i, v := range values {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%.6f", v))
	}
	sb.WriteString("]")

	_ = writer.WriteBulkString(sb.String())
}

// handleVDel handles VDEL key. Deletion is only supported before the index
// is built (spec.md's Non-goals exclude post-build delete/update).
func handleVDel(writer *protocol.RESPWriter, cmd []string) {
	if len(cmd) < 2 {
		_ = writer.WriteError("wrong number of arguments for 'vdel' command")
		return
	}

	key := cmd[1]
	id, ok := keys.lookup(key)
	if !ok {
		_ = writer.WriteInteger(0)
		return
	}

	existed, err := currentStore().DeleteVector(id)
	if err != nil {
		if errors.Is(err, vecerr.ErrAlreadyBuilt) {
			_ = writer.WriteError("deletion after build_index is not supported")
			return
		}
		_ = writer.WriteError(err.Error())
		return
	}

	if existed {
		keys.remove(key)
		metrics.Global().DecrementKeys()
		_ = writer.WriteInteger(1)
	} else {
		_ = writer.WriteInteger(0)
	}
}

// handleVBuild handles VBUILD, triggering build_index and recording its
// resulting basis count, estimated bitmap size, and duration into metrics.
func handleVBuild(log *logger.Logger, writer *protocol.RESPWriter) {
	s := currentStore()
	start := time.Now()
	if err := s.BuildIndex(); err != nil {
		_ = writer.WriteError(err.Error())
		return
	}
	duration := time.Since(start)

	basisCount, bitmapBytes := s.IndexStats()
	metrics.Global().SetIndexBuilt(basisCount, bitmapBytes, duration)
	log.Info("index built",
		slog.Int("basis_count", basisCount),
		slog.Uint64("bitmap_bytes", bitmapBytes),
		slog.Duration("duration", duration),
	)

	_ = writer.WriteSimpleString("OK")
}

// handleVSearch handles VSEARCH vec k [search_k] [spill], routing through
// FindNearest (which falls back to a full scan automatically if the index
// isn't built yet).
func handleVSearch(writer *protocol.RESPWriter, cmd []string) {
	if len(cmd) < 3 {
		_ = writer.WriteError("wrong number of arguments for 'vsearch' command")
		return
	}

	query, err := protocol.FastVectorParser(cmd[1])
	if err != nil {
		_ = writer.WriteError(fmt.Sprintf("invalid vector format: %s", err.Error()))
		return
	}

	k, err := strconv.Atoi(cmd[2])
	if err != nil || k <= 0 {
		_ = writer.WriteError("k must be a positive integer")
		return
	}

	searchK := k
	if len(cmd) >= 4 {
		if searchK, err = strconv.Atoi(cmd[3]); err != nil || searchK <= 0 {
			_ = writer.WriteError("search_k must be a positive integer")
			return
		}
	}

	spill := defaultSpill
	if len(cmd) >= 5 {
		if spill, err = strconv.Atoi(cmd[4]); err != nil || spill < 0 {
			_ = writer.WriteError("spill must be a non-negative integer")
			return
		}
	}

	rs, err := currentStore().FindNearest(query, k, searchK, spill)
	if err != nil {
		_ = writer.WriteError(err.Error())
		return
	}

	writeResultKeys(writer, rs.IDs())
}

// handleVScan handles VSCAN vec k, forcing an exact full table scan.
func handleVScan(writer *protocol.RESPWriter, cmd []string) {
	if len(cmd) < 3 {
		_ = writer.WriteError("wrong number of arguments for 'vscan' command")
		return
	}

	query, err := protocol.FastVectorParser(cmd[1])
	if err != nil {
		_ = writer.WriteError(fmt.Sprintf("invalid vector format: %s", err.Error()))
		return
	}

	k, err := strconv.Atoi(cmd[2])
	if err != nil || k <= 0 {
		_ = writer.WriteError("k must be a positive integer")
		return
	}

	rs, err := currentStore().FullTableScan(query, k)
	if err != nil {
		_ = writer.WriteError(err.Error())
		return
	}

	writeResultKeys(writer, rs.IDs())
}

func writeResultKeys(writer *protocol.RESPWriter, ids []uint64) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if key, ok := keys.keyFor(id); ok {
			out = append(out, key)
		}
	}
	_ = writer.WriteArray(out)
}

// statsResponse extends metrics.Snapshot with the current store's
// last-query counting-bitmap cardinalities, which live outside the
// dependency-free metrics package.
type statsResponse struct {
	*metrics.Snapshot
	LastQueryCardinalities []int `json:"last_query_cardinalities,omitempty"`
}

func handleStats(writer *protocol.RESPWriter) {
	resp := statsResponse{
		Snapshot:               metrics.Global().Snapshot(),
		LastQueryCardinalities: currentStore().LastQueryCardinalities(),
	}
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		_ = writer.WriteError(err.Error())
		return
	}
	_ = writer.WriteBulkString(string(data))
}

// handleClear discards the current store and key registry, rebuilding a
// fresh backend and store from the same flags. Backends have no in-place
// reset primitive, so this is the only way to return to an empty state.
func handleClear(writer *protocol.RESPWriter) {
	newSt, err := buildStore()
	if err != nil {
		_ = writer.WriteError(err.Error())
		return
	}

	storeMu.Lock()
	st = newSt
	storeMu.Unlock()

	keys.reset()
	idMu.Lock()
	nextID = 0
	idMu.Unlock()

	_ = writer.WriteSimpleString("OK")
}

func monitorMemory(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			metrics.Global().SetMemoryUsage(m.Alloc)
		}
	}
}
