package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/studentlink/realtime/internal/audit"
	"github.com/studentlink/realtime/internal/binding"
	"github.com/studentlink/realtime/internal/channels"
	"github.com/studentlink/realtime/internal/concerns"
	"github.com/studentlink/realtime/internal/metrics"
	"github.com/studentlink/realtime/internal/presence"
	"github.com/studentlink/realtime/internal/protocol"
	"github.com/studentlink/realtime/internal/socket"
)

func main() {
	socketConfig := socket.DefaultConfig()

	if v := os.Getenv("SOCKET_URL"); v != "" {
		socketConfig.URL = v
	}
	if v := os.Getenv("SOCKET_BASE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			socketConfig.BaseInterval = d
		}
	}
	if v := os.Getenv("SOCKET_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			socketConfig.MaxAttempts = n
		}
	}

	var departmentID int64
	if v := os.Getenv("DEPARTMENT_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			departmentID = n
		}
	}

	metricsAddr := ":9102"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "relay"
	}
	instance := hostname + "-" + uuid.NewString()[:8]

	// --- Channels (hosted pub/sub) ---
	channelConfig := channels.ConfigFromEnv()
	if channelConfig.AppID == "" {
		channelConfig.AppID = instance
	}
	svc := channels.New(channelConfig)

	// --- Redis presence (optional) ---
	var presenceStore *presence.Store
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := client.Ping(ctx).Err(); err != nil {
			log.Printf("[relay] redis unreachable at %s, presence tracking disabled: %v", redisAddr, err)
			client.Close()
		} else {
			presenceStore = presence.NewStore(client, instance)
		}
		cancel()
	} else {
		log.Printf("[relay] REDIS_ADDR not set, presence tracking disabled")
	}

	// --- Postgres audit trail (optional) ---
	var auditStore *audit.Store
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL != "" {
		db, err := sql.Open("postgres", databaseURL)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = db.PingContext(ctx)
			cancel()
		}
		if err != nil {
			log.Printf("[relay] postgres unreachable, audit trail disabled: %v", err)
			if db != nil {
				db.Close()
			}
		} else {
			auditStore = audit.NewStore(db)
		}
	} else {
		log.Printf("[relay] DATABASE_URL not set, audit trail disabled")
	}

	log.Printf("StudentLink realtime relay starting")
	log.Printf("  instance:       %s", instance)
	log.Printf("  socket_url:     %s", socketConfig.URL)
	log.Printf("  base_interval:  %s", socketConfig.BaseInterval)
	log.Printf("  max_attempts:   %d", socketConfig.MaxAttempts)
	log.Printf("  department_id:  %d", departmentID)
	log.Printf("  channels:       %s", svc.ConnectionState())
	log.Printf("  presence:       %v", presenceStore != nil)
	log.Printf("  audit:          %v", auditStore != nil)
	log.Printf("  metrics_addr:   %s", metricsAddr)

	// In-memory view of the concern list, maintained from channel events.
	var (
		concernMu   sync.Mutex
		concernList []concerns.Concern
	)

	applyConcernEvent := func(ev concerns.Event) {
		concernMu.Lock()
		concernList = concerns.Apply(concernList, ev)
		size := len(concernList)
		concernMu.Unlock()

		switch e := ev.(type) {
		case concerns.Created:
			recordAudit(auditStore, e.Concern.ID, "created", departmentID, e.Concern)
		case concerns.Updated:
			recordAudit(auditStore, e.Patch.ID, "updated", departmentID, e.Patch)
		case concerns.Deleted:
			recordAudit(auditStore, e.ID, "deleted", departmentID, nil)
		}
		log.Printf("[relay] concern list now holds %d entries", size)
	}

	// -----------------------------------------------------------------------
	// Channel binding: concern updates for this department (or global)
	// -----------------------------------------------------------------------
	bindOpts := binding.DefaultOptions()
	bindOpts.DepartmentID = departmentID
	bindOpts.OnConcernUpdate = applyConcernEvent
	bindOpts.OnChatRoomCreated = func(room protocol.ChatRoomCreated) {
		log.Printf("[relay] chat room created id=%d name=%q by=%d", room.RoomID, room.Name, room.CreatedBy)
	}

	bound, err := binding.New(svc, bindOpts)
	if err != nil {
		log.Fatalf("channel binding failed: %v", err)
	}

	// -----------------------------------------------------------------------
	// Socket client: portal push messages
	// -----------------------------------------------------------------------
	client := socket.New(socketConfig)

	client.On(socket.EventConnected, func(any) {
		log.Printf("[relay] socket connected to %s", socketConfig.URL)
	})
	client.On(socket.EventDisconnected, func(any) {
		log.Printf("[relay] socket disconnected")
	})
	client.On(socket.EventMaxReconnects, func(any) {
		log.Printf("[relay] socket gave up reconnecting, waiting for operator restart")
	})

	client.On(protocol.TypeUserOnline, func(data any) {
		msg, ok := data.(protocol.UserOnline)
		if !ok || presenceStore == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := presenceStore.MarkOnline(ctx, msg.UserID); err != nil {
			log.Printf("[relay] mark online user=%d: %v", msg.UserID, err)
		}
	})

	client.On(protocol.TypeUserOffline, func(data any) {
		msg, ok := data.(protocol.UserOffline)
		if !ok || presenceStore == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := presenceStore.MarkOffline(ctx, msg.UserID); err != nil {
			log.Printf("[relay] mark offline user=%d: %v", msg.UserID, err)
		}
	})

	client.On(protocol.TypeConcernAssigned, func(data any) {
		msg, ok := data.(protocol.ConcernAssigned)
		if !ok {
			return
		}
		recordAudit(auditStore, msg.ConcernID, "assigned", msg.DepartmentID, msg)
	})

	client.On(protocol.TypeConcernStatusUpdated, func(data any) {
		msg, ok := data.(protocol.ConcernStatusUpdated)
		if !ok {
			return
		}
		recordAudit(auditStore, msg.ConcernID, "status_changed", departmentID, msg)

		// Fold the status change into the concern list as well.
		status := msg.Status
		applyConcernEvent(concerns.Updated{Patch: concerns.Patch{
			ID:     msg.ConcernID,
			Status: &status,
		}})
	})

	if err := client.Connect(context.Background()); err != nil {
		log.Printf("[relay] initial socket connect: %v", err)
	}

	// -----------------------------------------------------------------------
	// Metrics endpoint
	// -----------------------------------------------------------------------
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[relay] metrics server: %v", err)
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	bound.Close()
	svc.Disconnect()
	client.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(ctx); err != nil {
		log.Printf("metrics server shutdown: %v", err)
	}
}

// recordAudit persists an audit entry when the audit store is
// configured. Failures are logged, never fatal.
func recordAudit(store *audit.Store, concernID int64, event string, departmentID int64, detail any) {
	if store == nil || concernID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := store.Record(ctx, &audit.Entry{
		ConcernID:    concernID,
		Event:        event,
		DepartmentID: departmentID,
		Detail:       detail,
	})
	if err != nil {
		log.Printf("[relay] audit record concern=%d event=%s: %v", concernID, event, err)
	}
}
