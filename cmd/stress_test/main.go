package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/resource-allocator/internal/adapter/storage"
	"github.com/rl1809/resource-allocator/internal/core/domain"
	"github.com/rl1809/resource-allocator/internal/core/service"
	"github.com/rl1809/resource-allocator/internal/port"
)

const (
	initialStock    = 20
	totalRequests   = 50
	doubleFulfills  = 30
	lockTimeout     = 5 * time.Second
	redisLockTTL    = 10 * time.Second
	stressReason    = "stress test allocation"
	stressEmployee  = "stress-employee@corp.test"
	stressManager   = "stress-manager@corp.test"
	stressStoreUser = "stress-store@corp.test"
)

var (
	employee = domain.Identity{ID: stressEmployee, Role: domain.RoleEmployee}
	manager  = domain.Identity{ID: stressManager, Role: domain.RoleManager}
	keeper   = domain.Identity{ID: stressStoreUser, Role: domain.RoleStore}
)

func main() {
	ctx := context.Background()
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	// Redis locks when REDIS_ADDR is set, in-process locks otherwise
	var locker port.Locker = storage.NewMemoryLocker(lockTimeout)
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		defer rdb.Close()
		locker = storage.NewRedisLocker(rdb, lockTimeout, redisLockTTL, log)
		fmt.Printf("Using redis locks at %s\n", addr)
	}

	workflow := service.NewWorkflow(storage.NewMemoryStore(), locker, service.WithLogger(log))

	ok := scarceStock(ctx, workflow, log)
	ok = doubleFulfill(ctx, workflow, log) && ok
	if !ok {
		os.Exit(1)
	}
}

// scarceStock fulfills many approved requests for a resource with less stock
// than requests. Exactly initialStock of them may succeed.
func scarceStock(ctx context.Context, workflow *service.Workflow, log *logrus.Logger) bool {
	res, err := workflow.AddResource(ctx, keeper, "stress-laptop", initialStock)
	if err != nil {
		log.Fatalf("failed to add resource: %v", err)
	}

	ids := make([]string, 0, totalRequests)
	for i := 0; i < totalRequests; i++ {
		ids = append(ids, approvedRequest(ctx, workflow, res.ID, log))
	}

	var successCount, outOfStockCount, otherCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()

			_, err := workflow.Fulfill(ctx, keeper, id)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrOutOfStock):
				outOfStockCount.Add(1)
			default:
				log.WithError(err).Warn("unexpected fulfill error")
				otherCount.Add(1)
			}
		}(id)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	outOfStock := outOfStockCount.Load()

	fmt.Println("========== SCARCE STOCK RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Fulfilled:        %d\n", success)
	fmt.Printf("Out of stock:     %d\n", outOfStock)
	fmt.Printf("Other errors:     %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	pass := true
	if success == initialStock && outOfStock == totalRequests-initialStock {
		fmt.Printf("PASS: Exactly %d requests fulfilled, %d out of stock\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d fulfilled/%d out of stock, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, outOfStock)
		pass = false
	}

	final := availableQuantity(ctx, workflow, res.ID, log)
	fmt.Printf("Final Stock:      %d\n", final)
	if final == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", final)
		pass = false
	}
	return pass
}

// doubleFulfill races many store users on a single approved request. Stock
// must move exactly once.
func doubleFulfill(ctx context.Context, workflow *service.Workflow, log *logrus.Logger) bool {
	res, err := workflow.AddResource(ctx, keeper, "stress-monitor", 5)
	if err != nil {
		log.Fatalf("failed to add resource: %v", err)
	}
	id := approvedRequest(ctx, workflow, res.ID, log)

	var successCount, invalidCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < doubleFulfills; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := workflow.Fulfill(ctx, keeper, id)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInvalidState):
				invalidCount.Add(1)
			default:
				log.WithError(err).Warn("unexpected fulfill error")
			}
		}()
	}
	wg.Wait()

	fmt.Println("========== DOUBLE FULFILL RESULTS ==========")
	fmt.Printf("Attempts:         %d\n", doubleFulfills)
	fmt.Printf("Fulfilled:        %d\n", successCount.Load())
	fmt.Printf("Invalid state:    %d\n", invalidCount.Load())
	fmt.Println("============================================")

	final := availableQuantity(ctx, workflow, res.ID, log)
	if successCount.Load() == 1 && invalidCount.Load() == doubleFulfills-1 && final == 4 {
		fmt.Println("PASS: Request fulfilled once, stock decremented once")
		return true
	}
	fmt.Printf("FAIL: Expected 1 fulfillment and stock 4, got %d and %d\n", successCount.Load(), final)
	return false
}

func approvedRequest(ctx context.Context, workflow *service.Workflow, resourceID string, log *logrus.Logger) string {
	req, err := workflow.Submit(ctx, employee, service.SubmitInput{ResourceID: resourceID, Reason: stressReason})
	if err != nil {
		log.Fatalf("failed to submit: %v", err)
	}
	if _, err := workflow.Approve(ctx, manager, req.ID); err != nil {
		log.Fatalf("failed to approve: %v", err)
	}
	return req.ID
}

func availableQuantity(ctx context.Context, workflow *service.Workflow, resourceID string, log *logrus.Logger) int {
	seq, err := workflow.ListResources(ctx, keeper)
	if err != nil {
		log.Fatalf("failed to list resources: %v", err)
	}
	resources, err := service.Collect(seq)
	if err != nil {
		log.Fatalf("failed to list resources: %v", err)
	}
	for _, res := range resources {
		if res.ID == resourceID {
			return res.AvailableQuantity
		}
	}
	log.Fatalf("resource %s not found", resourceID)
	return 0
}
