package tenant

import (
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestConversationLocks(t *testing.T) {
	locks := NewConversationLocks()

	if !locks.TryAcquire(1) {
		t.Fatal("first acquire should succeed")
	}
	if locks.TryAcquire(1) {
		t.Fatal("second acquire of the same id should fail")
	}
	if !locks.TryAcquire(2) {
		t.Fatal("independent id should acquire")
	}

	locks.Release(1)
	if !locks.TryAcquire(1) {
		t.Fatal("acquire after release should succeed")
	}

	// Releasing an unheld lock is a no-op.
	locks.Release(99)
}

func TestConversationLocks_Concurrent(t *testing.T) {
	locks := NewConversationLocks()
	const goroutines = 32

	var wg sync.WaitGroup
	winners := make(chan struct{}, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if locks.TryAcquire(7) {
				winners <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(winners)

	n := 0
	for range winners {
		n++
	}
	if n != 1 {
		t.Fatalf("winners = %d, want exactly 1", n)
	}
}

func TestPools_PutAndGet(t *testing.T) {
	pools := NewPools()

	db, err := gorm.Open(sqlite.Open("file:pools1?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	pools.Put("acme", db)

	got, err := pools.Get(Tenant{ID: "acme", DataDSN: "ignored-when-injected"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != db {
		t.Fatal("injected pool not reused")
	}
}

func TestPools_LazyOpenAndReuse(t *testing.T) {
	pools := NewPools()
	ten := Tenant{ID: "lazy", DataDSN: "file:poolslazy?mode=memory&cache=shared", DataDriver: "sqlite"}

	first, err := pools.Get(ten)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	second, err := pools.Get(ten)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if first != second {
		t.Fatal("pool not reused across calls")
	}

	if _, err := pools.Get(Tenant{ID: "bad", DataDSN: "x", DataDriver: "oracle"}); err == nil {
		t.Fatal("unsupported driver should error")
	}
}

func TestPools_DriverDefaulting(t *testing.T) {
	pools := NewPools()
	// A file DSN without an explicit driver defaults to sqlite.
	if _, err := pools.Get(Tenant{ID: "d1", DataDSN: "file:poolsd1?mode=memory&cache=shared"}); err != nil {
		t.Fatalf("sqlite default: %v", err)
	}
}
