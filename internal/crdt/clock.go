package crdt

import (
	"sync"

	"github.com/google/uuid"
)

// LamportClock логические часы Лампорта, задающие updatedAt локальных изменений
// без зависимости от физического времени устройства.
type LamportClock struct {
	nodeID  string     // идентификатор устройства
	counter int64      // монотонно возрастающий счетчик
	mu      sync.Mutex // мьютекс для потокобезопасности
}

// NewLamportClock создает часы с новым идентификатором узла (UUID).
func NewLamportClock() *LamportClock {
	return &LamportClock{nodeID: uuid.New().String()}
}

// RestoreLamportClock восстанавливает часы после перезапуска процесса
// из сохраненного идентификатора узла и значения счетчика.
func RestoreLamportClock(nodeID string, counter int64) *LamportClock {
	if nodeID == "" {
		nodeID = uuid.New().String()
	}
	if counter < 0 {
		counter = 0
	}
	return &LamportClock{nodeID: nodeID, counter: counter}
}

// Tick увеличивает счетчик для нового локального события.
func (lc *LamportClock) Tick() int64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	lc.counter++
	return lc.counter
}

// Witness учитывает удаленную отметку времени:
// counter = max(counter, remote) + 1
func (lc *LamportClock) Witness(remote int64) int64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if remote > lc.counter {
		lc.counter = remote
	}
	lc.counter++
	return lc.counter
}

// Current возвращает текущее значение без изменения.
func (lc *LamportClock) Current() int64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	return lc.counter
}

// NodeID возвращает идентификатор узла.
func (lc *LamportClock) NodeID() string {
	return lc.nodeID
}
