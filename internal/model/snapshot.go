package model

// Snapshot is a complete, point-in-time view over queue, sender and breaker
// state, returned by Stats(). Stats always returns a complete snapshot, even
// during shutdown.
type Snapshot struct {
	QueueSize       int
	QueueSizeByLane map[string]int

	ItemsAdmittedTotal map[string]uint64 // by priority
	ItemsRejectedTotal map[string]uint64 // by reason
	OverflowTotal      map[string]uint64 // by lane
	DedupRejectTotal   uint64

	SendsTotal   map[string]uint64 // "endpoint|outcome"
	RetriesTotal map[string]uint64 // "endpoint|attempt"
	BreakerTrans map[string]uint64 // "endpoint|to_state"

	ActiveWorkers     int
	CurrentBatchSize  int
	EndpointRateWaitS map[string]float64
}

func NewSnapshot() Snapshot {
	return Snapshot{
		QueueSizeByLane:    make(map[string]int),
		ItemsAdmittedTotal: make(map[string]uint64),
		ItemsRejectedTotal: make(map[string]uint64),
		OverflowTotal:      make(map[string]uint64),
		SendsTotal:         make(map[string]uint64),
		RetriesTotal:       make(map[string]uint64),
		BreakerTrans:       make(map[string]uint64),
		EndpointRateWaitS:  make(map[string]float64),
	}
}
