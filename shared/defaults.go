package shared

const (
	// UpsizeLoadFactor triggers a hash index grow once length/capacity
	// would exceed this ratio after an insert.
	UpsizeLoadFactor = 0.85

	// DownsizeLoadFactor triggers a hash index shrink once length/capacity
	// falls below this ratio after a delete, and never below Minsize.
	//
	// A 0.35/0.50 hysteresis band on this trigger was considered, to
	// damp oscillation under sustained light load, but is not adopted
	// here because it would let the load factor sit briefly below 0.40,
	// violating the (0.40, 0.85) bound the cache's invariants pin.
	DownsizeLoadFactor = 0.40

	// GrowthStep bounds how much a single upsize can add in one step; the
	// new capacity is min(capacity*2, capacity+GrowthStep).
	GrowthStep = 1 << 20

	// Minsize is the smallest capacity the hash index ever shrinks to.
	Minsize = 1

	// MaxCapacity is the implementation-chosen ceiling on hash index
	// capacity; an upsize past it is clamped to it, and an insert that
	// needs to grow a table already at this capacity fails with
	// ErrOutOfMemory.
	MaxCapacity = 1 << 32
)
