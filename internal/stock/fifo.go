package stock

// Allocate satisfies need against the given batches in the order supplied,
// which callers must keep ascending by batch id so the oldest stock is issued
// first. Batches without available quantity are skipped. The returned
// remaining quantity is greater than zero when demand could not be fully
// satisfied; that is a reportable shortage, not an error.
//
// Allocate is a pure function of its snapshot: identical input always yields
// identical output.
func Allocate(need int64, batches []Batch) ([]Allocation, int64) {
	if need <= 0 {
		return nil, 0
	}
	var allocations []Allocation
	remaining := need
	for _, batch := range batches {
		if remaining == 0 {
			break
		}
		if batch.AvailableQty <= 0 {
			continue
		}
		take := batch.AvailableQty
		if take > remaining {
			take = remaining
		}
		allocations = append(allocations, Allocation{BatchID: batch.ID, Qty: take})
		remaining -= take
	}
	return allocations, remaining
}
