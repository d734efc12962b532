package migrate

// Partition splits items into contiguous chunks of at most size elements.
// The chunks share the backing array of items. A size below 1 yields a
// single chunk holding everything.
func Partition[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size < 1 || size >= len(items) {
		return [][]T{items}
	}

	out := make([][]T, 0, (len(items)+size-1)/size)
	for offset := 0; offset < len(items); {
		end := offset + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[offset:end:end])
		offset = end
	}
	return out
}
