// Package dispatch fans chunks of image paths out to a fixed pool of workers.
package dispatch

// Partition splits paths into contiguous chunks of size elements; the last chunk may be
// shorter. Order is preserved and chunks do not overlap. A size of zero or less is treated as 1.
func Partition(paths []string, size int) [][]string {
	if len(paths) == 0 {
		return nil
	}
	if size <= 0 {
		size = 1
	}
	chunks := make([][]string, 0, (len(paths)+size-1)/size)
	for i := 0; i < len(paths); i += size {
		end := i + size
		if end > len(paths) {
			end = len(paths)
		}
		chunks = append(chunks, paths[i:end:end])
	}
	return chunks
}
