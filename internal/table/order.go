package table

// Seat traversal orders per table size. Seats are numbered by visual
// position around the felt; traversing the slice left to right is clockwise
// from the top of the layout.
var seatOrders = map[int][]int{
	6: {0, 1, 2, 3, 4, 5},
	9: {0, 1, 2, 3, 4, 5, 6, 7, 8},
}

// nextClockwise returns the first seat in occupied strictly after current in
// clockwise order, wrapping around. Returns -1 when occupied is empty or
// only contains current.
func nextClockwise(maxSeats, current int, occupied map[int]bool) int {
	order := seatOrders[maxSeats]
	start := 0
	for i, s := range order {
		if s == current {
			start = i
			break
		}
	}
	for i := 1; i <= len(order); i++ {
		seat := order[(start+i)%len(order)]
		if seat != current && occupied[seat] {
			return seat
		}
	}
	return -1
}

// clockwiseFrom returns all occupied seats starting at from (inclusive) in
// clockwise order.
func clockwiseFrom(maxSeats, from int, occupied map[int]bool) []int {
	order := seatOrders[maxSeats]
	start := 0
	for i, s := range order {
		if s == from {
			start = i
			break
		}
	}
	out := make([]int, 0, len(occupied))
	for i := 0; i < len(order); i++ {
		seat := order[(start+i)%len(order)]
		if occupied[seat] {
			out = append(out, seat)
		}
	}
	return out
}
