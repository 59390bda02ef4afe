package session

// garbageTable maps lines cleared in one move to penalty rows sent to the
// opponent. Progressive, not linear: a four-line clear sends all four.
var garbageTable = [...]int{
	0: 0,
	1: 0,
	2: 1,
	3: 2,
	4: 4,
}

// MaxLinesPerClear is the most lines a single piece can clear.
const MaxLinesPerClear = len(garbageTable) - 1

// GarbageFor returns the garbage lines produced by clearing count lines.
// Counts outside the table produce no garbage.
func GarbageFor(count int) int {
	if count < 0 || count >= len(garbageTable) {
		return 0
	}
	return garbageTable[count]
}
