package crdt

import (
	"fmt"
	"strconv"
	"strings"
)

// CharID uniquely identifies a character across all replicas. It never
// changes once assigned and is never reused.
type CharID struct {
	Site    string
	Counter uint64
}

// String renders the id as "<site>-<counter>", the wire format from
// section 6.
func (id CharID) String() string {
	return fmt.Sprintf("%s-%d", id.Site, id.Counter)
}

// ParseCharID parses the "<site>-<counter>" wire format. Sites may not
// contain a hyphen-free suffix ambiguity since the counter is always the
// last "-"-delimited field.
func ParseCharID(s string) (CharID, error) {
	i := strings.LastIndex(s, "-")
	if i <= 0 || i == len(s)-1 {
		return CharID{}, fmt.Errorf("crdt: malformed char id %q", s)
	}
	counter, err := strconv.ParseUint(s[i+1:], 10, 64)
	if err != nil {
		return CharID{}, fmt.Errorf("crdt: malformed char id %q: %w", s, err)
	}
	return CharID{Site: s[:i], Counter: counter}, nil
}

// Less orders two CharIDs by site then counter, the tie-break used by
// section 4.1 once the clock comparison is exhausted.
func (id CharID) Less(other CharID) bool {
	if id.Site != other.Site {
		return id.Site < other.Site
	}
	return id.Counter < other.Counter
}
