package split

import (
	"sort"
	"strconv"

	"github.com/roach88/dirrepl/internal/ir"
)

// ExtractUSNs returns the distinct sequence numbers stamped on u's attribute
// and value metadata, sorted descending. u is not modified.
//
// An update without attribute-level metadata is malformed: every change
// stamps at least uSNChanged.
func ExtractUSNs(u *ir.Update) ([]int64, error) {
	if len(u.Metadata) == 0 {
		return nil, &SplitError{
			Code:    ErrCodeNoAttributeMetadata,
			Message: "update carries no attribute metadata",
			DN:      u.Entry.DN,
		}
	}

	seen := make(map[int64]bool, len(u.Metadata)+len(u.ValueMetadata))
	var usns []int64
	add := func(usn int64) {
		if !seen[usn] {
			seen[usn] = true
			usns = append(usns, usn)
		}
	}
	for _, md := range u.Metadata {
		add(md.LocalUSN)
	}
	for _, vm := range u.ValueMetadata {
		add(vm.LocalUSN)
	}

	sort.Slice(usns, func(i, j int) bool { return usns[i] > usns[j] })
	return usns, nil
}

// Rebase pops the smallest sequence number off usns (descending) and makes it
// the combined update's own: u.USN, the uSNChanged value and the uSNChanged
// metadata all take that number. It returns the numbers still to be split out,
// in the same descending order.
func Rebase(u *ir.Update, usns []int64) ([]int64, error) {
	if len(usns) == 0 {
		return nil, &SplitError{
			Code:    ErrCodeNoAttributeMetadata,
			Message: "no sequence numbers to rebase onto",
			DN:      u.Entry.DN,
		}
	}
	md, ok := u.FindMetadata(ir.AttrUSNChanged)
	if !ok {
		return nil, &SplitError{
			Code:    ErrCodeMissingUSNChanged,
			Message: "uSNChanged metadata not present",
			DN:      u.Entry.DN,
			Attr:    ir.AttrUSNChanged,
		}
	}

	smallest := usns[len(usns)-1]
	remaining := append([]int64(nil), usns[:len(usns)-1]...)

	u.USN = smallest
	u.Entry.Put(ir.Attribute{Name: ir.AttrUSNChanged, Values: []string{strconv.FormatInt(smallest, 10)}})
	md.LocalUSN = smallest
	u.PutMetadata(md)

	return remaining, nil
}
