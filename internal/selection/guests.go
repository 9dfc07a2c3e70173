package selection

import (
	"sort"
	"strconv"
	"strings"
)

type guestMemo struct {
	key   string
	count int
	ok    bool
}

// CountedGuests returns the number of guests eligible for menu selection:
// the sum of accommodation quantities whose parameter is flagged as counted
// for the menu. The value is memoized on the quantities it derives from.
func (t *Tree) CountedGuests() int {
	key := guestKey(t.item.Params, t.item.Specs)
	if t.guests.ok && t.guests.key == key {
		return t.guests.count
	}
	total := 0
	for param, qty := range t.item.Params {
		if spec, ok := t.item.Specs[param]; ok && spec.CountedForMenu && qty > 0 {
			total += qty
		}
	}
	t.guests = guestMemo{key: key, count: total, ok: true}
	return total
}

func guestKey(params map[string]int, specs map[string]ParamSpec) string {
	names := make([]string, 0, len(params))
	for param := range params {
		names = append(names, param)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, param := range names {
		b.WriteString(param)
		b.WriteByte('=')
		b.WriteString(strconv.Itoa(params[param]))
		if specs[param].CountedForMenu {
			b.WriteByte('*')
		}
		b.WriteByte(';')
	}
	return b.String()
}
