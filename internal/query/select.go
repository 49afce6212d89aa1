package query

import (
	"cmp"
	"slices"
	"strings"

	"golang.org/x/text/cases"

	"dormpay/internal/core"
)

type SortField string

const (
	SortByName            SortField = "name"
	SortByDate            SortField = "date"
	SortByRoom            SortField = "room"
	SortByFloor           SortField = "floor"
	SortByAmount          SortField = "amount"
	SortByLastPaymentDate SortField = "lastPaymentDate"
)

type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// ParseSortField maps user input to a field; anything unknown sorts by name.
func ParseSortField(s string) SortField {
	switch f := SortField(s); f {
	case SortByName, SortByDate, SortByRoom, SortByFloor, SortByAmount, SortByLastPaymentDate:
		return f
	default:
		return SortByName
	}
}

func ParseSortOrder(s string) SortOrder {
	if strings.EqualFold(s, string(Desc)) {
		return Desc
	}
	return Asc
}

// Sort returns a stably sorted copy of students.
func Sort(students []core.Student, field SortField, order SortOrder) []core.Student {
	out := slices.Clone(students)
	fold := cases.Fold()

	var compare func(a, b core.Student) int
	switch ParseSortField(string(field)) {
	case SortByDate:
		compare = func(a, b core.Student) int {
			return cmp.Compare(dayStamp(a.DateAdded), dayStamp(b.DateAdded))
		}
	case SortByRoom:
		compare = func(a, b core.Student) int {
			return cmp.Compare(core.LeadingInt(a.RoomNumber), core.LeadingInt(b.RoomNumber))
		}
	case SortByFloor:
		compare = func(a, b core.Student) int {
			return cmp.Compare(core.LeadingInt(a.FloorNumber), core.LeadingInt(b.FloorNumber))
		}
	case SortByAmount:
		compare = func(a, b core.Student) int {
			return TotalConfirmed(a).Cmp(TotalConfirmed(b))
		}
	case SortByLastPaymentDate:
		compare = func(a, b core.Student) int {
			return cmp.Compare(lastPaymentStamp(a), lastPaymentStamp(b))
		}
	default:
		compare = func(a, b core.Student) int {
			return strings.Compare(fold.String(a.Name), fold.String(b.Name))
		}
	}

	if order == Desc {
		asc := compare
		compare = func(a, b core.Student) int { return asc(b, a) }
	}
	slices.SortStableFunc(out, compare)
	return out
}

// Filter keeps students whose name or department contains q ignoring case,
// or whose room number contains q verbatim. An empty q keeps everyone.
func Filter(students []core.Student, q string) []core.Student {
	if q == "" {
		return slices.Clone(students)
	}
	fold := cases.Fold()
	needle := fold.String(q)
	out := make([]core.Student, 0, len(students))
	for _, s := range students {
		if strings.Contains(fold.String(s.Name), needle) ||
			strings.Contains(fold.String(s.Department), needle) ||
			strings.Contains(s.RoomNumber, q) {
			out = append(out, s)
		}
	}
	return out
}

// Select filters then sorts.
func Select(students []core.Student, q string, field SortField, order SortOrder) []core.Student {
	return Sort(Filter(students, q), field, order)
}

func dayStamp(d core.Date) int64 {
	if d.IsZero() {
		return 0
	}
	return d.Unix()
}

func lastPaymentStamp(s core.Student) int64 {
	p, ok := LastConfirmedPayment(s)
	if !ok {
		return 0
	}
	return dayStamp(p.Date)
}
