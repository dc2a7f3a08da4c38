package echoapi

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/flare-portal/flare/core"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field != "" {
			ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
		}
	}
}

// IntIDs binds the repeated `id` query param of bulk deletes. Malformed ids are skipped.
type IntIDs struct {
	IDs []int
}

func (ids *IntIDs) Bind(ctx echo.Context) {
	for _, val := range ctx.QueryParams()["id"] {
		if id, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			ids.IDs = append(ids.IDs, id)
		}
	}
}

// queryInt returns the int value of a query param, 0 when absent or malformed.
func queryInt(ctx echo.Context, name string) int {
	i, _ := strconv.Atoi(ctx.QueryParam(name))
	return i
}
