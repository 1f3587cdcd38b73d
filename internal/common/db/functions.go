package db

import (
	"database/sql/driver"
	"fmt"

	"golang.org/x/text/cases"
	"modernc.org/sqlite"
)

// SQLite's LIKE only folds ASCII, so station search compares casefold()ed
// operands instead. Registered for every connection the driver opens.
func init() {
	if err := sqlite.RegisterDeterministicScalarFunction("casefold", 1, casefold); err != nil {
		panic(fmt.Sprintf("registering casefold: %v", err))
	}
}

func casefold(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return cases.Fold().String(v), nil
	case []byte:
		return cases.Fold().String(string(v)), nil
	default:
		return v, nil
	}
}
