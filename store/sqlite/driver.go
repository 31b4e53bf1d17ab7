package sqlite

import (
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/finance-metrics/ledger"
)

// Classifier is the text-level classification the SQL functions expose.
// *classify.Classifier satisfies it.
type Classifier interface {
	NominalEligible(name, category string) bool
	OtherIncome(name, typ string) bool
	Role(name, typ string, r ledger.Role) bool
}

var driverSeq atomic.Int64

// registerDriver registers a sqlite3 driver whose connections carry the
// classifier's functions and returns its name. database/sql drivers are
// global, so every store gets its own name.
func registerDriver(cl Classifier) string {
	name := fmt.Sprintf("sqlite3_fm_%d", driverSeq.Add(1))
	sql.Register(name, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return registerFunctions(conn, cl)
		},
	})
	return name
}

func registerFunctions(conn *sqlite3.SQLiteConn, cl Classifier) error {
	funcs := []struct {
		name string
		impl any
	}{
		{"fm_nominal_eligible", func(name, category string) int64 {
			return flag(cl.NominalEligible(name, category))
		}},
		{"fm_other_income", func(name, typ string) int64 {
			return flag(cl.OtherIncome(name, typ))
		}},
		{"fm_role", func(name, typ string, role int64) int64 {
			return flag(cl.Role(name, typ, ledger.Role(role)))
		}},
	}
	for _, f := range funcs {
		if err := conn.RegisterFunc(f.name, f.impl, true); err != nil {
			return fmt.Errorf("failed to register %s: %w", f.name, err)
		}
	}
	return nil
}

func flag(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
