package uow

// TxState is the transaction state of a session.
type TxState int

const (
	// Idle means no transaction was opened yet.
	Idle TxState = iota
	// Active means a transaction is open.
	Active
	// Committed means the last transaction committed.
	Committed
	// RolledBack means the last transaction rolled back.
	RolledBack
	// Failed means the driver rejected the last commit or rollback.
	Failed
)

func (s TxState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Closed reports whether s ends a transaction.
func (s TxState) Closed() bool {
	return s == Committed || s == RolledBack || s == Failed
}
