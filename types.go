package asyncsql

// Kind 语句类型：查询或变更
type Kind int

const (
	// KindQuery 返回行集的查询
	KindQuery Kind = iota
	// KindMutate INSERT/UPDATE/DELETE 等变更语句
	KindMutate
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindMutate:
		return "mutate"
	default:
		return "unknown"
	}
}

// Record 单行记录：列名 -> 标量值
type Record map[string]any

// RowSet 有序行集
type RowSet []Record

// UpdateOutcome 变更结果
type UpdateOutcome struct {
	AffectedCount int64   `json:"affected_count"`
	GeneratedKeys []int64 `json:"generated_keys"`
}

// Result 单条语句的执行结果，Kind 决定 Rows 与 Update 哪个有效
type Result struct {
	Kind   Kind           `json:"kind"`
	Rows   RowSet         `json:"rows,omitempty"`
	Update *UpdateOutcome `json:"update,omitempty"`
}

// TxState 连接上的事务状态，单向流转
type TxState int

const (
	TxNotStarted TxState = iota
	TxActive
	TxCommitted
	TxRolledBack
)

// String returns the string representation of TxState
func (s TxState) String() string {
	switch s {
	case TxNotStarted:
		return "not_started"
	case TxActive:
		return "active"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Terminal 是否已到达终态
func (s TxState) Terminal() bool {
	return s == TxCommitted || s == TxRolledBack
}
