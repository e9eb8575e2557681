package domain

// TurnRecord is one audited invocation. Records are write-only: the relay
// never reads them back, so replies stay derived from caller-supplied
// history alone.
type TurnRecord struct {
	PK            string
	SK            string
	CorrelationID string
	Message       string
	Reply         string
	Status        string
	ErrorCode     string
	TTL           int64
}
