package mqtt

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// errDiscoveryPending guards the discovery-before-state ordering: a state
// publish on a session whose discovery step has not completed is refused.
var errDiscoveryPending = errors.New("state publish before discovery")

// brokerSession is the manager's view of one connection. It is created
// on every successful connect and dropped on any error; it is never
// reused.
type brokerSession struct {
	id                 string
	conn               Session
	started            time.Time
	discoveryPublished bool
	lastSeq            uint64
	published          int
}

func newBrokerSession(conn Session) *brokerSession {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &brokerSession{
		id:      id.String(),
		conn:    conn,
		started: time.Now(),
	}
}
